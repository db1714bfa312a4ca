package viewer

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterboxExactFit(t *testing.T) {
	m, ok := Letterbox(image.Pt(1920, 1080), image.Pt(1280, 720))
	require.True(t, ok)
	assert.Equal(t, image.Pt(1280, 720), m.Scaled)
	assert.Equal(t, image.Pt(0, 0), m.Padding)

	x, y, ok := m.ToRemote(640, 360)
	require.True(t, ok)
	assert.Equal(t, 960, x)
	assert.Equal(t, 540, y)
}

func TestLetterboxPadding(t *testing.T) {
	m, ok := Letterbox(image.Pt(1920, 1080), image.Pt(960, 960))
	require.True(t, ok)
	assert.Equal(t, image.Pt(960, 540), m.Scaled)
	assert.Equal(t, image.Pt(0, 210), m.Padding)
	assert.Equal(t, image.Rect(0, 210, 960, 750), m.Dest())

	_, _, ok = m.ToRemote(480, 100)
	assert.False(t, ok, "top bar")
	_, _, ok = m.ToRemote(480, 750)
	assert.False(t, ok, "bottom bar")

	x, y, ok := m.ToRemote(0, 210)
	require.True(t, ok)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)

	x, y, ok = m.ToRemote(959, 749)
	require.True(t, ok)
	assert.Equal(t, 1918, x)
	assert.Equal(t, 1078, y)
}

func TestLetterboxPillarbox(t *testing.T) {
	m, ok := Letterbox(image.Pt(800, 600), image.Pt(1600, 900))
	require.True(t, ok)
	assert.Equal(t, image.Pt(1200, 900), m.Scaled)
	assert.Equal(t, image.Pt(200, 0), m.Padding)

	_, _, ok = m.ToRemote(199, 450)
	assert.False(t, ok)
	_, _, ok = m.ToRemote(1400, 450)
	assert.False(t, ok)
}

func TestToRemoteStaysInBounds(t *testing.T) {
	sizes := []struct{ remote, render image.Point }{
		{image.Pt(1920, 1080), image.Pt(333, 211)},
		{image.Pt(1024, 768), image.Pt(640, 640)},
		{image.Pt(3, 2), image.Pt(97, 61)},
		{image.Pt(2560, 1440), image.Pt(2560, 1440)},
	}
	for _, sz := range sizes {
		m, ok := Letterbox(sz.remote, sz.render)
		require.True(t, ok)
		dest := m.Dest()
		for y := -1; y <= sz.render.Y; y += 3 {
			for x := -1; x <= sz.render.X; x += 3 {
				hx, hy, ok := m.ToRemote(x, y)
				if !image.Pt(x, y).In(dest) {
					assert.False(t, ok, "(%d,%d) is padding for %v", x, y, sz)
					continue
				}
				require.True(t, ok, "(%d,%d) inside %v", x, y, dest)
				require.True(t, hx >= 0 && hx < sz.remote.X && hy >= 0 && hy < sz.remote.Y,
					"(%d,%d) -> (%d,%d) outside %v", x, y, hx, hy, sz.remote)
			}
		}
	}
}

func TestLetterboxUnknownSize(t *testing.T) {
	_, ok := Letterbox(image.Pt(0, 0), image.Pt(1280, 720))
	assert.False(t, ok)
	_, ok = Letterbox(image.Pt(1920, 1080), image.Pt(0, 720))
	assert.False(t, ok)
}

func TestGeometry(t *testing.T) {
	var g Geometry
	_, ok := g.Map()
	assert.False(t, ok)

	g.SetSurface(1280, 720)
	_, ok = g.Map()
	assert.False(t, ok, "no frame yet")

	assert.True(t, g.SetRemote(1920, 1080))
	assert.False(t, g.SetRemote(1920, 1080))
	m, ok := g.Map()
	require.True(t, ok)
	assert.Equal(t, image.Pt(1280, 720), m.Scaled)

	g.SetSurface(640, 720)
	m, ok = g.Map()
	require.True(t, ok)
	assert.Equal(t, image.Pt(640, 360), m.Scaled)
	assert.Equal(t, image.Pt(0, 180), m.Padding)

	assert.True(t, g.SetRemote(1280, 1024))
	m, _ = g.Map()
	assert.Equal(t, image.Pt(1280, 1024), m.Remote)
}
