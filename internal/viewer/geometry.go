package viewer

import (
	"image"
	"math"
	"sync"
	"sync/atomic"
)

// CoordinateMap relates the render surface to the host's native
// resolution. The remote image is scaled to fit and centered; the rest of
// the surface is padding.
type CoordinateMap struct {
	Remote  image.Point
	Render  image.Point
	Scaled  image.Point
	Padding image.Point
	Scale   float64
}

// Letterbox computes the map. It reports false while either size is
// unknown.
func Letterbox(remote, render image.Point) (CoordinateMap, bool) {
	if remote.X <= 0 || remote.Y <= 0 || render.X <= 0 || render.Y <= 0 {
		return CoordinateMap{}, false
	}
	scale := math.Min(float64(render.X)/float64(remote.X), float64(render.Y)/float64(remote.Y))
	scaled := image.Pt(fit(remote.X, scale, render.X), fit(remote.Y, scale, render.Y))
	return CoordinateMap{
		Remote:  remote,
		Render:  render,
		Scaled:  scaled,
		Padding: image.Pt((render.X-scaled.X)/2, (render.Y-scaled.Y)/2),
		Scale:   scale,
	}, true
}

func fit(n int, scale float64, limit int) int {
	v := int(math.Round(float64(n) * scale))
	return min(max(v, 1), limit)
}

// Dest is where the scaled image is drawn on the surface.
func (m CoordinateMap) Dest() image.Rectangle {
	return image.Rectangle{Min: m.Padding, Max: m.Padding.Add(m.Scaled)}
}

// ToRemote maps a surface point to host pixels. Points on the padding are
// rejected. Accepted results satisfy 0 <= x < Remote.X and 0 <= y < Remote.Y.
func (m CoordinateMap) ToRemote(x, y int) (int, int, bool) {
	rx, ry := x-m.Padding.X, y-m.Padding.Y
	if rx < 0 || ry < 0 || rx >= m.Scaled.X || ry >= m.Scaled.Y {
		return 0, 0, false
	}
	hx := int(int64(rx) * int64(m.Remote.X) / int64(m.Scaled.X))
	hy := int(int64(ry) * int64(m.Remote.Y) / int64(m.Scaled.Y))
	return hx, hy, true
}

// Geometry publishes the current CoordinateMap. The frame receiver reports
// remote sizes and the window reports surface sizes; readers never lock.
type Geometry struct {
	mu     sync.Mutex
	remote image.Point
	render image.Point
	cur    atomic.Pointer[CoordinateMap]
}

// SetRemote records the size of a decoded frame and reports whether it
// changed.
func (g *Geometry) SetRemote(w, h int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := image.Pt(w, h)
	if p == g.remote {
		return false
	}
	g.remote = p
	g.publish()
	return true
}

// SetSurface records the render surface size.
func (g *Geometry) SetSurface(w, h int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := image.Pt(w, h)
	if p == g.render {
		return
	}
	g.render = p
	g.publish()
}

func (g *Geometry) publish() {
	m, ok := Letterbox(g.remote, g.render)
	if !ok {
		g.cur.Store(nil)
		return
	}
	g.cur.Store(&m)
}

// Map returns the current map, or false before the first frame and the
// first surface size are both known.
func (g *Geometry) Map() (CoordinateMap, bool) {
	m := g.cur.Load()
	if m == nil {
		return CoordinateMap{}, false
	}
	return *m, true
}
