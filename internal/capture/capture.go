// Package capture grabs the host's screen.
package capture

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Display captures one physical display.
type Display struct {
	Index int
}

// Open checks that display index exists.
func Open(index int) (*Display, error) {
	n := screenshot.NumActiveDisplays()
	if index < 0 || index >= n {
		return nil, fmt.Errorf("display %d not available (%d active)", index, n)
	}
	return &Display{Index: index}, nil
}

// Bounds is the display rectangle in desktop coordinates.
func (d *Display) Bounds() image.Rectangle {
	return screenshot.GetDisplayBounds(d.Index)
}

// Grab captures the whole display at its native resolution.
func (d *Display) Grab() (image.Image, error) {
	img, err := screenshot.CaptureRect(d.Bounds())
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", d.Index, err)
	}
	return img, nil
}
