// Package input synthesizes mouse and keyboard input on the host.
package input

import (
	"fmt"
	"image"

	"github.com/go-vgo/robotgo"

	"remotedesk/internal/event"
	"remotedesk/internal/keys"
)

// robotgo spells a few logical keys differently.
var keyNames = map[string]string{
	keys.Control: "ctrl",
	keys.Win:     "cmd",
	keys.Escape:  "esc",
}

// Injector drives robotgo. Coordinates are relative to the captured display
// and offset by Origin, the display's top-left corner on the desktop.
type Injector struct {
	Origin image.Point
}

func (in *Injector) Move(x, y int) error {
	robotgo.Move(in.Origin.X+x, in.Origin.Y+y)
	return nil
}

func (in *Injector) MouseDown(b event.Button) error {
	if err := robotgo.Toggle(string(b), "down"); err != nil {
		return fmt.Errorf("press %s: %w", b, err)
	}
	return nil
}

func (in *Injector) MouseUp(b event.Button) error {
	if err := robotgo.Toggle(string(b), "up"); err != nil {
		return fmt.Errorf("release %s: %w", b, err)
	}
	return nil
}

func (in *Injector) DoubleClick(b event.Button) error {
	robotgo.Click(string(b), true)
	return nil
}

func (in *Injector) KeyDown(key string) error {
	if err := robotgo.KeyToggle(keyName(key), "down"); err != nil {
		return fmt.Errorf("press key %q: %w", key, err)
	}
	return nil
}

func (in *Injector) KeyUp(key string) error {
	if err := robotgo.KeyToggle(keyName(key), "up"); err != nil {
		return fmt.Errorf("release key %q: %w", key, err)
	}
	return nil
}

func (in *Injector) Scroll(dir event.Direction, n int) error {
	robotgo.ScrollDir(n, string(dir))
	return nil
}

func keyName(key string) string {
	if n, ok := keyNames[key]; ok {
		return n
	}
	return key
}
