// Package event defines the control events a viewer sends to a host and
// their JSON wire encoding: one object per message, discriminated by "type".
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"remotedesk/internal/keys"
)

// Type is the wire discriminator of a control event.
type Type string

const (
	TypeMouseMove        Type = "mouse_move"
	TypeMouseClick       Type = "mouse_click"
	TypeMouseDoubleClick Type = "mouse_dblclick"
	TypeMouseScroll      Type = "mouse_scroll"
	TypeKey              Type = "key"
)

// Types lists every known event type.
var Types = []Type{TypeMouseMove, TypeMouseClick, TypeMouseDoubleClick, TypeMouseScroll, TypeKey}

type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

func (b Button) valid() bool {
	return b == ButtonLeft || b == ButtonRight || b == ButtonMiddle
}

type Action string

const (
	ActionDown Action = "down"
	ActionUp   Action = "up"
)

func (a Action) valid() bool { return a == ActionDown || a == ActionUp }

type Direction string

const (
	ScrollUp   Direction = "up"
	ScrollDown Direction = "down"
)

func (d Direction) valid() bool { return d == ScrollUp || d == ScrollDown }

// Event is one of MouseMove, MouseClick, MouseDoubleClick, MouseScroll or Key.
type Event interface {
	Type() Type
}

// MouseMove moves the pointer to absolute host coordinates.
type MouseMove struct {
	X, Y int
}

// MouseClick presses or releases a button at the current pointer position.
// Down and up always travel as separate events.
type MouseClick struct {
	Button Button
	Action Action
}

// MouseDoubleClick double-clicks, at (X, Y) when set or at the current
// pointer position otherwise.
type MouseDoubleClick struct {
	Button Button
	X, Y   *int
}

// MouseScroll scrolls one or Delta units.
type MouseScroll struct {
	Direction Direction
	Delta     *int
}

// Key presses or releases a logical key.
type Key struct {
	Key    string
	Action Action
}

func (MouseMove) Type() Type        { return TypeMouseMove }
func (MouseClick) Type() Type       { return TypeMouseClick }
func (MouseDoubleClick) Type() Type { return TypeMouseDoubleClick }
func (MouseScroll) Type() Type      { return TypeMouseScroll }
func (Key) Type() Type              { return TypeKey }

// ErrUnknownVariant matches, via errors.Is, any UnknownVariantError.
var ErrUnknownVariant = errors.New("unknown control event type")

// UnknownVariantError is returned by Decode for a well-formed message whose
// type tag is not recognized.
type UnknownVariantError struct {
	Type string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown control event type %q", e.Type)
}

func (e *UnknownVariantError) Is(target error) bool { return target == ErrUnknownVariant }

// DecodeError is returned for a message that is not valid JSON or whose
// fields do not satisfy its variant.
type DecodeError struct {
	Type Type
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return "decode control event: " + e.Err.Error()
	}
	return fmt.Sprintf("decode %s event: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wire is the flat JSON shape shared by all variants.
type wire struct {
	Type      Type      `json:"type"`
	X         *int      `json:"x,omitempty"`
	Y         *int      `json:"y,omitempty"`
	Button    Button    `json:"button,omitempty"`
	Action    Action    `json:"action,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Delta     *int      `json:"delta,omitempty"`
	Key       string    `json:"key,omitempty"`
}

// Encode validates ev and returns its wire form.
func Encode(ev Event) ([]byte, error) {
	var w wire
	switch e := ev.(type) {
	case MouseMove:
		w = wire{Type: TypeMouseMove, X: intp(e.X), Y: intp(e.Y)}
	case MouseClick:
		w = wire{Type: TypeMouseClick, Button: e.Button, Action: e.Action}
	case MouseDoubleClick:
		w = wire{Type: TypeMouseDoubleClick, Button: e.Button, X: e.X, Y: e.Y}
	case MouseScroll:
		w = wire{Type: TypeMouseScroll, Direction: e.Direction, Delta: e.Delta}
	case Key:
		w = wire{Type: TypeKey, Key: e.Key, Action: e.Action}
	default:
		return nil, fmt.Errorf("encode control event: unsupported %T", ev)
	}
	if _, err := w.event(); err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Decode parses one wire message. Errors are *DecodeError or
// *UnknownVariantError.
func Decode(data []byte) (Event, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return w.event()
}

func (w wire) event() (Event, error) {
	fail := func(format string, args ...any) (Event, error) {
		return nil, &DecodeError{Type: w.Type, Err: fmt.Errorf(format, args...)}
	}
	switch w.Type {
	case "":
		return fail("missing type")
	case TypeMouseMove:
		if w.X == nil || w.Y == nil {
			return fail("x and y are required")
		}
		return MouseMove{X: *w.X, Y: *w.Y}, nil
	case TypeMouseClick:
		if !w.Button.valid() {
			return fail("invalid button %q", w.Button)
		}
		if !w.Action.valid() {
			return fail("invalid action %q", w.Action)
		}
		return MouseClick{Button: w.Button, Action: w.Action}, nil
	case TypeMouseDoubleClick:
		if !w.Button.valid() {
			return fail("invalid button %q", w.Button)
		}
		if (w.X == nil) != (w.Y == nil) {
			return fail("x and y must be given together")
		}
		return MouseDoubleClick{Button: w.Button, X: w.X, Y: w.Y}, nil
	case TypeMouseScroll:
		if !w.Direction.valid() {
			return fail("invalid direction %q", w.Direction)
		}
		if w.Delta != nil && *w.Delta < 0 {
			return fail("negative delta %d", *w.Delta)
		}
		return MouseScroll{Direction: w.Direction, Delta: w.Delta}, nil
	case TypeKey:
		if !keys.IsLogical(w.Key) {
			return fail("invalid key %q", w.Key)
		}
		if !w.Action.valid() {
			return fail("invalid action %q", w.Action)
		}
		return Key{Key: w.Key, Action: w.Action}, nil
	}
	return nil, &UnknownVariantError{Type: string(w.Type)}
}

func intp(v int) *int { return &v }

// Point returns pointers suitable for MouseDoubleClick coordinates.
func Point(x, y int) (*int, *int) { return intp(x), intp(y) }
