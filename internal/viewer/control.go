package viewer

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"math"
	"strings"

	"remotedesk/internal/event"
	"remotedesk/internal/keys"
	"remotedesk/internal/metrics"
	"remotedesk/internal/session"
)

const DefaultInputQueue = 256

type MouseKind int

const (
	MouseMoved MouseKind = iota
	MousePressed
	MouseReleased
	MouseDoubleClicked
	MouseWheel
)

// RawMouseEvent is pointer input in render surface coordinates. WheelY is
// positive when scrolling up.
type RawMouseEvent struct {
	Kind   MouseKind
	X, Y   int
	Button event.Button
	WheelY float64
}

// RawKeyEvent is a platform key event. Code is the platform key name and
// Char the produced character, if any.
type RawKeyEvent struct {
	Code string
	Char rune
	Down bool
}

// InputSource delivers local input on its own goroutine.
type InputSource interface {
	Subscribe(onMouse func(RawMouseEvent), onKey func(RawKeyEvent))
}

type rawInput struct {
	mouse *RawMouseEvent
	key   *RawKeyEvent
}

// ControlSource turns local input into control events. Callbacks only
// enqueue; mapping, encoding and sending happen on Run's goroutine.
type ControlSource struct {
	out     Sender
	geom    *Geometry
	queue   chan rawInput
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Owned by Run.
	pointer     image.Point
	pointerSent bool
	ctrlFor     string // key that a synthesized control press wraps
	// Physical keys held per logical modifier. Left and right keys share
	// one logical name, so only the first press and last release are sent.
	held map[string]map[string]struct{}
}

func NewControlSource(out Sender, geom *Geometry, queueSize int, logger *slog.Logger, m *metrics.Metrics) *ControlSource {
	if queueSize <= 0 {
		queueSize = DefaultInputQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &ControlSource{
		out:     out,
		geom:    geom,
		queue:   make(chan rawInput, queueSize),
		logger:  logger,
		metrics: m,
		held:    make(map[string]map[string]struct{}),
	}
}

// Attach subscribes to src.
func (c *ControlSource) Attach(src InputSource) {
	src.Subscribe(c.OnMouse, c.OnKey)
}

// OnMouse never blocks. A full queue drops the event.
func (c *ControlSource) OnMouse(ev RawMouseEvent) { c.enqueue(rawInput{mouse: &ev}) }

// OnKey never blocks. A full queue drops the event.
func (c *ControlSource) OnKey(ev RawKeyEvent) { c.enqueue(rawInput{key: &ev}) }

func (c *ControlSource) enqueue(in rawInput) {
	select {
	case c.queue <- in:
	default:
		c.metrics.InputDropped.WithLabelValues(metrics.DropQueueFull).Inc()
	}
}

// Run forwards queued input until ctx is cancelled.
func (c *ControlSource) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-c.queue:
			if in.mouse != nil {
				c.mouse(*in.mouse)
			} else if in.key != nil {
				c.key(*in.key)
			}
		}
	}
}

func (c *ControlSource) mouse(ev RawMouseEvent) {
	m, ok := c.geom.Map()
	if !ok {
		c.metrics.InputDropped.WithLabelValues(metrics.DropNoFrame).Inc()
		return
	}
	x, y, inside := m.ToRemote(ev.X, ev.Y)

	switch ev.Kind {
	case MouseMoved:
		if !inside {
			c.metrics.InputDropped.WithLabelValues(metrics.DropOutside).Inc()
			return
		}
		if c.pointerSent && c.pointer == image.Pt(x, y) {
			return
		}
		c.moveTo(x, y)

	case MousePressed, MouseReleased:
		action := event.ActionDown
		if ev.Kind == MouseReleased {
			action = event.ActionUp
		}
		if inside {
			if !c.pointerSent || c.pointer != image.Pt(x, y) {
				c.moveTo(x, y)
			}
		} else if action == event.ActionDown {
			c.metrics.InputDropped.WithLabelValues(metrics.DropOutside).Inc()
			return
		}
		// A release over the padding still goes out so the host button
		// is not left pressed.
		c.send(event.MouseClick{Button: ev.Button, Action: action})

	case MouseDoubleClicked:
		if !inside {
			c.metrics.InputDropped.WithLabelValues(metrics.DropOutside).Inc()
			return
		}
		px, py := event.Point(x, y)
		if c.send(event.MouseDoubleClick{Button: ev.Button, X: px, Y: py}) {
			c.pointer, c.pointerSent = image.Pt(x, y), true
		}

	case MouseWheel:
		if !inside {
			c.metrics.InputDropped.WithLabelValues(metrics.DropOutside).Inc()
			return
		}
		if ev.WheelY == 0 {
			return
		}
		dir := event.ScrollUp
		if ev.WheelY < 0 {
			dir = event.ScrollDown
		}
		delta := max(1, int(math.Round(math.Abs(ev.WheelY))))
		c.send(event.MouseScroll{Direction: dir, Delta: &delta})
	}
}

func (c *ControlSource) moveTo(x, y int) {
	if c.send(event.MouseMove{X: x, Y: y}) {
		c.pointer, c.pointerSent = image.Pt(x, y), true
	}
}

func (c *ControlSource) key(ev RawKeyEvent) {
	m, ok := keys.Translate(ev.Code, ev.Char)
	if !ok {
		c.metrics.InputDropped.WithLabelValues(metrics.DropUnmapped).Inc()
		c.logger.Debug("dropping unmapped key", "code", ev.Code, "char", ev.Char)
		return
	}
	action := event.ActionUp
	if ev.Down {
		action = event.ActionDown
	}
	if keys.IsModifier(m.Key) && !c.trackModifier(m.Key, ev) {
		c.logger.Debug("modifier already reported", "key", m.Key, "code", ev.Code, "down", ev.Down)
		return
	}

	// Control characters arrive as the plain letter; hold control around
	// it unless the user already does.
	if m.Control && len(c.held[keys.Control]) == 0 && ev.Down && c.ctrlFor == "" {
		c.send(event.Key{Key: keys.Control, Action: event.ActionDown})
		c.ctrlFor = m.Key
	}
	c.send(event.Key{Key: m.Key, Action: action})
	if !ev.Down && c.ctrlFor == m.Key {
		c.send(event.Key{Key: keys.Control, Action: event.ActionUp})
		c.ctrlFor = ""
	}
}

// trackModifier records a physical modifier press or release and reports
// whether it changes the logical modifier state.
func (c *ControlSource) trackModifier(key string, ev RawKeyEvent) bool {
	code := strings.ToLower(ev.Code)
	codes := c.held[key]
	if ev.Down {
		if codes == nil {
			codes = make(map[string]struct{})
			c.held[key] = codes
		}
		_, repeat := codes[code]
		codes[code] = struct{}{}
		return len(codes) == 1 && !repeat
	}
	if len(codes) == 0 {
		// Released without a press we saw; let the host release it too.
		return true
	}
	delete(codes, code)
	return len(codes) == 0
}

// send reports whether ev was written. Events are never retried.
func (c *ControlSource) send(ev event.Event) bool {
	data, err := event.Encode(ev)
	if err != nil {
		c.logger.Warn("dropping unencodable event", "type", ev.Type(), "err", err)
		return false
	}
	err = c.out.Send(data)
	switch {
	case err == nil:
		c.metrics.InputSent.WithLabelValues(string(ev.Type())).Inc()
		return true
	case errors.Is(err, session.ErrNotReady):
		c.metrics.InputDropped.WithLabelValues(metrics.DropNotReady).Inc()
	case errors.Is(err, session.ErrChannelClosed):
		c.metrics.InputDropped.WithLabelValues(metrics.DropClosed).Inc()
	default:
		c.metrics.InputDropped.WithLabelValues(metrics.DropClosed).Inc()
		c.logger.Warn("control send failed", "type", ev.Type(), "err", err)
	}
	return false
}
