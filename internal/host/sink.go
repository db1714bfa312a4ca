package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"remotedesk/internal/event"
	"remotedesk/internal/metrics"
	"remotedesk/internal/session"
)

// MaxScroll caps the wheel units injected for one scroll event.
const MaxScroll = 25

// ControlSink applies decoded control events to an Injector.
type ControlSink struct {
	in      Receiver
	inject  Injector
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewControlSink(in Receiver, inject Injector, logger *slog.Logger, m *metrics.Metrics) *ControlSink {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &ControlSink{in: in, inject: inject, logger: logger, metrics: m}
}

// Run processes messages until the channel closes or ctx is cancelled. A
// message that fails to decode or inject is logged and skipped.
func (c *ControlSink) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, err := c.in.Receive()
		if err != nil {
			if errors.Is(err, session.ErrChannelClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		ev, err := event.Decode(data)
		if err != nil {
			reason := "decode"
			if errors.Is(err, event.ErrUnknownVariant) {
				reason = "unknown_variant"
			}
			c.metrics.ControlErrors.WithLabelValues(reason).Inc()
			c.logger.Warn("dropping control message", "reason", reason, "err", err)
			continue
		}

		c.metrics.ControlEvents.WithLabelValues(string(ev.Type())).Inc()
		if err := c.Dispatch(ev); err != nil {
			c.metrics.ControlErrors.WithLabelValues("inject").Inc()
			c.logger.Warn("injection failed", "type", ev.Type(), "err", err)
		}
	}
}

// Dispatch performs the side effect of one event. Clicks and keys map to a
// single press or release; the other half is never synthesized.
func (c *ControlSink) Dispatch(ev event.Event) error {
	switch e := ev.(type) {
	case event.MouseMove:
		return c.inject.Move(e.X, e.Y)
	case event.MouseClick:
		if e.Action == event.ActionDown {
			return c.inject.MouseDown(e.Button)
		}
		return c.inject.MouseUp(e.Button)
	case event.MouseDoubleClick:
		if e.X != nil && e.Y != nil {
			if err := c.inject.Move(*e.X, *e.Y); err != nil {
				return err
			}
		}
		return c.inject.DoubleClick(e.Button)
	case event.MouseScroll:
		n := 1
		if e.Delta != nil && *e.Delta > 0 {
			n = min(*e.Delta, MaxScroll)
		}
		return c.inject.Scroll(e.Direction, n)
	case event.Key:
		if e.Action == event.ActionDown {
			return c.inject.KeyDown(e.Key)
		}
		return c.inject.KeyUp(e.Key)
	}
	return fmt.Errorf("dispatch: unsupported event %T", ev)
}
