// Package host implements the sharing side of a session: a frame pipeline
// per video channel and a control sink per control channel.
package host

import (
	"context"
	"image"
	"log/slog"

	"remotedesk/internal/event"
	"remotedesk/internal/metrics"
	"remotedesk/internal/session"
)

type ScreenCapture interface {
	Grab() (image.Image, error)
}

type Encoder interface {
	Encode(img image.Image, quality int) ([]byte, error)
}

// Injector synthesizes local input. Coordinates are in captured-display
// pixels.
type Injector interface {
	Move(x, y int) error
	MouseDown(b event.Button) error
	MouseUp(b event.Button) error
	DoubleClick(b event.Button) error
	KeyDown(key string) error
	KeyUp(key string) error
	Scroll(dir event.Direction, n int) error
}

type Sender interface {
	Send(payload []byte) error
}

type Receiver interface {
	Receive() ([]byte, error)
}

// Host binds the collaborators to session handlers.
type Host struct {
	Capture  ScreenCapture
	Encoder  Encoder
	Injector Injector
	Pipeline PipelineConfig
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// HandleVideo runs a fresh frame pipeline on ch.
func (h *Host) HandleVideo(ctx context.Context, s *session.Session, ch *session.Channel) {
	p := NewFramePipeline(h.Capture, h.Encoder, ch, h.Pipeline, h.logger(s, ch), h.Metrics)
	_ = p.Run(ctx)
}

// HandleControl runs a control sink on ch. It never touches the video side.
func (h *Host) HandleControl(ctx context.Context, s *session.Session, ch *session.Channel) {
	sink := NewControlSink(ch, h.Injector, h.logger(s, ch), h.Metrics)
	if err := sink.Run(ctx); err != nil {
		h.logger(s, ch).Warn("control sink ended", "err", err)
	}
}

func (h *Host) logger(s *session.Session, ch *session.Channel) *slog.Logger {
	l := h.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("session", s.ID, "channel", ch.Kind())
}
