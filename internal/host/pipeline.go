package host

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"remotedesk/internal/codec"
	"remotedesk/internal/metrics"
	"remotedesk/internal/session"
)

// ErrPipelineStopped is returned by Run on a pipeline that already ran.
var ErrPipelineStopped = errors.New("frame pipeline stopped")

const DefaultFPS = 15

type PipelineState int32

const (
	Idle PipelineState = iota
	Capturing
	Stopped
)

func (s PipelineState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Frame is one encoded capture. Only Data goes on the wire.
type Frame struct {
	Seq      uint64
	Width    int
	Height   int
	Captured time.Time
	Data     []byte
}

type PipelineConfig struct {
	FPS     int
	Quality int
}

func (c PipelineConfig) interval() time.Duration {
	fps := c.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	return time.Second / time.Duration(fps)
}

// FramePipeline captures, encodes and sends frames until its video channel
// closes. At most one frame is in flight: the next capture starts only
// after the previous frame was sent or skipped.
type FramePipeline struct {
	capture ScreenCapture
	encoder Encoder
	out     Sender
	cfg     PipelineConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	state atomic.Int32
	seq   uint64
	last  *Frame
}

func NewFramePipeline(capture ScreenCapture, encoder Encoder, out Sender, cfg PipelineConfig, logger *slog.Logger, m *metrics.Metrics) *FramePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.Quality == 0 {
		cfg.Quality = codec.DefaultQuality
	}
	return &FramePipeline{
		capture: capture,
		encoder: encoder,
		out:     out,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

func (p *FramePipeline) State() PipelineState { return PipelineState(p.state.Load()) }

// Run blocks until the channel closes or ctx is cancelled. Both are a
// normal stop and return nil.
func (p *FramePipeline) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(Idle), int32(Capturing)) {
		return ErrPipelineStopped
	}
	defer p.state.Store(int32(Stopped))

	interval := p.cfg.interval()
	timer := time.NewTimer(0)
	defer timer.Stop()

	p.logger.Info("frame pipeline started", "interval", interval, "quality", p.cfg.Quality)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("frame pipeline stopped", "frames", p.seq, "reason", ctx.Err())
			return nil
		case <-timer.C:
		}

		start := time.Now()
		if err := p.tick(start); err != nil {
			p.logger.Info("frame pipeline stopped", "frames", p.seq, "reason", err)
			return nil
		}
		timer.Reset(max(0, interval-time.Since(start)))
	}
}

// tick returns an error only when the channel is gone.
func (p *FramePipeline) tick(now time.Time) error {
	img, err := p.capture.Grab()
	if err != nil {
		p.metrics.CaptureErrors.Inc()
		p.logger.Warn("capture failed, skipping frame", "err", err)
		return nil
	}
	p.metrics.FramesCaptured.Inc()

	data, err := p.encoder.Encode(img, p.cfg.Quality)
	if err != nil {
		p.metrics.EncodeErrors.Inc()
		p.logger.Warn("encode failed, skipping frame", "err", err)
		return nil
	}

	p.seq++
	frame := p.frame(img, data, now)
	if err := p.out.Send(frame.Data); err != nil {
		if errors.Is(err, session.ErrChannelClosed) {
			return err
		}
		p.logger.Warn("send failed, skipping frame", "seq", frame.Seq, "err", err)
		return nil
	}
	p.metrics.FramesSent.Inc()
	latency := time.Since(frame.Captured)
	p.metrics.FrameLatency.Observe(latency.Seconds())
	if p.last == nil || p.last.Width != frame.Width || p.last.Height != frame.Height {
		p.logger.Info("streaming", "seq", frame.Seq, "width", frame.Width, "height", frame.Height, "latency", latency)
	}
	p.last = frame
	return nil
}

func (p *FramePipeline) frame(img image.Image, data []byte, now time.Time) *Frame {
	b := img.Bounds()
	return &Frame{Seq: p.seq, Width: b.Dx(), Height: b.Dy(), Captured: now, Data: data}
}
