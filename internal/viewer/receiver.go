package viewer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"remotedesk/internal/metrics"
	"remotedesk/internal/session"
)

// FrameReceiver decodes video messages into the frame buffer.
type FrameReceiver struct {
	in      Receiver
	decoder Decoder
	buf     *FrameBuffer
	geom    *Geometry
	logger  *slog.Logger
	metrics *metrics.Metrics
	seq     uint64
}

func NewFrameReceiver(in Receiver, decoder Decoder, buf *FrameBuffer, geom *Geometry, logger *slog.Logger, m *metrics.Metrics) *FrameReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &FrameReceiver{in: in, decoder: decoder, buf: buf, geom: geom, logger: logger, metrics: m}
}

// Run returns nil when the video channel closes or ctx is cancelled.
func (r *FrameReceiver) Run(ctx context.Context) error {
	for {
		data, err := r.in.Receive()
		if err != nil {
			if errors.Is(err, session.ErrChannelClosed) || ctx.Err() != nil {
				r.logger.Info("frame receiver stopped", "frames", r.seq)
				return nil
			}
			return err
		}
		img, err := r.decoder.Decode(data)
		if err != nil {
			r.metrics.DecodeErrors.Inc()
			r.logger.Warn("dropping undecodable frame", "bytes", len(data), "err", err)
			continue
		}
		r.seq++
		r.metrics.FramesReceived.Inc()

		b := img.Bounds()
		if r.geom.SetRemote(b.Dx(), b.Dy()) {
			r.logger.Info("remote size", "width", b.Dx(), "height", b.Dy())
		}
		r.buf.Push(&Frame{Seq: r.seq, Image: img, Received: time.Now()})
	}
}
