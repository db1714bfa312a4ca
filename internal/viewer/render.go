package viewer

import (
	"context"
	"time"

	"remotedesk/internal/metrics"
)

// RenderLoop hands the newest available frame to the surface. Older frames
// still in the buffer are skipped.
type RenderLoop struct {
	buf     *FrameBuffer
	surface Surface
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewRenderLoop(buf *FrameBuffer, surface Surface, timeout time.Duration, m *metrics.Metrics) *RenderLoop {
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &RenderLoop{buf: buf, surface: surface, timeout: timeout, metrics: m}
}

// Run presents frames until ctx is cancelled.
func (l *RenderLoop) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		f, ok := l.buf.Pop(ctx, l.timeout)
		if !ok {
			continue
		}
		for {
			newer, ok := l.buf.TryPop()
			if !ok {
				break
			}
			l.metrics.FramesDropped.Inc()
			f = newer
		}
		l.surface.Present(f.Image)
		l.metrics.FramesRendered.Inc()
	}
	return nil
}
