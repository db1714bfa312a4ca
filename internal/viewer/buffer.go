package viewer

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"remotedesk/internal/metrics"
)

const (
	DefaultBufferSize    = 2
	MaxBufferSize        = 3
	DefaultRenderTimeout = 20 * time.Millisecond
)

// Frame is a decoded video frame.
type Frame struct {
	Seq      uint64
	Image    image.Image
	Received time.Time
}

// FrameBuffer sits between the frame receiver (single producer) and the
// render loop (single consumer). When full, Push discards the oldest frame
// so the viewer shows recent frames instead of falling behind.
type FrameBuffer struct {
	frames  chan *Frame
	dropped atomic.Uint64
	onDrop  func()
}

// NewFrameBuffer clamps capacity to [1, MaxBufferSize]; zero means
// DefaultBufferSize. Drops are also counted on m when it is set.
func NewFrameBuffer(capacity int, m *metrics.Metrics) *FrameBuffer {
	switch {
	case capacity == 0:
		capacity = DefaultBufferSize
	case capacity < 1:
		capacity = 1
	case capacity > MaxBufferSize:
		capacity = MaxBufferSize
	}
	b := &FrameBuffer{frames: make(chan *Frame, capacity)}
	if m != nil {
		b.onDrop = m.FramesDropped.Inc
	}
	return b
}

func (b *FrameBuffer) Cap() int { return cap(b.frames) }
func (b *FrameBuffer) Len() int { return len(b.frames) }

// Dropped counts frames discarded without being popped.
func (b *FrameBuffer) Dropped() uint64 { return b.dropped.Load() }

// Push never blocks.
func (b *FrameBuffer) Push(f *Frame) {
	for {
		select {
		case b.frames <- f:
			return
		default:
		}
		select {
		case <-b.frames:
			b.drop()
		default:
		}
	}
}

// Pop waits up to timeout for a frame.
func (b *FrameBuffer) Pop(ctx context.Context, timeout time.Duration) (*Frame, bool) {
	select {
	case f := <-b.frames:
		return f, true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-b.frames:
		return f, true
	case <-t.C:
	case <-ctx.Done():
	}
	return nil, false
}

// TryPop never blocks.
func (b *FrameBuffer) TryPop() (*Frame, bool) {
	select {
	case f := <-b.frames:
		return f, true
	default:
		return nil, false
	}
}

func (b *FrameBuffer) drop() {
	b.dropped.Add(1)
	if b.onDrop != nil {
		b.onDrop()
	}
}
