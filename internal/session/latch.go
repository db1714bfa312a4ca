package session

import "sync"

// Latch is a one-shot signal. Once set it stays set.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Set releases every current and future waiter. Extra calls are no-ops.
func (l *Latch) Set() {
	l.once.Do(func() { close(l.ch) })
}

// IsSet never blocks.
func (l *Latch) IsSet() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the latch is set.
func (l *Latch) Done() <-chan struct{} { return l.ch }
