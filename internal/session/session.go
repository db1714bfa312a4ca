package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

type slot struct {
	ready *Latch
	ch    atomic.Pointer[Channel]
}

// Session pairs one video and one control channel between a host and a
// viewer. Every loop that needs channel state is handed the Session
// explicitly; nothing about a session is process-wide.
type Session struct {
	ID     string
	Remote string

	logger    *slog.Logger
	slots     [2]slot
	closed    chan struct{}
	closeOnce sync.Once
}

// New returns a session with both channels pending.
func New(id, remote string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		ID:     id,
		Remote: remote,
		logger: logger.With("session", id),
		closed: make(chan struct{}),
	}
	for i := range s.slots {
		s.slots[i].ready = NewLatch()
	}
	return s
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Attach installs ch in its kind's slot and marks the kind ready. A channel
// already in the slot is closed. Attaching to a closed session closes ch.
func (s *Session) Attach(ch *Channel) error {
	if s.isClosed() {
		ch.Close()
		return ErrChannelClosed
	}
	sl := &s.slots[ch.Kind().index()]
	if old := sl.ch.Swap(ch); old != nil && old != ch {
		old.Close()
	}
	sl.ready.Set()
	if s.isClosed() {
		// Lost a race with Close.
		ch.Close()
		return ErrChannelClosed
	}
	return nil
}

// Channel returns the attached channel of kind, or nil while pending.
func (s *Session) Channel(kind Kind) *Channel {
	return s.slots[kind.index()].ch.Load()
}

// Ready is closed once a channel of kind has completed its handshake.
func (s *Session) Ready(kind Kind) <-chan struct{} {
	return s.slots[kind.index()].ready.Done()
}

// IsReady never blocks.
func (s *Session) IsReady(kind Kind) bool {
	return s.slots[kind.index()].ready.IsSet()
}

// State reports the state of kind's slot.
func (s *Session) State(kind Kind) State {
	ch := s.Channel(kind)
	switch {
	case ch != nil:
		return ch.State()
	case s.isClosed():
		return Closed
	}
	return Pending
}

// Send writes payload on kind. It returns ErrNotReady, without any I/O,
// until the channel is ready, and ErrChannelClosed after teardown.
func (s *Session) Send(kind Kind, payload []byte) error {
	if s.isClosed() {
		return ErrChannelClosed
	}
	if !s.IsReady(kind) {
		return ErrNotReady
	}
	return s.Channel(kind).Send(payload)
}

// Receive waits for kind to become ready and then for its next message.
func (s *Session) Receive(ctx context.Context, kind Kind) ([]byte, error) {
	select {
	case <-s.Ready(kind):
	case <-s.closed:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Channel(kind).Receive()
}

// Sender returns a view of the session that sends on kind only.
func (s *Session) Sender(kind Kind) *Sender {
	return &Sender{session: s, kind: kind}
}

// Receiver returns a view of the session that receives on kind only.
func (s *Session) Receiver(ctx context.Context, kind Kind) *Receiver {
	return &Receiver{ctx: ctx, session: s, kind: kind}
}

// Close tears down both channels. It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		for _, kind := range Kinds {
			if ch := s.Channel(kind); ch != nil {
				ch.Close()
			}
		}
		s.logger.Info("session closed")
	})
}

// Done is closed by Close.
func (s *Session) Done() <-chan struct{} { return s.closed }

// CloseOnChannelLoss closes the whole session as soon as either attached
// channel closes. Viewers use this so that losing one channel returns them
// to an idle state instead of a half-working one.
func (s *Session) CloseOnChannelLoss() {
	for _, kind := range Kinds {
		go func() {
			select {
			case <-s.Ready(kind):
			case <-s.closed:
				return
			}
			select {
			case <-s.Channel(kind).Done():
				s.logger.Warn("channel lost, ending session", "channel", kind)
				s.Close()
			case <-s.closed:
			}
		}()
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Sender sends on one channel of a session.
type Sender struct {
	session *Session
	kind    Kind
}

func (w *Sender) Send(payload []byte) error { return w.session.Send(w.kind, payload) }

// Receiver receives on one channel of a session.
type Receiver struct {
	ctx     context.Context
	session *Session
	kind    Kind
}

func (r *Receiver) Receive() ([]byte, error) { return r.session.Receive(r.ctx, r.kind) }
