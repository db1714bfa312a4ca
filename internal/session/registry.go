package session

import (
	"log/slog"
	"sync"
)

// Registry tracks the host's live sessions by key. A session is created by
// the first channel that names it and destroyed once every attached channel
// has closed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{sessions: make(map[string]*Session), logger: logger}
}

// Attach adds ch to the session named key, creating it if needed.
func (r *Registry) Attach(key, remote string, ch *Channel) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		s = New(key, remote, r.logger)
		r.sessions[key] = s
		s.logger.Info("session created", "remote", remote)
	}
	if err := s.Attach(ch); err != nil {
		return nil, err
	}
	go r.release(key, s, ch)
	return s, nil
}

// release waits for ch to close and ends the session once no live channel
// is left in it.
func (r *Registry) release(key string, s *Session, ch *Channel) {
	select {
	case <-ch.Done():
	case <-s.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] != s {
		return
	}
	for _, kind := range Kinds {
		if s.State(kind) == Ready {
			return
		}
	}
	delete(r.sessions, key)
	s.Close()
}

// Get returns the live session named key.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll ends every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for key, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
