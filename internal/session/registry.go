package session

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Lookup when the operator owns no session.
var ErrNotFound = errors.New("session: not found")

// Registry is the authoritative ownership record mapping operator identity
// to the one live automation session it may hold. It is shared between
// request handlers and background send jobs, so every mutation is guarded.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register installs the session under the operator identity, returning the
// session it replaced (nil if none). Closing a replaced session is the
// caller's job; the registry never double-closes.
func (r *Registry) Register(operator string, s *Session) *Session {
	r.mu.Lock()
	prev := r.sessions[operator]
	r.sessions[operator] = s
	r.mu.Unlock()
	return prev
}

func (r *Registry) Lookup(operator string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[operator]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops the operator's mapping. Removing a missing key is a no-op.
func (r *Registry) Remove(operator string) {
	r.mu.Lock()
	delete(r.sessions, operator)
	r.mu.Unlock()
}

// Drain closes and removes every session. Used at shutdown to reap
// sessions that never reached a send job (abandoned at the login screen).
// Returns the first close error, after attempting all of them.
func (r *Registry) Drain() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Len reports the number of live mappings (operational visibility only).
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.sessions)
	r.mu.RUnlock()
	return n
}
