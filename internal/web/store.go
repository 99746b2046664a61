package web

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Operator is one authenticated browsing session's server-side state:
// identity, the verified portal credential, and the pending send request
// between /submit and /send.
type Operator struct {
	Username string
	Creds    string

	// Pending submission, set by /submit and consumed by /send.
	Message    string
	Table      string
	Selection  string
	UploadPath string

	createdAt time.Time
}

// Store holds operator web sessions in memory, keyed by an opaque random
// token carried in a cookie. State lives only as long as the process; no
// persistence by design.
type Store struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]*Operator
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Store{ttl: ttl, m: make(map[string]*Operator)}
}

func (s *Store) Create(op *Operator) string {
	token := newToken()
	op.createdAt = time.Now()
	s.mu.Lock()
	s.m[token] = op
	s.mu.Unlock()
	return token
}

// Get returns a snapshot of the operator state. Mutations go through
// Update so concurrent handlers never share a bare pointer.
func (s *Store) Get(token string) (Operator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.m[token]
	if !ok {
		return Operator{}, false
	}
	if time.Since(op.createdAt) > s.ttl {
		delete(s.m, token)
		return Operator{}, false
	}
	return *op, true
}

// Claim takes the pending submission and clears it in one step, so of any
// number of racing requests exactly one carries it into a send job. ok is
// false when nothing is pending (never submitted, or already claimed).
func (s *Store) Claim(token string) (Operator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.m[token]
	if !ok || op.Message == "" {
		return Operator{}, false
	}
	snap := *op
	op.Message, op.Table, op.Selection, op.UploadPath = "", "", "", ""
	return snap, true
}

// Update mutates the operator state under the store lock, so concurrent
// handlers for the same browser never race on the pending submission.
func (s *Store) Update(token string, fn func(op *Operator)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.m[token]
	if !ok {
		return false
	}
	fn(op)
	return true
}

func (s *Store) Delete(token string) {
	s.mu.Lock()
	delete(s.m, token)
	s.mu.Unlock()
}

func newToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("web: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
