// Package session owns the automation-session lifecycle: the per-operator
// registry, login bootstrap, and the exactly-once teardown contract every
// exit path relies on.
package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// Client is the automation capability a session wraps. Implemented by the
// browser driver; faked in tests.
type Client interface {
	// QR returns the scannable login credential as image bytes.
	QR(ctx context.Context) ([]byte, error)
	// IsLoggedIn reports login state. Transient failures and timeouts
	// surface as (false, nil); only terminal faults return an error.
	IsLoggedIn(ctx context.Context) (bool, error)
	// HasChat reports whether a phone number resolves to a real chat.
	HasChat(ctx context.Context, phone string) (bool, error)
	// SendText delivers one message to the chat behind the number.
	SendText(ctx context.Context, phone, text string) error
	// Close releases the underlying automation resource. Idempotent.
	Close() error
}

// State tracks where a session is in its lifecycle.
type State int32

const (
	StateAwaitingLogin State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingLogin:
		return "awaiting-login"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live automation client owned by exactly one operator.
// Close is guaranteed to reach the client exactly once no matter how many
// paths race to call it.
type Session struct {
	Operator string

	client Client
	state  atomic.Int32

	closeOnce sync.Once
	closeErr  error
}

func New(operator string, client Client) *Session {
	s := &Session{Operator: operator, client: client}
	s.state.Store(int32(StateAwaitingLogin))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) markReady() { s.state.Store(int32(StateReady)) }

// Client exposes the capability for the send pipeline. Callers must hold
// exclusive ownership; the client is a single logical connection.
func (s *Session) Client() Client { return s.client }

// Close tears down the automation client. Safe under concurrent callers
// and repeated invocation; the client's Close runs once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
