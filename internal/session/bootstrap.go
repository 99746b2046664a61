package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	logx "hermes/pkg/logx"
)

// ErrLoginTimeout is returned by AwaitLogin when a configured MaxWait
// elapses before the operator scans the code.
var ErrLoginTimeout = errors.New("session: login wait timed out")

// ErrVerifyFailed is returned when the configured verification number does
// not resolve to a real chat.
var ErrVerifyFailed = errors.New("session: verification target unreachable")

// OpenFunc produces a fresh automation client on the login screen.
type OpenFunc func(ctx context.Context) (Client, error)

type BootstrapConfig struct {
	// PollInterval between login checks. Default 2s.
	PollInterval time.Duration
	// PollTimeout bounds one login check. Default 10s.
	PollTimeout time.Duration
	// MaxWait bounds the whole login wait. Zero means wait forever: the
	// operator completing the scan is the only deadline. That unbounded
	// default is a deliberate choice and is surfaced in config docs.
	MaxWait time.Duration
	// VerifyPhone, when non-empty, must resolve to a real chat before a
	// send job may start.
	VerifyPhone string
}

// Bootstrap opens automation sessions and walks them to Ready.
type Bootstrap struct {
	open OpenFunc
	reg  *Registry
	cfg  BootstrapConfig
	log  logx.Logger
}

func NewBootstrap(open OpenFunc, reg *Registry, cfg BootstrapConfig, log logx.Logger) *Bootstrap {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	return &Bootstrap{open: open, reg: reg, cfg: cfg, log: log}
}

// Open starts a new automation session for the operator and returns it
// together with the base64-encoded login credential image. If the operator
// already owns a session it is closed and replaced, never leaked.
func (b *Bootstrap) Open(ctx context.Context, operator string) (*Session, string, error) {
	if prev, err := b.reg.Lookup(operator); err == nil {
		b.log.Warn("replacing live session", logx.String("operator", operator), logx.String("state", prev.State().String()))
		if err := prev.Close(); err != nil {
			b.log.Warn("closing replaced session", logx.String("operator", operator), logx.Err(err))
		}
		b.reg.Remove(operator)
	}

	client, err := b.open(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("open session: %w", err)
	}

	qr, err := client.QR(ctx)
	if err != nil {
		_ = client.Close()
		return nil, "", fmt.Errorf("login credential: %w", err)
	}

	s := New(operator, client)
	b.reg.Register(operator, s)
	b.log.Info("session opened", logx.String("operator", operator))
	return s, base64.StdEncoding.EncodeToString(qr), nil
}

// AwaitLogin polls the client until the operator completes the external
// login. A check that errors or times out counts as "not yet" and is
// retried; only context cancellation or MaxWait breaks the loop early.
func (b *Bootstrap) AwaitLogin(ctx context.Context, s *Session) error {
	var deadline <-chan time.Time
	if b.cfg.MaxWait > 0 {
		t := time.NewTimer(b.cfg.MaxWait)
		defer t.Stop()
		deadline = t.C
	}

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		pollCtx, cancel := context.WithTimeout(ctx, b.cfg.PollTimeout)
		ok, err := s.Client().IsLoggedIn(pollCtx)
		cancel()

		if ok {
			s.markReady()
			b.log.Info("operator logged in", logx.String("operator", s.Operator))
			return nil
		}
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Transient: the client may still be rendering. Keep polling.
			b.log.Debug("login check failed; retrying", logx.String("operator", s.Operator), logx.Err(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrLoginTimeout
		case <-ticker.C:
		}
	}
}

// VerifyTarget checks the configured verification number resolves to a
// real chat. On failure the session is torn down immediately and removed
// from the registry; the caller must not proceed to a send job.
func (b *Bootstrap) VerifyTarget(ctx context.Context, s *Session) error {
	if b.cfg.VerifyPhone == "" {
		return nil
	}
	ok, err := s.Client().HasChat(ctx, b.cfg.VerifyPhone)
	if ok && err == nil {
		return nil
	}

	if closeErr := s.Close(); closeErr != nil {
		b.log.Warn("closing session after failed verification", logx.String("operator", s.Operator), logx.Err(closeErr))
	}
	b.reg.Remove(s.Operator)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	return fmt.Errorf("%w: %s", ErrVerifyFailed, b.cfg.VerifyPhone)
}
