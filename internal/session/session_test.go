package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "hermes/pkg/logx"
)

// fakeClient scripts the automation capability for tests.
type fakeClient struct {
	mu         sync.Mutex
	qr         []byte
	qrErr      error
	loginAfter int // polls before IsLoggedIn reports true
	loginErrs  int // polls that error before any real answer
	polls      int
	hasChat    bool
	chatErr    error
	closed     atomic.Int32
}

func (f *fakeClient) QR(context.Context) ([]byte, error) {
	if f.qrErr != nil {
		return nil, f.qrErr
	}
	if f.qr == nil {
		return []byte("qr-bytes"), nil
	}
	return f.qr, nil
}

func (f *fakeClient) IsLoggedIn(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.loginErrs > 0 {
		f.loginErrs--
		return false, errors.New("render glitch")
	}
	return f.polls > f.loginAfter, nil
}

func (f *fakeClient) HasChat(context.Context, string) (bool, error) {
	return f.hasChat, f.chatErr
}

func (f *fakeClient) SendText(context.Context, string, string) error { return nil }

func (f *fakeClient) Close() error {
	f.closed.Add(1)
	return nil
}

func fastBootstrap(reg *Registry, open OpenFunc, cfg BootstrapConfig) *Bootstrap {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 50 * time.Millisecond
	}
	return NewBootstrap(open, reg, cfg, logx.Nop())
}

func TestRegistryRegisterLookupRemove(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	s := New("alice", &fakeClient{})

	if prev := reg.Register("alice", s); prev != nil {
		t.Fatalf("unexpected previous session: %v", prev)
	}
	got, err := reg.Lookup("alice")
	if err != nil || got != s {
		t.Fatalf("Lookup = (%v, %v)", got, err)
	}

	reg.Remove("alice")
	if _, err := reg.Lookup("alice"); err != ErrNotFound {
		t.Fatalf("Lookup after Remove = %v, want ErrNotFound", err)
	}
	// Removing twice is a no-op, not an error.
	reg.Remove("alice")
}

func TestRegistryRegisterReturnsReplaced(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	first := New("alice", &fakeClient{})
	second := New("alice", &fakeClient{})

	reg.Register("alice", first)
	if prev := reg.Register("alice", second); prev != first {
		t.Fatalf("Register returned %v, want first session", prev)
	}
	got, _ := reg.Lookup("alice")
	if got != second {
		t.Fatal("registry does not hold the replacement")
	}
}

func TestRegistryDrainClosesEverySession(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	fa, fb := &fakeClient{}, &fakeClient{}
	reg.Register("alice", New("alice", fa))
	reg.Register("bob", New("bob", fb))

	if err := reg.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("Len = %d after drain, want 0", reg.Len())
	}
	if fa.closed.Load() != 1 || fb.closed.Load() != 1 {
		t.Fatalf("closed counts = %d/%d, want 1/1", fa.closed.Load(), fb.closed.Load())
	}
}

func TestSessionCloseExactlyOnce(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	s := New("alice", fc)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
	}
	wg.Wait()

	if n := fc.closed.Load(); n != 1 {
		t.Fatalf("client closed %d times, want 1", n)
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %v, want closed", s.State())
	}
}

func TestBootstrapOpenEncodesQR(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	fc := &fakeClient{qr: []byte("abc")}
	b := fastBootstrap(reg, func(context.Context) (Client, error) { return fc, nil }, BootstrapConfig{})

	s, qr, err := b.Open(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if qr != "YWJj" { // base64("abc")
		t.Fatalf("qr = %q", qr)
	}
	if s.State() != StateAwaitingLogin {
		t.Fatalf("state = %v", s.State())
	}
	if got, _ := reg.Lookup("alice"); got != s {
		t.Fatal("session not registered")
	}
}

func TestBootstrapOpenReplacesLiveSession(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	old := &fakeClient{}
	reg.Register("alice", New("alice", old))

	fresh := &fakeClient{}
	b := fastBootstrap(reg, func(context.Context) (Client, error) { return fresh, nil }, BootstrapConfig{})
	if _, _, err := b.Open(context.Background(), "alice"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if old.closed.Load() != 1 {
		t.Fatal("replaced session was not closed")
	}
}

func TestBootstrapOpenClosesClientOnQRFailure(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	fc := &fakeClient{qrErr: errors.New("no canvas")}
	b := fastBootstrap(reg, func(context.Context) (Client, error) { return fc, nil }, BootstrapConfig{})

	if _, _, err := b.Open(context.Background(), "alice"); err == nil {
		t.Fatal("expected error")
	}
	if fc.closed.Load() != 1 {
		t.Fatal("client leaked after QR failure")
	}
	if _, err := reg.Lookup("alice"); err != ErrNotFound {
		t.Fatal("failed open must not register a session")
	}
}

func TestAwaitLoginRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	fc := &fakeClient{loginErrs: 2, loginAfter: 3}
	b := fastBootstrap(reg, nil, BootstrapConfig{})
	s := New("alice", fc)

	if err := b.AwaitLogin(context.Background(), s); err != nil {
		t.Fatalf("AwaitLogin: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %v, want ready", s.State())
	}
}

func TestAwaitLoginHonorsMaxWait(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	fc := &fakeClient{loginAfter: 1 << 30} // never logs in
	b := fastBootstrap(reg, nil, BootstrapConfig{MaxWait: 20 * time.Millisecond})
	s := New("alice", fc)

	err := b.AwaitLogin(context.Background(), s)
	if !errors.Is(err, ErrLoginTimeout) {
		t.Fatalf("err = %v, want ErrLoginTimeout", err)
	}
}

func TestAwaitLoginStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	fc := &fakeClient{loginAfter: 1 << 30}
	b := fastBootstrap(reg, nil, BootstrapConfig{})
	s := New("alice", fc)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := b.AwaitLogin(ctx, s); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestVerifyTargetFailureTearsDown(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	fc := &fakeClient{hasChat: false}
	b := fastBootstrap(reg, nil, BootstrapConfig{VerifyPhone: "911234"})
	s := New("alice", fc)
	reg.Register("alice", s)

	err := b.VerifyTarget(context.Background(), s)
	if !errors.Is(err, ErrVerifyFailed) {
		t.Fatalf("err = %v, want ErrVerifyFailed", err)
	}
	if fc.closed.Load() != 1 {
		t.Fatal("session not closed after failed verification")
	}
	if _, err := reg.Lookup("alice"); err != ErrNotFound {
		t.Fatal("registry entry not removed")
	}
}

func TestVerifyTargetSkippedWhenUnconfigured(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	fc := &fakeClient{hasChat: false}
	b := fastBootstrap(reg, nil, BootstrapConfig{})
	s := New("alice", fc)

	if err := b.VerifyTarget(context.Background(), s); err != nil {
		t.Fatalf("VerifyTarget: %v", err)
	}
	if fc.closed.Load() != 0 {
		t.Fatal("session closed despite no verification configured")
	}
}
