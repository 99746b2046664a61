package web

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hermes/internal/portal"
	"hermes/internal/report"
	"hermes/internal/runtime/supervisor"
	"hermes/internal/sendjob"
	"hermes/internal/session"
	"hermes/internal/spool"
	"hermes/internal/transport"
	logx "hermes/pkg/logx"
)

type fakeClient struct {
	loggedIn atomic.Bool
	// loginDelay simulates the latency of a real login check. Set before
	// any request is in flight.
	loginDelay  time.Duration
	chatMissing atomic.Bool

	mu     sync.Mutex
	sent   []string
	closed atomic.Int32
}

func (f *fakeClient) QR(ctx context.Context) ([]byte, error) { return []byte("abc"), nil }

func (f *fakeClient) IsLoggedIn(ctx context.Context) (bool, error) {
	if f.loginDelay > 0 {
		time.Sleep(f.loginDelay)
	}
	return f.loggedIn.Load(), nil
}

func (f *fakeClient) HasChat(ctx context.Context, phone string) (bool, error) {
	return !f.chatMissing.Load(), nil
}

func (f *fakeClient) SendText(ctx context.Context, phone, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, phone+"|"+text)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.closed.Add(1)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	docs  []transport.Document
}

func (f *fakeNotifier) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) SendDocument(ctx context.Context, to transport.ChatTarget, doc transport.Document) error {
	f.mu.Lock()
	f.docs = append(f.docs, doc)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) docCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

const (
	testUser = "alice"
	testPass = "hunter2"
)

// newPortalServer serves the minimal participant API the handlers talk to.
func newPortalServer(t *testing.T) *httptest.Server {
	t.Helper()
	want := portal.EncodeCredentials(testUser, testPass)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Credentials") != want {
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"t1":"Gala","t2":"Summit"}`)
	})
	mux.HandleFunc("/table", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":1,"name":"Asha","phone":"91|9876543210"}]`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	srv      *httptest.Server
	client   *http.Client
	fc       *fakeClient
	notifier *fakeNotifier
	sup      *supervisor.Supervisor
	reg      *session.Registry
}

func newHarness(t *testing.T, mods ...func(*session.BootstrapConfig)) *harness {
	t.Helper()

	portalSrv := newPortalServer(t)
	pc := portal.New(portal.Config{
		LoginURL:  portalSrv.URL + "/login",
		EventsURL: portalSrv.URL + "/events",
		TableURL:  portalSrv.URL + "/table",
	})

	fc := &fakeClient{}
	reg := session.NewRegistry()
	bootCfg := session.BootstrapConfig{PollInterval: 5 * time.Millisecond, PollTimeout: time.Second, MaxWait: 2 * time.Second}
	for _, mod := range mods {
		mod(&bootCfg)
	}
	boot := session.NewBootstrap(
		func(ctx context.Context) (session.Client, error) { return fc, nil },
		reg,
		bootCfg,
		logx.Nop(),
	)

	sup := supervisor.New(context.Background())
	notifier := &fakeNotifier{}
	sp, err := spool.New(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("spool: %v", err)
	}
	runner := sendjob.NewRunner(
		sendjob.Config{RatePerSec: 1000},
		reg,
		report.NewReporter(logx.Nop()),
		logx.Nop(),
	)

	s, err := New(Config{Addr: "127.0.0.1:0"}, Deps{
		Portal:     pc,
		Boot:       boot,
		Registry:   reg,
		Runner:     runner,
		Sup:        sup,
		Spool:      sp,
		Notifier:   notifier,
		LogChannel: transport.ChatTarget{ChatID: -100},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	webSrv := httptest.NewServer(s.Handler())
	t.Cleanup(webSrv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sup.Stop(ctx)
	})

	jar, _ := cookiejar.New(nil)
	return &harness{
		srv:      webSrv,
		client:   &http.Client{Jar: jar},
		fc:       fc,
		notifier: notifier,
		sup:      sup,
		reg:      reg,
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	resp, err := h.client.PostForm(h.srv.URL+"/login", url.Values{
		"username": {testUser},
		"password": {testPass},
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200 after redirect", resp.StatusCode)
	}
	if !strings.Contains(body, "Gala") {
		t.Fatalf("expected form page after login, got: %s", body)
	}
}

func (h *harness) submit(t *testing.T, content, table, ids string) *http.Response {
	t.Helper()
	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	mw.WriteField("content", content)
	mw.WriteField("table", table)
	mw.WriteField("ids", ids)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/submit", strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

// readBodyStatus is readBody for concurrent goroutines: it reports failures
// with t.Error instead of aborting the test.
func readBodyStatus(t *testing.T, resp *http.Response) (string, int) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Errorf("read body: %v", err)
	}
	return string(b), resp.StatusCode
}

func TestRejectsWithoutLogin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, path := range []string{"/form", "/qr", "/send"} {
		resp, err := h.client.Get(h.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body := readBody(t, resp)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("GET %s status = %d, want 403", path, resp.StatusCode)
		}
		if !strings.Contains(body, "Begone") {
			t.Errorf("GET %s: expected rejection page, got: %s", path, body)
		}
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, err := h.client.PostForm(h.srv.URL+"/login", url.Values{
		"username": {testUser},
		"password": {"wrong"},
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if !strings.Contains(body, "Invalid username or password") {
		t.Fatalf("expected login error, got: %s", body)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.login(t)

	cases := []struct {
		name    string
		content string
		table   string
		ids     string
	}{
		{"empty message", "   ", "t1", "all"},
		{"bad selection", "hi", "t1", "1 two 3"},
		{"no source", "hi", "", "all"},
	}
	for _, tc := range cases {
		resp := h.submit(t, tc.content, tc.table, tc.ids)
		readBody(t, resp)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}
}

func TestQRRequiresSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.login(t)

	resp, err := h.client.Get(h.srv.URL + "/qr")
	if err != nil {
		t.Fatalf("GET /qr: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFullSendFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.login(t)

	resp := h.submit(t, "Hello {{name}}", "t1", "all")
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || !strings.Contains(body, "Starting browser") {
		t.Fatalf("submit: status %d, body: %s", resp.StatusCode, body)
	}

	resp, err := h.client.Get(h.srv.URL + "/qr")
	if err != nil {
		t.Fatalf("GET /qr: %v", err)
	}
	if body := readBody(t, resp); !strings.Contains(body, "YWJj") {
		t.Fatalf("expected base64 QR in page, got: %s", body)
	}
	if h.reg.Len() != 1 {
		t.Fatalf("registry len = %d, want 1 after /qr", h.reg.Len())
	}

	// The operator "scans" while /send is polling.
	h.fc.loggedIn.Store(true)

	resp, err = h.client.Get(h.srv.URL + "/send")
	if err != nil {
		t.Fatalf("GET /send: %v", err)
	}
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || !strings.Contains(body, "Sending messages!") {
		t.Fatalf("send: status %d, body: %s", resp.StatusCode, body)
	}

	// The job runs in the background; wait for teardown.
	deadline := time.After(2 * time.Second)
	for h.fc.closed.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("session never closed after send job")
		case <-time.After(10 * time.Millisecond):
		}
	}

	h.fc.mu.Lock()
	sent := append([]string(nil), h.fc.sent...)
	h.fc.mu.Unlock()
	if len(sent) != 1 || sent[0] != "919876543210|Hello Asha" {
		t.Fatalf("sent = %v", sent)
	}
	if h.reg.Len() != 0 {
		t.Fatalf("registry len = %d, want 0 after job", h.reg.Len())
	}
	if h.notifier.docCount() != 1 {
		t.Fatalf("report documents = %d, want 1", h.notifier.docCount())
	}
}

func TestConcurrentSendLaunchesOneJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.login(t)

	resp := h.submit(t, "Hello {{name}}", "t1", "all")
	readBody(t, resp)
	resp, err := h.client.Get(h.srv.URL + "/qr")
	if err != nil {
		t.Fatalf("GET /qr: %v", err)
	}
	readBody(t, resp)

	// A slow login check widens the window in which duplicated requests
	// (double click, re-fired redirect) overlap.
	h.fc.loginDelay = 100 * time.Millisecond
	h.fc.loggedIn.Store(true)

	const requests = 4
	var launched, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.client.Get(h.srv.URL + "/send")
			if err != nil {
				t.Errorf("GET /send: %v", err)
				return
			}
			body, status := readBodyStatus(t, resp)
			switch {
			case status == http.StatusOK && strings.Contains(body, "Sending messages!"):
				launched.Add(1)
			case status == http.StatusConflict:
				rejected.Add(1)
			default:
				t.Errorf("unexpected response %d: %s", status, body)
			}
		}()
	}
	wg.Wait()

	if launched.Load() != 1 || rejected.Load() != requests-1 {
		t.Fatalf("launched=%d rejected=%d, want 1/%d", launched.Load(), rejected.Load(), requests-1)
	}

	deadline := time.After(2 * time.Second)
	for h.fc.closed.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("session never closed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Exactly one job ran: the one table recipient got the message once.
	h.fc.mu.Lock()
	sent := len(h.fc.sent)
	h.fc.mu.Unlock()
	if sent != 1 {
		t.Fatalf("deliveries = %d, want 1", sent)
	}
	if got := h.fc.closed.Load(); got != 1 {
		t.Fatalf("session closed %d times, want 1", got)
	}
	if h.notifier.docCount() != 1 {
		t.Fatalf("report documents = %d, want 1", h.notifier.docCount())
	}
}

func TestVerifyFailureReturnsToForm(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *session.BootstrapConfig) {
		cfg.VerifyPhone = "919999999999"
	})
	h.login(t)

	resp := h.submit(t, "Hello {{name}}", "t1", "all")
	readBody(t, resp)
	resp, err := h.client.Get(h.srv.URL + "/qr")
	if err != nil {
		t.Fatalf("GET /qr: %v", err)
	}
	readBody(t, resp)

	h.fc.loggedIn.Store(true)
	h.fc.chatMissing.Store(true)

	resp, err = h.client.Get(h.srv.URL + "/send")
	if err != nil {
		t.Fatalf("GET /send: %v", err)
	}
	body, status := readBodyStatus(t, resp)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", status)
	}
	// The input form comes back with the validation error, not the
	// generic rejection page.
	if !strings.Contains(body, "verification number") || !strings.Contains(body, "Gala") {
		t.Fatalf("expected form with validation error, got: %s", body)
	}
	if strings.Contains(body, "Begone") {
		t.Fatalf("got the generic rejection page: %s", body)
	}

	// Teardown happened, but the submission survived for a retry.
	if got := h.fc.closed.Load(); got != 1 {
		t.Fatalf("session closed %d times, want 1", got)
	}
	if h.reg.Len() != 0 {
		t.Fatalf("registry len = %d, want 0", h.reg.Len())
	}
	h.fc.chatMissing.Store(false)
	resp, err = h.client.Get(h.srv.URL + "/qr")
	if err != nil {
		t.Fatalf("GET /qr retry: %v", err)
	}
	if body := readBody(t, resp); !strings.Contains(body, "YWJj") {
		t.Fatalf("retry /qr did not serve a fresh QR: %s", body)
	}
}

func TestSendWithoutSessionConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.login(t)

	resp := h.submit(t, "hi", "t1", "all")
	readBody(t, resp)

	resp, err := h.client.Get(h.srv.URL + "/send")
	if err != nil {
		t.Fatalf("GET /send: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestStoreClaimIsExclusive(t *testing.T) {
	t.Parallel()

	st := NewStore(time.Hour)
	token := st.Create(&Operator{Username: "bob", Message: "hi", Table: "t1", Selection: "all"})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := st.Claim(token); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("claims won = %d, want 1", wins.Load())
	}

	// The pending fields are gone; identity stays.
	op, ok := st.Get(token)
	if !ok {
		t.Fatal("session vanished after claim")
	}
	if op.Message != "" || op.Table != "" {
		t.Fatalf("pending fields survived claim: %+v", op)
	}
	if op.Username != "bob" {
		t.Fatalf("Username = %q after claim", op.Username)
	}
}

func TestStoreExpiry(t *testing.T) {
	t.Parallel()

	st := NewStore(20 * time.Millisecond)
	token := st.Create(&Operator{Username: "bob"})
	if _, ok := st.Get(token); !ok {
		t.Fatal("fresh session missing")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := st.Get(token); ok {
		t.Fatal("expired session still served")
	}
}
