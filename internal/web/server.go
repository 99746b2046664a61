// Package web is the operator-facing HTTP surface: portal login, event
// selection, submission, and the QR hand-off into the automation session.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html"
	"html/template"
	"net"
	"net/http"
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

//go:embed templates/*.html
var templateFS embed.FS

const cookieName = "hermes_sid"

type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	SessionTTL        time.Duration
}

// Deps carries everything the handlers orchestrate. All fields are required
// unless noted.
type Deps struct {
	Portal   *portal.Client
	Boot     *session.Bootstrap
	Registry *session.Registry
	Runner   *sendjob.Runner
	Sup      *supervisor.Supervisor
	Spool    *spool.Spool
	Notifier transport.Notifier
	// LogChannel receives operational notices and, when no in-session
	// report number is configured, the delivery report document.
	LogChannel transport.ChatTarget
	// ReportPhone, when set, routes delivery reports through the
	// automation session itself instead of the side-channel.
	ReportPhone string
}

type Server struct {
	cfg   Config
	deps  Deps
	store *Store
	tmpl  *template.Template
	srv   *http.Server
	log   logx.Logger
}

func New(cfg Config, deps Deps, log logx.Logger) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("web templates: %w", err)
	}

	s := &Server{
		cfg:   cfg,
		deps:  deps,
		store: NewStore(cfg.SessionTTL),
		tmpl:  tmpl,
		log:   log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /form", s.withOperator(s.handleForm))
	mux.HandleFunc("POST /submit", s.withOperator(s.handleSubmit))
	mux.HandleFunc("GET /qr", s.withOperator(s.handleQR))
	mux.HandleFunc("GET /send", s.withOperator(s.handleSend))

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

// Start binds the listener synchronously, so address errors surface to the
// caller, then serves under the supervisor.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("web server listening", logx.String("addr", ln.Addr().String()))

	s.deps.Sup.Go0("web.serve", func(context.Context) {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("web server stopped", logx.Err(err))
		}
	})
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("template render failed", logx.String("template", name), logx.Err(err))
	}
}

// begone is the catch-all rejection page: unauthenticated access, invalid
// submissions, upstream failures. It never leaks internal detail.
func (s *Server) begone(w http.ResponseWriter, status int, reason string) {
	s.render(w, status, "begone.html", struct{ Reason string }{Reason: reason})
}

// notice pushes an operational note to the side-channel without blocking
// the request. Failures are logged and dropped.
func (s *Server) notice(text string) {
	s.deps.Sup.Go0("web.notice", func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		msg := "<b>Hermes</b>:\n" + html.EscapeString(text)
		err := s.deps.Notifier.SendText(ctx, s.deps.LogChannel, msg, &transport.SendOptions{ParseMode: "HTML"})
		if err != nil {
			s.log.Warn("side-channel notice failed", logx.Err(err))
		}
	})
}

// destination picks where the job's delivery report goes: through the
// session itself when a report number is configured, otherwise as a
// document on the side-channel.
func (s *Server) destination(sess *session.Session) report.Destination {
	if s.deps.ReportPhone != "" {
		return report.Phone{Sender: sess.Client(), Number: s.deps.ReportPhone}
	}
	return report.Channel{
		Notifier: s.deps.Notifier,
		Target:   s.deps.LogChannel,
		SpoolDir: s.deps.Spool.Dir(),
	}
}
