// Package sendjob runs the asynchronous resolve→send→report→teardown
// pipeline for one operator request. A job owns its session for its whole
// life and releases it exactly once on every exit path.
package sendjob

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hermes/internal/report"
	"hermes/internal/roster"
	"hermes/internal/runtime/supervisor"
	"hermes/internal/session"
	logx "hermes/pkg/logx"
)

// Job is the context bundle captured by value at launch time. The
// originating request state may be gone before the job finishes, so
// nothing here may reference it.
type Job struct {
	ID        string
	Operator  string
	Session   *session.Session
	Source    roster.Source
	Selection roster.Selection
	Message   string
	Dest      report.Destination
}

// NewJob snapshots one send request and assigns it an id.
func NewJob(operator string, s *session.Session, src roster.Source, sel roster.Selection, message string, dest report.Destination) Job {
	return Job{
		ID:        uuid.NewString(),
		Operator:  operator,
		Session:   s,
		Source:    src,
		Selection: sel,
		Message:   message,
		Dest:      dest,
	}
}

// phase names the job's position in its state machine, for logs.
type phase string

const (
	phaseResolving phase = "resolving"
	phaseSending   phase = "sending"
	phaseReporting phase = "reporting"
	phaseClosing   phase = "closing-session"
	phaseDone      phase = "done"
)

type Config struct {
	// RatePerSec paces delivery attempts. Default 1.
	RatePerSec int
	// ChatLinkBase prefixes the per-recipient uri in report lines.
	ChatLinkBase string
	// CountryCode feeds the resolver. Default "91".
	CountryCode string
}

// Runner executes send jobs. One Runner serves the whole process; each Run
// call is an independent job.
type Runner struct {
	cfg      Config
	resolver roster.Resolver
	reg      *session.Registry
	reporter *report.Reporter
	log      logx.Logger
}

func NewRunner(cfg Config, reg *session.Registry, reporter *report.Reporter, log logx.Logger) *Runner {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.ChatLinkBase == "" {
		cfg.ChatLinkBase = "https://api.whatsapp.com/send?phone="
	}
	return &Runner{
		cfg:      cfg,
		resolver: roster.Resolver{CountryCode: cfg.CountryCode},
		reg:      reg,
		reporter: reporter,
		log:      log,
	}
}

// Launch runs the job under the supervisor so failures stay observable and
// shutdown can wait for in-flight jobs. The call returns immediately.
func (r *Runner) Launch(sup *supervisor.Supervisor, job Job) {
	sup.Go0("sendjob."+job.ID, func(ctx context.Context) {
		r.Run(ctx, job)
	})
}

// Run executes the full pipeline and returns the accumulated outcome.
// Teardown is unconditional: whatever resolving, sending or reporting did,
// the session is closed exactly once and the registry entry cleared.
func (r *Runner) Run(ctx context.Context, job Job) (out report.Outcome) {
	log := r.log.With(logx.String("job", job.ID), logx.String("operator", job.Operator))
	start := time.Now()

	defer func() {
		// Top-level safety net: an unclassified failure anywhere in the
		// job must never leak the automation session.
		if p := recover(); p != nil {
			log.Error("send job panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}

		log.Debug("phase", logx.String("phase", string(phaseReporting)))
		// The in-session destination needs the session alive, so reporting
		// precedes teardown. The job's context may already be canceled by
		// shutdown; reporting still deserves a bounded attempt.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		r.reporter.Report(rctx, job.Dest, r.caption(job), out)
		cancel()

		log.Debug("phase", logx.String("phase", string(phaseClosing)))
		if err := job.Session.Close(); err != nil {
			log.Warn("session close failed", logx.Err(err))
		}
		r.reg.Remove(job.Operator)

		log.Info("send job done",
			logx.String("phase", string(phaseDone)),
			logx.Int("delivered", len(out.Delivered)),
			logx.Int("failed", len(out.Failed)),
			logx.Duration("dur", time.Since(start)))
	}()

	log.Info("send job started", logx.String("source", job.Source.Describe()), logx.String("selection", job.Selection.String()))
	log.Debug("phase", logx.String("phase", string(phaseResolving)))

	recs, err := r.resolver.Resolve(ctx, job.Source, job.Selection)
	if err != nil {
		// Resolution failure aborts before any delivery attempt. The
		// deferred block still reports the (empty) tally and closes the
		// session; nothing is dropped silently.
		log.Error("recipient resolution failed", logx.Err(err))
		return
	}

	log.Debug("phase", logx.String("phase", string(phaseSending)), logx.Int("recipients", len(recs)))
	limiter := rate.NewLimiter(rate.Limit(r.cfg.RatePerSec), 1)

	for i, rec := range recs {
		if err := limiter.Wait(ctx); err != nil {
			// Shutdown mid-batch: everything not yet attempted is a failure.
			log.Warn("send loop interrupted", logx.Err(err), logx.Int("remaining", len(recs)-i))
			for _, rest := range recs[i:] {
				out.AddFailed(rest.ID, rest.Name, r.chatLink(rest.Phone))
			}
			return
		}

		uri := r.chatLink(rec.Phone)
		log.Info("delivery attempt", logx.Int("id", rec.ID), logx.String("name", rec.Name), logx.String("uri", uri))

		if err := r.sendOne(ctx, job, rec); err != nil {
			// One recipient's failure never aborts the batch.
			log.Warn("delivery failed", logx.Int("id", rec.ID), logx.String("name", rec.Name), logx.Err(err))
			out.AddFailed(rec.ID, rec.Name, uri)
			continue
		}
		out.AddDelivered(rec.ID, rec.Name, uri)
	}
	return
}

// sendOne isolates a single delivery attempt, converting panics out of the
// driver into ordinary per-recipient failures.
func (r *Runner) sendOne(ctx context.Context, job Job, rec roster.Recipient) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &attemptPanicError{val: p}
		}
	}()
	return job.Session.Client().SendText(ctx, rec.Phone, Render(job.Message, rec))
}

func (r *Runner) chatLink(phone string) string {
	return r.cfg.ChatLinkBase + phone
}

func (r *Runner) caption(job Job) string {
	return "Delivery report for run by " + job.Operator
}

type attemptPanicError struct{ val any }

func (e *attemptPanicError) Error() string {
	return fmt.Sprintf("delivery attempt panicked: %v", e.val)
}
