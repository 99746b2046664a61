// Package report formats send-job outcomes and pushes them through the
// notification side-channel. Reporting is best-effort by contract: a
// failure here is logged and never changes the job's result.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kit "hermes/internal/transport"
	logx "hermes/pkg/logx"
)

// Outcome partitions one job's recipients into delivered and failed,
// one human-readable line each, in attempt order. It is local to a single
// job and never shared across goroutines.
type Outcome struct {
	Delivered []string
	Failed    []string
}

// Line renders the canonical per-recipient summary: "id. name : uri".
func Line(id int, name, uri string) string {
	return fmt.Sprintf("%d. %s : %s", id, name, uri)
}

func (o *Outcome) AddDelivered(id int, name, uri string) {
	o.Delivered = append(o.Delivered, Line(id, name, uri))
}

func (o *Outcome) AddFailed(id int, name, uri string) {
	o.Failed = append(o.Failed, Line(id, name, uri))
}

// Text renders the two-section report body.
func (o Outcome) Text() string {
	var b strings.Builder
	b.WriteString("Messages sent to :\n")
	b.WriteString(strings.Join(o.Delivered, "\n"))
	b.WriteString("\n\nMessages not sent to :\n")
	b.WriteString(strings.Join(o.Failed, "\n"))
	return b.String()
}

// Destination is where a finished report goes: the external chat-bot
// channel, or a phone number reached through the job's own session.
type Destination interface {
	Deliver(ctx context.Context, caption, body string) error
	Describe() string
}

// Channel delivers the report as a document upload to the side-channel.
// The body is spooled to a temp file for the hand-off and deleted after.
type Channel struct {
	Notifier kit.Notifier
	Target   kit.ChatTarget
	// SpoolDir receives the transient artifact. Empty means os.TempDir().
	SpoolDir string
}

func (c Channel) Describe() string { return fmt.Sprintf("channel %d", c.Target.ChatID) }

func (c Channel) Deliver(ctx context.Context, caption, body string) error {
	dir := c.SpoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "report-*.txt")
	if err != nil {
		return fmt.Errorf("report artifact: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return fmt.Errorf("report artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report artifact: %w", err)
	}

	return c.Notifier.SendDocument(ctx, c.Target, kit.Document{
		Path:     path,
		FileName: filepath.Base(path),
		Caption:  caption,
	})
}

// textSender is the slice of the session capability in-session reporting needs.
type textSender interface {
	SendText(ctx context.Context, phone, text string) error
}

// Phone delivers the report as an in-session message. Must run before the
// session is torn down.
type Phone struct {
	Sender textSender
	Number string
}

func (p Phone) Describe() string { return "phone " + p.Number }

func (p Phone) Deliver(ctx context.Context, caption, body string) error {
	return p.Sender.SendText(ctx, p.Number, caption+"\n\n"+body)
}

// Reporter pushes outcomes to a destination, swallowing (but logging)
// delivery failures.
type Reporter struct {
	log logx.Logger
}

func NewReporter(log logx.Logger) *Reporter {
	return &Reporter{log: log}
}

// Report hands the outcome to the destination. It never fails the job.
func (r *Reporter) Report(ctx context.Context, dest Destination, caption string, out Outcome) {
	if dest == nil {
		return
	}
	if err := dest.Deliver(ctx, caption, out.Text()); err != nil {
		r.log.Warn("report delivery failed",
			logx.String("dest", dest.Describe()),
			logx.Int("delivered", len(out.Delivered)),
			logx.Int("failed", len(out.Failed)),
			logx.Err(err))
		return
	}
	r.log.Info("report delivered", logx.String("dest", dest.Describe()))
}
