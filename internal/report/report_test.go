package report

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	kit "hermes/internal/transport"
	logx "hermes/pkg/logx"
)

type fakeNotifier struct {
	texts []string
	docs  []kit.Document
	body  string
	err   error
}

func (f *fakeNotifier) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeNotifier) SendDocument(_ context.Context, _ kit.ChatTarget, doc kit.Document) error {
	f.docs = append(f.docs, doc)
	if b, err := os.ReadFile(doc.Path); err == nil {
		f.body = string(b)
	}
	return f.err
}

func TestOutcomeText(t *testing.T) {
	t.Parallel()
	var out Outcome
	out.AddDelivered(1, "A", "https://chat/9999")
	out.AddFailed(2, "B", "https://chat/8888")

	text := out.Text()
	wantTop := "Messages sent to :\n1. A : https://chat/9999"
	if !strings.HasPrefix(text, wantTop) {
		t.Fatalf("text = %q", text)
	}
	if !strings.Contains(text, "Messages not sent to :\n2. B : https://chat/8888") {
		t.Fatalf("text missing failed section: %q", text)
	}
}

func TestOutcomeTextEmptySections(t *testing.T) {
	t.Parallel()
	text := Outcome{}.Text()
	if !strings.Contains(text, "Messages sent to :") || !strings.Contains(text, "Messages not sent to :") {
		t.Fatalf("empty outcome still needs both sections: %q", text)
	}
}

func TestChannelSpoolsAndCleansUp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fn := &fakeNotifier{}
	ch := Channel{Notifier: fn, Target: kit.ChatTarget{ChatID: 42}, SpoolDir: dir}

	var out Outcome
	out.AddDelivered(1, "A", "uri")
	if err := ch.Deliver(context.Background(), "run by alice", out.Text()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(fn.docs) != 1 {
		t.Fatalf("docs = %d", len(fn.docs))
	}
	if fn.docs[0].Caption != "run by alice" {
		t.Fatalf("caption = %q", fn.docs[0].Caption)
	}
	if !strings.Contains(fn.body, "1. A : uri") {
		t.Fatalf("artifact body = %q", fn.body)
	}
	// Artifact must be gone after the hand-off.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("spool not cleaned: %d entries", len(entries))
	}
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) SendText(_ context.Context, phone, text string) error {
	f.sent = append(f.sent, phone+"|"+text)
	return f.err
}

func TestPhoneDeliversInSession(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	p := Phone{Sender: fs, Number: "919999"}
	if err := p.Deliver(context.Background(), "cap", "body"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(fs.sent) != 1 || !strings.HasPrefix(fs.sent[0], "919999|cap") {
		t.Fatalf("sent = %v", fs.sent)
	}
}

func TestReporterSwallowsFailures(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{err: errors.New("socket closed")}
	r := NewReporter(logx.Nop())
	// Must not panic or propagate.
	r.Report(context.Background(), Phone{Sender: fs, Number: "1"}, "cap", Outcome{})
}
