package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quillmail/quill/internal/retry"
)

type fakeCompleter struct {
	mu       sync.Mutex
	failures int
	calls    int
	reply    string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("api unavailable")
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "reply to: " + user, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastRetry(maxRetries int) retry.Config {
	return retry.Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func startActor(t *testing.T, fc *fakeCompleter, cfg retry.Config) *Actor {
	t.Helper()
	a := NewActor(fc, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-a.Done():
		case <-time.After(2 * time.Second):
			t.Error("actor did not exit")
		}
	})
	return a
}

func nextEvent(t *testing.T, a *Actor) Event {
	t.Helper()
	select {
	case ev := <-a.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for ai event")
		return nil
	}
}

func TestSummarizeEmail(t *testing.T) {
	fc := &fakeCompleter{reply: "short summary"}
	a := startActor(t, fc, fastRetry(2))

	a.Send(SummarizeEmail{UID: 7, Subject: "Budget", Body: "numbers..."})
	ev := nextEvent(t, a)

	sum, ok := ev.(EmailSummary)
	if !ok {
		t.Fatalf("event = %T, want EmailSummary", ev)
	}
	if sum.UID != 7 || sum.Summary != "short summary" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestSummarizeThread(t *testing.T) {
	fc := &fakeCompleter{}
	a := startActor(t, fc, fastRetry(2))

	a.Send(SummarizeThread{
		ThreadID: "t1",
		Subject:  "Planning",
		Messages: []string{"first", "second"},
	})
	ev := nextEvent(t, a)

	sum, ok := ev.(ThreadSummary)
	if !ok {
		t.Fatalf("event = %T, want ThreadSummary", ev)
	}
	if sum.ThreadID != "t1" {
		t.Errorf("thread id = %q", sum.ThreadID)
	}
	if !strings.Contains(sum.Summary, "Message 2") {
		t.Errorf("prompt did not include both messages: %q", sum.Summary)
	}
}

func TestPolishRetriesTransientFailures(t *testing.T) {
	fc := &fakeCompleter{failures: 2, reply: "polished text"}
	a := startActor(t, fc, fastRetry(3))

	a.Send(Polish{Original: "rough draft"})
	ev := nextEvent(t, a)

	p, ok := ev.(Polished)
	if !ok {
		t.Fatalf("event = %T, want Polished", ev)
	}
	if p.Polished != "polished text" || p.Original != "rough draft" {
		t.Errorf("polished = %+v", p)
	}
	if got := fc.callCount(); got != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", got)
	}
}

func TestErrorAfterRetryBudget(t *testing.T) {
	fc := &fakeCompleter{failures: 100}
	a := startActor(t, fc, fastRetry(2))

	a.Send(SummarizeEmail{UID: 1, Subject: "x", Body: "y"})
	ev := nextEvent(t, a)

	errEv, ok := ev.(Error)
	if !ok {
		t.Fatalf("event = %T, want Error", ev)
	}
	if !strings.Contains(errEv.Message, "summarize failed") {
		t.Errorf("message = %q", errEv.Message)
	}
	if got := fc.callCount(); got != 3 {
		t.Errorf("calls = %d, want 3 (budget of 2 retries)", got)
	}
}
