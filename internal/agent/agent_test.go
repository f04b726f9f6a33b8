package agent_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quillmail/quill/internal/agent"
	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/tests/testutil"
)

// fakeSession is an in-memory Session for driving agents in tests.
type fakeSession struct {
	mu          sync.Mutex
	connectFail int
	connects    int
	headers     []mail.EmailHeader
	newCount    int
	body        string
	raw         []byte
	flags       mail.Flags
	deleted     []uint32
	attachCalls int
}

func (f *fakeSession) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connects <= f.connectFail {
		return errors.New("dial failed")
	}
	return nil
}

func (f *fakeSession) ListFolders(context.Context) ([]string, error) {
	return []string{"INBOX", "Sent", "Trash"}, nil
}

func (f *fakeSession) Sync(_ context.Context, folder string) (*agent.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &agent.SyncResult{
		Headers:  f.headers,
		NewCount: f.newCount,
		Total:    len(f.headers),
		FullSync: true,
	}, nil
}

func (f *fakeSession) FetchBody(context.Context, string, uint32) (*agent.BodyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.body == "" {
		return nil, errors.New("no such message")
	}
	return &agent.BodyResult{Body: f.body, Raw: f.raw}, nil
}

func (f *fakeSession) FetchAttachment(_ context.Context, _ string, uid uint32, index int, destDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	return destDir + "/fake", nil
}

func (f *fakeSession) Store(_ context.Context, _ string, _ uint32, flag mail.Flags, add bool) (mail.Flags, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if add {
		f.flags = f.flags.With(flag)
	} else {
		f.flags = f.flags.Without(flag)
	}
	return f.flags, nil
}

func (f *fakeSession) Delete(_ context.Context, _ string, uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, uid)
	return nil
}

func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeSession) attachmentCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachCalls
}

// waitFor drains events until match accepts one, failing the test after
// a timeout.
func waitFor(t *testing.T, events <-chan mail.Event, match func(mail.Event) bool) mail.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func startAgent(t *testing.T, fs *fakeSession) *agent.Agent {
	t.Helper()
	c := testutil.NewTestCache(t)
	a := agent.New("alice@example.com", fs, c, t.TempDir(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		a.Send(mail.Shutdown{})
		select {
		case <-a.Done():
		case <-time.After(2 * time.Second):
			t.Error("agent did not shut down")
		}
		cancel()
	})

	return a
}

func TestAgentSyncCachesBeforeEvent(t *testing.T) {
	c := testutil.NewTestCache(t)
	fs := &fakeSession{headers: []mail.EmailHeader{{UID: 1, Subject: "hello", Date: 1000}}}
	a := agent.New("alice@example.com", fs, c, t.TempDir(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer func() {
		a.Send(mail.Shutdown{})
		<-a.Done()
	}()

	waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.SyncComplete)
		return ok
	})

	// The header must already be in the cache when SyncComplete is seen.
	h, err := c.Email(ctx, "alice@example.com/INBOX", 1)
	if err != nil {
		t.Fatalf("header not cached at SyncComplete: %v", err)
	}
	if h.Subject != "hello" {
		t.Errorf("cached subject = %q", h.Subject)
	}
}

func TestAgentReconnectsWithBackoff(t *testing.T) {
	fs := &fakeSession{connectFail: 1}
	a := startAgent(t, fs)

	waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.Connected)
		return ok
	})

	if got := fs.connectCount(); got < 2 {
		t.Errorf("connects = %d, want at least 2 (one failure, one retry)", got)
	}
}

func TestAgentFlagCommand(t *testing.T) {
	c := testutil.NewTestCache(t)
	fs := &fakeSession{headers: []mail.EmailHeader{{UID: 5, Date: 1000}}}
	a := agent.New("alice@example.com", fs, c, t.TempDir(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer func() {
		a.Send(mail.Shutdown{})
		<-a.Done()
	}()

	waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.SyncComplete)
		return ok
	})

	a.Send(mail.SetFlag{UID: 5, Flag: mail.FlagSeen})
	ev := waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.FlagUpdated)
		return ok
	})

	if fl := ev.(mail.FlagUpdated); !fl.Flags.Has(mail.FlagSeen) {
		t.Errorf("event flags = %v, want seen set", fl.Flags)
	}
	h, err := c.Email(ctx, "alice@example.com/INBOX", 5)
	if err != nil {
		t.Fatalf("fetching cached header: %v", err)
	}
	if !h.Seen() {
		t.Error("cache flags not updated")
	}
}

func TestAgentDeleteCommand(t *testing.T) {
	c := testutil.NewTestCache(t)
	fs := &fakeSession{headers: []mail.EmailHeader{{UID: 9, Date: 1000}}}
	a := agent.New("alice@example.com", fs, c, t.TempDir(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer func() {
		a.Send(mail.Shutdown{})
		<-a.Done()
	}()

	waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.SyncComplete)
		return ok
	})

	a.Send(mail.Delete{UID: 9})
	waitFor(t, a.Events(), func(ev mail.Event) bool {
		d, ok := ev.(mail.Deleted)
		return ok && d.UID == 9
	})

	if _, err := c.Email(ctx, "alice@example.com/INBOX", 9); err == nil {
		t.Error("deleted message still in cache")
	}
}

const rawWithAttachment = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: report\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"qb\"\r\n" +
	"\r\n" +
	"--qb\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"numbers attached\r\n" +
	"--qb\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"q3.csv\"\r\n" +
	"\r\n" +
	"a,b,c\r\n" +
	"--qb--\r\n"

func TestAgentAttachmentFromCachedRaw(t *testing.T) {
	fs := &fakeSession{
		headers: []mail.EmailHeader{{UID: 4, Date: 1000}},
		body:    "numbers attached",
		raw:     []byte(rawWithAttachment),
	}
	a := startAgent(t, fs)

	waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.SyncComplete)
		return ok
	})

	// Fetching the body caches the raw message.
	a.Send(mail.FetchBody{UID: 4})
	waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.BodyFetched)
		return ok
	})

	a.Send(mail.FetchAttachment{UID: 4, Index: 1})
	ev := waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.AttachmentFetched)
		return ok
	})

	fetched := ev.(mail.AttachmentFetched)
	data, err := os.ReadFile(fetched.Path)
	if err != nil {
		t.Fatalf("reading saved attachment: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "a,b,c" {
		t.Errorf("attachment content = %q, want a,b,c", got)
	}

	// The raw message was cached, so no attachment hit the session.
	if n := fs.attachmentCalls(); n != 0 {
		t.Errorf("session attachment fetches = %d, want 0", n)
	}
}

func TestAgentBodyFetchFailure(t *testing.T) {
	fs := &fakeSession{} // no body configured
	a := startAgent(t, fs)

	waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.SyncComplete)
		return ok
	})

	a.Send(mail.FetchBody{UID: 1})
	ev := waitFor(t, a.Events(), func(ev mail.Event) bool {
		_, ok := ev.(mail.BodyFetchFailed)
		return ok
	})
	if f := ev.(mail.BodyFetchFailed); f.UID != 1 || f.Err == "" {
		t.Errorf("failure event = %+v", f)
	}
}
