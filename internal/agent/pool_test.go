package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/quillmail/quill/internal/agent"
	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/internal/model"
	"github.com/quillmail/quill/tests/testutil"
)

func startPool(t *testing.T, accounts []model.Account) *agent.Pool {
	t.Helper()
	c := testutil.NewTestCache(t)

	factory := func(acct model.Account) agent.Session {
		return &fakeSession{newCount: 1}
	}
	p := agent.NewPool(accounts, factory, c, t.TempDir(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		p.Shutdown(2 * time.Second)
		cancel()
	})
	return p
}

// pollUntil drains pool events until done reports true over everything
// drained so far.
func pollUntil(t *testing.T, p *agent.Pool, done func([]agent.AccountEvent) bool) []agent.AccountEvent {
	t.Helper()
	var drained []agent.AccountEvent
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		drained = append(drained, p.PollEvents()...)
		if done(drained) {
			return drained
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out polling events; drained %d", len(drained))
	return nil
}

func TestPoolTagsEventsByAccountAndFolder(t *testing.T) {
	accounts := []model.Account{
		{ID: "alice@example.com", Monitors: []string{"Sent"}},
		{ID: "bob@example.com"},
	}
	p := startPool(t, accounts)

	events := pollUntil(t, p, func(evs []agent.AccountEvent) bool {
		var aliceMain, aliceSent, bobMain bool
		for _, ev := range evs {
			if _, ok := ev.Event.(mail.SyncComplete); !ok {
				continue
			}
			switch {
			case ev.AccountIndex == 0 && ev.Folder == "":
				aliceMain = true
			case ev.AccountIndex == 0 && ev.Folder == "Sent":
				aliceSent = true
			case ev.AccountIndex == 1 && ev.Folder == "":
				bobMain = true
			}
		}
		return aliceMain && aliceSent && bobMain
	})

	for _, ev := range events {
		if ev.AccountIndex == 0 && ev.AccountID != "alice@example.com" {
			t.Errorf("index 0 tagged with %q", ev.AccountID)
		}
	}
}

func TestPoolBadgeOnlyForInactiveAccounts(t *testing.T) {
	accounts := []model.Account{
		{ID: "alice@example.com"},
		{ID: "bob@example.com"},
	}
	p := startPool(t, accounts)

	// Both agents report new mail on their first sync; only the inactive
	// account's badge may move.
	pollUntil(t, p, func(evs []agent.AccountEvent) bool {
		var aliceNew, bobNew bool
		for _, ev := range evs {
			if _, ok := ev.Event.(mail.NewMail); ok {
				if ev.AccountIndex == 0 {
					aliceNew = true
				} else {
					bobNew = true
				}
			}
		}
		return aliceNew && bobNew
	})

	if got := p.Status(0).NewMailCount; got != 0 {
		t.Errorf("active account badge = %d, want 0", got)
	}
	if got := p.Status(1).NewMailCount; got == 0 {
		t.Error("inactive account badge = 0, want > 0")
	}
}

func TestPoolAccountSwitchClearsBadge(t *testing.T) {
	accounts := []model.Account{
		{ID: "alice@example.com"},
		{ID: "bob@example.com"},
	}
	p := startPool(t, accounts)

	pollUntil(t, p, func(evs []agent.AccountEvent) bool {
		for _, ev := range evs {
			if _, ok := ev.Event.(mail.NewMail); ok && ev.AccountIndex == 1 {
				return true
			}
		}
		return false
	})

	if p.Status(1).NewMailCount == 0 {
		t.Fatal("expected a badge on the inactive account")
	}

	if got := p.NextAccount(); got != 1 {
		t.Fatalf("NextAccount = %d, want 1", got)
	}
	if got := p.Status(1).NewMailCount; got != 0 {
		t.Errorf("badge after switch = %d, want 0", got)
	}
	if p.ActiveID() != "bob@example.com" {
		t.Errorf("ActiveID = %q", p.ActiveID())
	}

	if got := p.PrevAccount(); got != 0 {
		t.Errorf("PrevAccount = %d, want 0", got)
	}
}

func TestPoolSendTo(t *testing.T) {
	accounts := []model.Account{
		{ID: "alice@example.com"},
		{ID: "bob@example.com"},
	}
	p := startPool(t, accounts)

	if !p.SendTo("bob@example.com", mail.Sync{}) {
		t.Error("SendTo known account failed")
	}
	if p.SendTo("nobody@example.com", mail.Sync{}) {
		t.Error("SendTo unknown account succeeded")
	}
}
