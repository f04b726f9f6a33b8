package cache_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/tests/testutil"
)

const testKey = "alice@example.com/INBOX"

func insertHeaders(t *testing.T, c *cache.Cache, key string, headers []mail.EmailHeader) {
	t.Helper()
	if err := c.InsertHeaders(context.Background(), key, headers); err != nil {
		t.Fatalf("inserting headers: %v", err)
	}
}

func header(uid uint32, date int64) mail.EmailHeader {
	return mail.EmailHeader{
		UID:      uid,
		Subject:  fmt.Sprintf("Message %d", uid),
		FromAddr: "sender@example.com",
		Date:     date,
	}
}

func TestInsertAndFetch(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	h := header(7, 1000)
	h.MessageID = "m7@test"
	h.References = []string{"m1@test", "m3@test"}
	h.Flags = mail.FlagSeen | mail.FlagStarred
	insertHeaders(t, c, testKey, []mail.EmailHeader{h})

	got, err := c.Email(ctx, testKey, 7)
	if err != nil {
		t.Fatalf("fetching email: %v", err)
	}
	if got.MessageID != "m7@test" || got.Date != 1000 {
		t.Errorf("header mismatch: %+v", got)
	}
	if len(got.References) != 2 || got.References[1] != "m3@test" {
		t.Errorf("references not round-tripped: %v", got.References)
	}
	if !got.Seen() || !got.Starred() {
		t.Errorf("flags not round-tripped: %v", got.Flags)
	}

	if _, err := c.Email(ctx, testKey, 99); err == nil {
		t.Error("expected error for missing email")
	}
}

func TestUpsertPreservesBodyCached(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	insertHeaders(t, c, testKey, []mail.EmailHeader{header(1, 1000)})
	if err := c.InsertBody(ctx, testKey, 1, "hello body", nil); err != nil {
		t.Fatalf("inserting body: %v", err)
	}

	// A re-sync rewrites the header; the cached-body mark must survive.
	insertHeaders(t, c, testKey, []mail.EmailHeader{header(1, 1000)})

	got, err := c.Email(ctx, testKey, 1)
	if err != nil {
		t.Fatalf("fetching email: %v", err)
	}
	if !got.BodyCached {
		t.Error("body_cached lost on header upsert")
	}
}

func TestRawMessageRoundTrip(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	insertHeaders(t, c, testKey, []mail.EmailHeader{header(3, 1000)})

	// Missing before any body fetch.
	if _, err := c.RawMessage(ctx, testKey, 3); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	raw := []byte("From: a@test\r\n\r\nfull rfc822 content")
	if err := c.InsertBody(ctx, testKey, 3, "full rfc822 content", raw); err != nil {
		t.Fatalf("inserting body: %v", err)
	}

	got, err := c.RawMessage(ctx, testKey, 3)
	if err != nil {
		t.Fatalf("raw message: %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("raw = %q, want %q", got, raw)
	}

	// A body stored without raw content reports not-found, not empty bytes.
	insertHeaders(t, c, testKey, []mail.EmailHeader{header(4, 1001)})
	if err := c.InsertBody(ctx, testKey, 4, "plain body", nil); err != nil {
		t.Fatalf("inserting body: %v", err)
	}
	if _, err := c.RawMessage(ctx, testKey, 4); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("err for rawless body = %v, want ErrNotFound", err)
	}
}

func TestPaginationOrderAndCursor(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	// Two share a date: uid must break the tie, higher uid first.
	insertHeaders(t, c, testKey, []mail.EmailHeader{
		header(1, 1000),
		header(2, 3000),
		header(3, 2000),
		header(4, 2000),
	})

	page, err := c.EmailsBeforeCursor(ctx, testKey, nil, 3)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	wantUIDs := []uint32{2, 4, 3}
	for i, want := range wantUIDs {
		if page[i].UID != want {
			t.Fatalf("page[%d].UID = %d, want %d", i, page[i].UID, want)
		}
	}

	cur := mail.CursorOf(&page[len(page)-1])
	next, err := c.EmailsBeforeCursor(ctx, testKey, &cur, 3)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(next) != 1 || next[0].UID != 1 {
		t.Fatalf("second page = %+v, want single uid 1", next)
	}
}

// TestPaginationConcatenation checks the keyset property: paging to
// exhaustion yields exactly the full descending listing, no matter how
// dates collide or where page boundaries fall.
func TestPaginationConcatenation(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(7))
	var headers []mail.EmailHeader
	for uid := uint32(1); uid <= 60; uid++ {
		// Few distinct dates so ties are common.
		headers = append(headers, header(uid, int64(1000+rng.Intn(10)*100)))
	}
	insertHeaders(t, c, testKey, headers)

	full, err := c.EmailsBeforeCursor(ctx, testKey, nil, 1000)
	if err != nil {
		t.Fatalf("full listing: %v", err)
	}
	if len(full) != 60 {
		t.Fatalf("full listing has %d rows, want 60", len(full))
	}

	for _, pageSize := range []int{1, 7, 13, 60} {
		var paged []mail.EmailHeader
		var cursor *mail.Cursor
		for {
			page, err := c.EmailsBeforeCursor(ctx, testKey, cursor, pageSize)
			if err != nil {
				t.Fatalf("page (size %d): %v", pageSize, err)
			}
			if len(page) == 0 {
				break
			}
			paged = append(paged, page...)
			cur := mail.CursorOf(&page[len(page)-1])
			cursor = &cur
		}

		if len(paged) != len(full) {
			t.Fatalf("page size %d: got %d rows, want %d", pageSize, len(paged), len(full))
		}
		for i := range full {
			if paged[i].UID != full[i].UID {
				t.Fatalf("page size %d: row %d uid = %d, want %d",
					pageSize, i, paged[i].UID, full[i].UID)
			}
		}
	}
}

func TestFlagsAndCounts(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	h1 := header(1, 1000)
	h1.Flags = mail.FlagSeen
	insertHeaders(t, c, testKey, []mail.EmailHeader{h1, header(2, 2000), header(3, 3000)})

	total, err := c.EmailCount(ctx, testKey)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}

	unread, err := c.UnreadCount(ctx, testKey)
	if err != nil {
		t.Fatalf("counting unread: %v", err)
	}
	if unread != 2 {
		t.Errorf("unread = %d, want 2", unread)
	}

	if err := c.UpdateFlags(ctx, testKey, 2, mail.FlagSeen); err != nil {
		t.Fatalf("updating flags: %v", err)
	}
	unread, _ = c.UnreadCount(ctx, testKey)
	if unread != 1 {
		t.Errorf("unread after update = %d, want 1", unread)
	}

	if err := c.UpdateFlags(ctx, testKey, 99, mail.FlagSeen); err == nil {
		t.Error("expected error updating flags of missing email")
	}
}

func TestDeleteEmailRemovesEverything(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	insertHeaders(t, c, testKey, []mail.EmailHeader{header(5, 1000)})
	if err := c.InsertBody(ctx, testKey, 5, "searchable content here", nil); err != nil {
		t.Fatalf("inserting body: %v", err)
	}
	att := cache.Attachment{UID: 5, Index: 1, Filename: "report.pdf", MimeType: "application/pdf"}
	if err := c.InsertAttachment(ctx, testKey, att); err != nil {
		t.Fatalf("inserting attachment: %v", err)
	}

	if err := c.DeleteEmail(ctx, testKey, 5); err != nil {
		t.Fatalf("deleting email: %v", err)
	}

	if _, err := c.Email(ctx, testKey, 5); err == nil {
		t.Error("header survived delete")
	}
	if _, err := c.Body(ctx, testKey, 5); err == nil {
		t.Error("body survived delete")
	}
	uids, err := c.SearchBodies(ctx, testKey, "searchable")
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(uids) != 0 {
		t.Errorf("search index survived delete: %v", uids)
	}
	atts, err := c.Attachments(ctx, testKey, 5)
	if err != nil {
		t.Fatalf("listing attachments: %v", err)
	}
	if len(atts) != 0 {
		t.Errorf("attachments survived delete: %v", atts)
	}
}

func TestSearchBodies(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	insertHeaders(t, c, testKey, []mail.EmailHeader{header(1, 1000), header(2, 2000)})
	if err := c.InsertBody(ctx, testKey, 1, "quarterly budget review", nil); err != nil {
		t.Fatalf("inserting body: %v", err)
	}
	if err := c.InsertBody(ctx, testKey, 2, "lunch plans for friday", nil); err != nil {
		t.Fatalf("inserting body: %v", err)
	}

	uids, err := c.SearchBodies(ctx, testKey, "budget")
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(uids) != 1 || uids[0] != 1 {
		t.Errorf("search result = %v, want [1]", uids)
	}

	// Operator characters in user input must not be parsed as FTS syntax.
	if _, err := c.SearchBodies(ctx, testKey, `budget AND "x" OR (`); err != nil {
		t.Errorf("quoted search errored: %v", err)
	}

	uids, err = c.SearchBodies(ctx, testKey, "   ")
	if err != nil || uids != nil {
		t.Errorf("blank query: got (%v, %v), want (nil, nil)", uids, err)
	}
}

func TestCacheKeysIsolated(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	otherKey := "bob@example.com/INBOX"
	insertHeaders(t, c, testKey, []mail.EmailHeader{header(1, 1000)})
	insertHeaders(t, c, otherKey, []mail.EmailHeader{header(1, 5000), header(2, 6000)})

	count, err := c.EmailCount(ctx, testKey)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 1 {
		t.Errorf("count under %q = %d, want 1", testKey, count)
	}

	if err := c.DeleteEmail(ctx, otherKey, 1); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	if _, err := c.Email(ctx, testKey, 1); err != nil {
		t.Errorf("delete under another key removed this key's row: %v", err)
	}
}

func TestNotifications(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := c.AddNotification(ctx, cache.Notification{
			AccountID: "alice@example.com",
			Folder:    "INBOX",
			Message:   fmt.Sprintf("%d new messages", i+1),
		})
		if err != nil {
			t.Fatalf("adding notification: %v", err)
		}
	}
	err := c.AddNotification(ctx, cache.Notification{
		AccountID: "bob@example.com",
		Message:   "1 new message",
	})
	if err != nil {
		t.Fatalf("adding notification: %v", err)
	}

	unread, err := c.UnreadNotifications(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("listing unread: %v", err)
	}
	if len(unread) != 3 {
		t.Fatalf("unread = %d, want 3", len(unread))
	}

	if err := c.MarkNotificationsRead(ctx, "alice@example.com"); err != nil {
		t.Fatalf("marking read: %v", err)
	}
	unread, _ = c.UnreadNotifications(ctx, "alice@example.com")
	if len(unread) != 0 {
		t.Errorf("unread after mark = %d, want 0", len(unread))
	}

	// The other account's notifications are untouched.
	unread, _ = c.UnreadNotifications(ctx, "bob@example.com")
	if len(unread) != 1 {
		t.Errorf("bob unread = %d, want 1", len(unread))
	}
}
