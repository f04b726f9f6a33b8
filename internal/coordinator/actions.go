package coordinator

import (
	"context"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/quillmail/quill/internal/ai"
	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/input"
	"github.com/quillmail/quill/internal/mail"
)

// handleKey dispatches one keystroke. While the search prompt is open,
// printable keys edit the query instead of triggering actions.
func (c *Coordinator) handleKey(ctx context.Context, key input.Key) {
	if c.state.Search.Active {
		c.handleSearchKey(key)
		return
	}

	switch c.bindings.Lookup(key) {
	case input.ActionQuit:
		c.quit = true

	case input.ActionUp:
		c.moveSelection(-1)

	case input.ActionDown:
		c.moveSelection(1)

	case input.ActionOpen:
		c.openSelected()

	case input.ActionToggleRead:
		c.toggleFlag(mail.FlagSeen)

	case input.ActionToggleStar:
		c.toggleFlag(mail.FlagStarred)

	case input.ActionDelete:
		c.deleteSelected()

	case input.ActionUndo:
		c.undoLast()

	case input.ActionSearch:
		c.state.Search.Active = true
		c.dirty = true

	case input.ActionRefresh:
		c.state.Loading = true
		c.pool.Send(mail.Sync{})
		c.dirty = true

	case input.ActionNextAccount:
		c.switchAccount(ctx, c.pool.NextAccount())

	case input.ActionPrevAccount:
		c.switchAccount(ctx, c.pool.PrevAccount())

	case input.ActionNextFolder:
		c.nextFolder(ctx)

	case input.ActionSummarize:
		c.summarizeSelected(ctx)

	case input.ActionSummarizeThread:
		c.summarizeSelectedThread(ctx)

	case input.ActionSaveAttachments:
		c.saveAttachments(ctx)
	}
}

// handleSearchKey edits the live search query. The header filter applies
// on every keystroke; the body full-text pass waits out the debounce.
func (c *Coordinator) handleSearchKey(key input.Key) {
	switch key.Special {
	case input.KeyEscape:
		c.state.Search.reset()
		c.searchAt = time.Time{}
		c.clampSelection()
		c.dirty = true
		return
	case input.KeyEnter:
		// Keep the filter, close the prompt.
		c.state.Search.Active = false
		c.dirty = true
		return
	case input.KeyBackspace:
		q := c.state.Search.Query
		if q != "" {
			_, size := utf8.DecodeLastRuneInString(q)
			c.state.Search.Query = q[:len(q)-size]
		}
	case input.KeyCtrlC:
		c.quit = true
		return
	default:
		if key.Rune == 0 {
			return
		}
		c.state.Search.Query = c.state.Search.Query + string(key.Rune)
	}

	c.state.Search.invalidate()
	if c.state.Search.Query != "" {
		c.scheduleSearch()
	}
	c.clampSelection()
	c.dirty = true
}

func (c *Coordinator) moveSelection(delta int) {
	n := len(c.visibleThreads())
	if n == 0 {
		return
	}
	next := c.state.Selected + delta
	if next < 0 {
		next = 0
	}
	if next >= n {
		next = n - 1
	}
	if next == c.state.Selected {
		return
	}
	c.state.Selected = next
	c.prefetchAt = c.now().Add(c.prefetchDebounce)
	c.dirty = true
}

// openSelected fetches the selected message's body and marks it read.
// The read toggle goes through the regular undoable path.
func (c *Coordinator) openSelected() {
	h := c.selectedHeader()
	if h == nil {
		return
	}
	if h.Folder != "" {
		// Monitored-folder mail is read-only in the merged view.
		c.setStatus("message is in " + h.Folder)
		return
	}

	if !h.BodyCached && !c.inflight[h.UID] {
		c.inflight[h.UID] = true
		c.pool.Send(mail.FetchBody{UID: h.UID})
		c.setStatus("fetching body…")
	}
	if !h.Seen() {
		c.toggleFlag(mail.FlagSeen)
	}
}

// toggleFlag flips a flag on the selected message optimistically, pushes
// the undo entry, and dispatches the real command.
func (c *Coordinator) toggleFlag(flag mail.Flags) {
	h := c.selectedHeader()
	if h == nil || h.Folder != "" {
		return
	}

	prevSet := h.Flags.Has(flag)
	c.undo = append(c.undo, undoEntry{
		Kind:      undoFlag,
		UID:       h.UID,
		Flag:      flag,
		PrevSet:   prevSet,
		AccountID: c.state.AccountID,
		Folder:    c.state.Folder,
	})

	if prevSet {
		h.Flags = h.Flags.Without(flag)
		c.pool.Send(mail.RemoveFlag{UID: h.UID, Flag: flag})
	} else {
		h.Flags = h.Flags.With(flag)
		c.pool.Send(mail.SetFlag{UID: h.UID, Flag: flag})
	}

	if flag == mail.FlagSeen {
		if prevSet {
			c.state.UnreadCount++
		} else if c.state.UnreadCount > 0 {
			c.state.UnreadCount--
		}
	}
	mail.RecomputeUnread(c.state.Threads, c.state.Headers, h.UID)
	c.dirty = true
}

// switchAccount resets the view onto the new active account. The undo
// stack survives; the context guard refuses stale entries.
func (c *Coordinator) switchAccount(ctx context.Context, _ int) {
	c.adoptActiveAccount()
	c.state.Folder = "INBOX"
	c.resetView()

	if err := c.cache.MarkNotificationsRead(ctx, c.state.AccountID); err != nil {
		log.Printf("coordinator: marking notifications read: %v", err)
	}

	c.reloadFromCache(ctx)
	c.state.Loading = true
	c.pool.Send(mail.Sync{})
	c.setStatus("account: " + c.state.AccountName)
}

// nextFolder cycles through the account's folders, showing cached
// headers immediately and syncing in the background.
func (c *Coordinator) nextFolder(ctx context.Context) {
	folders := c.state.Folders
	if len(folders) == 0 {
		c.setError("folder list not loaded yet")
		return
	}

	next := 0
	for i, f := range folders {
		if f == c.state.Folder {
			next = (i + 1) % len(folders)
			break
		}
	}
	c.state.Folder = folders[next]
	c.resetView()

	c.reloadFromCache(ctx)
	c.pool.Send(mail.SelectFolder{Folder: c.state.Folder})
	c.state.Loading = true
	c.pool.Send(mail.Sync{})
	c.setStatus("folder: " + c.state.Folder)
}

// resetView drops everything tied to the previous account+folder view.
func (c *Coordinator) resetView() {
	c.state.Headers = nil
	c.state.Threads = nil
	c.state.Selected = 0
	c.state.Cursor = nil
	c.state.AllLoaded = false
	c.state.Search.reset()
	c.state.EmailSummaries = make(map[uint32]string)
	c.state.ThreadSummaries = make(map[mail.ThreadID]string)
	c.inflight = make(map[uint32]bool)
	c.prefetchAt = time.Time{}
	c.searchAt = time.Time{}
	c.dirty = true
}

// summarizeSelected asks the AI actor for a one-line summary of the
// selected message. The body must already be cached.
func (c *Coordinator) summarizeSelected(ctx context.Context) {
	if c.ai == nil {
		c.setError("assistant not configured")
		return
	}
	h := c.selectedHeader()
	if h == nil {
		return
	}
	if _, ok := c.state.EmailSummaries[h.UID]; ok {
		return
	}

	body, err := c.bodyFor(ctx, h)
	if err != nil {
		return
	}
	c.ai.Send(ai.SummarizeEmail{UID: h.UID, Subject: h.Subject, Body: body})
	c.setStatus("summarizing…")
}

// summarizeSelectedThread summarizes the whole conversation from the
// cached bodies of its members.
func (c *Coordinator) summarizeSelectedThread(ctx context.Context) {
	if c.ai == nil {
		c.setError("assistant not configured")
		return
	}
	th := c.selectedThread()
	if th == nil {
		return
	}
	if _, ok := c.state.ThreadSummaries[th.ID]; ok {
		return
	}

	var messages []string
	for _, idx := range th.EmailIndices {
		h := &c.state.Headers[idx]
		body, err := c.bodyFor(ctx, h)
		if err != nil {
			return
		}
		messages = append(messages, body)
	}

	latest := th.Latest(c.state.Headers)
	c.ai.Send(ai.SummarizeThread{ThreadID: th.ID, Subject: latest.Subject, Messages: messages})
	c.setStatus("summarizing thread…")
}

// saveAttachments downloads every attachment of the selected message to
// the local attachment directory. Attachment metadata only exists once
// the body was fetched.
func (c *Coordinator) saveAttachments(ctx context.Context) {
	h := c.selectedHeader()
	if h == nil || h.Folder != "" {
		return
	}
	if !h.HasAttachments {
		c.setStatus("no attachments")
		return
	}

	atts, err := c.cache.Attachments(ctx, c.cacheKey(), h.UID)
	if err != nil {
		c.setError("cache read failed: " + err.Error())
		return
	}
	if len(atts) == 0 {
		c.setError("open the message first to index its attachments")
		return
	}

	for _, att := range atts {
		if att.Path != "" {
			continue // already on disk
		}
		c.pool.Send(mail.FetchAttachment{UID: h.UID, Index: att.Index})
	}
	c.setStatus("downloading attachments…")
}

// bodyFor reads a cached body, requesting a fetch when it is missing.
func (c *Coordinator) bodyFor(ctx context.Context, h *mail.EmailHeader) (string, error) {
	folder := c.state.Folder
	if h.Folder != "" {
		folder = h.Folder
	}
	key := mail.CacheKey(c.state.AccountID, folder)

	body, err := c.cache.Body(ctx, key, h.UID)
	if err == nil {
		return body, nil
	}
	if errors.Is(err, cache.ErrNotFound) {
		if h.Folder == "" && !c.inflight[h.UID] {
			c.inflight[h.UID] = true
			c.pool.Send(mail.FetchBody{UID: h.UID})
		}
		c.setError("body not cached yet; fetching")
		return "", err
	}
	c.setError("cache read failed: " + err.Error())
	return "", err
}
