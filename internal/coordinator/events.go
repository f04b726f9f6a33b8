package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/quillmail/quill/internal/agent"
	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/mail"
)

// commonFolders are prefetched in the background once the folder list is
// known, so switching into them is instant.
var commonFolders = []string{"Sent", "Drafts", "Trash", "Spam", "Junk", "Archive"}

// handleAccountEvent routes one drained agent or monitor event. Monitor
// events and events from inactive accounts take the light side paths;
// only active-account main-path events mutate the view.
func (c *Coordinator) handleAccountEvent(ctx context.Context, ev agent.AccountEvent) {
	if ev.Folder != "" {
		c.handleMonitorEvent(ctx, ev)
		return
	}
	if ev.AccountIndex != c.pool.Active() {
		c.handleInactiveEvent(ctx, ev)
		return
	}

	switch e := ev.Event.(type) {
	case mail.Connected:
		c.setStatus("connected")
		c.requestFolders(ev.AccountID)

	case mail.SyncStarted:
		c.state.Loading = true
		c.dirty = true

	case mail.SyncComplete:
		c.state.Loading = false
		c.reloadFromCache(ctx)
		c.requestFolders(ev.AccountID)

	case mail.NewMail:
		c.setStatus(fmt.Sprintf("%d new message(s)", e.Count))

	case mail.BodyFetched:
		delete(c.inflight, e.UID)
		c.markBodyCached(e.UID)

	case mail.BodyFetchFailed:
		delete(c.inflight, e.UID)
		log.Printf("coordinator: body fetch %d: %v", e.UID, e.Err)

	case mail.FlagUpdated:
		c.applyFlags(ctx, e.UID, e.Flags)

	case mail.Deleted:
		c.refreshCounts(ctx)

	case mail.FolderList:
		c.state.Folders = e.Folders
		c.prefetchCommonFolders(e.Folders)
		c.dirty = true

	case mail.FolderSelected:
		c.setStatus("folder: " + e.Folder)

	case mail.PrefetchComplete:
		log.Printf("coordinator: prefetched %s", e.Folder)

	case mail.AttachmentFetched:
		// Stale completion for a message no longer selected: log only.
		if h := c.selectedHeader(); h != nil && h.UID == e.UID {
			c.setStatus("attachment saved: " + e.Path)
		} else {
			log.Printf("coordinator: attachment %d/%d saved to %s", e.UID, e.Index, e.Path)
		}

	case mail.AttachmentFetchFailed:
		c.setError(fmt.Sprintf("attachment fetch failed: %v", e.Err))

	case mail.ErrorEvent:
		c.setError(e.Message)
	}
}

// handleMonitorEvent handles events from folder monitors. The monitor
// already wrote the cache; the view only cares in conversation mode,
// where Sent mail of the active account is merged into the list.
func (c *Coordinator) handleMonitorEvent(ctx context.Context, ev agent.AccountEvent) {
	switch ev.Event.(type) {
	case mail.SyncComplete, mail.NewMail:
		if c.conversationMode && ev.AccountID == c.state.AccountID && isSentFolder(ev.Folder) {
			c.reloadFromCache(ctx)
		}
	case mail.ErrorEvent:
		log.Printf("coordinator: monitor %s/%s: %s",
			ev.AccountID, ev.Folder, ev.Event.(mail.ErrorEvent).Message)
	}
}

// handleInactiveEvent handles main-path events from accounts other than
// the active one. The pool already bumped the badge; new mail is also
// recorded as a notification so it survives restarts.
func (c *Coordinator) handleInactiveEvent(ctx context.Context, ev agent.AccountEvent) {
	switch e := ev.Event.(type) {
	case mail.Connected:
		c.requestFolders(ev.AccountID)
		c.dirty = true

	case mail.NewMail:
		msg := fmt.Sprintf("%d new message(s)", e.Count)
		if err := c.cache.AddNotification(ctx, cache.Notification{
			AccountID: ev.AccountID,
			Folder:    "INBOX",
			Message:   msg,
		}); err != nil {
			log.Printf("coordinator: recording notification: %v", err)
		}
		c.dirty = true

	case mail.SyncComplete:
		c.requestFolders(ev.AccountID)

	case mail.ErrorEvent:
		// The pool keeps LastError; the badge row shows disconnects.
		c.dirty = true
	}
}

// requestFolders asks an account for its folder list exactly once.
func (c *Coordinator) requestFolders(accountID string) {
	if c.foldersRequested[accountID] {
		return
	}
	c.foldersRequested[accountID] = true
	c.pool.SendTo(accountID, mail.ListFolders{})
}

// prefetchCommonFolders kicks one background header sync for each
// well-known folder the server actually has, once per run.
func (c *Coordinator) prefetchCommonFolders(folders []string) {
	if c.foldersPrefetched {
		return
	}
	c.foldersPrefetched = true

	have := make(map[string]string, len(folders))
	for _, f := range folders {
		have[strings.ToLower(f)] = f
	}
	for _, want := range commonFolders {
		if f, ok := have[strings.ToLower(want)]; ok {
			c.pool.Send(mail.PrefetchFolder{Folder: f})
		}
	}
}

// markBodyCached flips the loaded header's body flag so prefetch does
// not re-request it.
func (c *Coordinator) markBodyCached(uid uint32) {
	for i := range c.state.Headers {
		if c.state.Headers[i].UID == uid && c.state.Headers[i].Folder == "" {
			c.state.Headers[i].BodyCached = true
			break
		}
	}
	// A cached body can satisfy a body search that is already displayed.
	if c.state.Search.Query != "" {
		c.scheduleSearch()
	}
	c.dirty = true
}

// applyFlags replaces a header's flags with the server-confirmed set.
func (c *Coordinator) applyFlags(ctx context.Context, uid uint32, flags mail.Flags) {
	for i := range c.state.Headers {
		if c.state.Headers[i].UID != uid || c.state.Headers[i].Folder != "" {
			continue
		}
		c.state.Headers[i].Flags = flags
		mail.RecomputeUnread(c.state.Threads, c.state.Headers, uid)
		break
	}
	c.refreshCounts(ctx)
}
