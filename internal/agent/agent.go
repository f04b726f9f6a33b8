package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/internal/retry"
)

const (
	commandBuffer = 32
	eventBuffer   = 64
)

// Agent is the actor owning one account's session. Commands arrive on a
// bounded channel; results leave as events on another. Sync results are
// written to the cache before the corresponding event is emitted, so an
// observer of SyncComplete always finds the headers already cached.
type Agent struct {
	accountID string
	session   Session
	cache     *cache.Cache
	attachDir string

	folder       string
	syncInterval time.Duration

	cmds   chan mail.Command
	events chan mail.Event
	done   chan struct{}
}

// New creates an agent for one account. Run must be called on its own
// goroutine.
func New(accountID string, session Session, c *cache.Cache, attachDir string, syncInterval time.Duration) *Agent {
	return &Agent{
		accountID:    accountID,
		session:      session,
		cache:        c,
		attachDir:    attachDir,
		folder:       "INBOX",
		syncInterval: syncInterval,
		cmds:         make(chan mail.Command, commandBuffer),
		events:       make(chan mail.Event, eventBuffer),
		done:         make(chan struct{}),
	}
}

// Events exposes the agent's event channel for draining.
func (a *Agent) Events() <-chan mail.Event { return a.events }

// Send enqueues a command without blocking. A full channel drops the
// command; the caller treats dispatch as fire-and-forget.
func (a *Agent) Send(cmd mail.Command) bool {
	select {
	case a.cmds <- cmd:
		return true
	default:
		log.Printf("agent %s: command channel full, dropping %T", a.accountID, cmd)
		return false
	}
}

// Done is closed when the agent goroutine has exited.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Run is the agent goroutine body. It exits on context cancellation or a
// Shutdown command.
func (a *Agent) Run(ctx context.Context) {
	defer close(a.done)
	defer a.session.Close()

	for !a.connect(ctx) {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmds:
			if _, ok := cmd.(mail.Shutdown); ok {
				return
			}
			a.emit(mail.ErrorEvent{Message: fmt.Sprintf("%s: not connected", a.accountID)})
		case <-time.After(a.syncInterval):
		}
	}

	a.emit(mail.Connected{})
	a.syncFolder(ctx, a.folder, false)

	ticker := time.NewTicker(a.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmds:
			if _, ok := cmd.(mail.Shutdown); ok {
				return
			}
			a.handle(ctx, cmd)
		case <-ticker.C:
			a.syncFolder(ctx, a.folder, false)
		}
	}
}

// connect dials with bounded backoff and reports success.
func (a *Agent) connect(ctx context.Context) bool {
	_, err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.session.Connect(ctx)
	})
	if err != nil {
		log.Printf("agent %s: connect failed: %v", a.accountID, err)
		a.emit(mail.ErrorEvent{Message: fmt.Sprintf("%s: connection failed: %v", a.accountID, err)})
		return false
	}
	return true
}

func (a *Agent) handle(ctx context.Context, cmd mail.Command) {
	switch c := cmd.(type) {
	case mail.Sync:
		a.syncFolder(ctx, a.folder, false)

	case mail.ListFolders:
		folders, err := a.session.ListFolders(ctx)
		if err != nil {
			a.emitErr("listing folders", err)
			return
		}
		a.emit(mail.FolderList{Folders: folders})

	case mail.SelectFolder:
		a.folder = c.Folder
		a.emit(mail.FolderSelected{Folder: c.Folder})
		a.syncFolder(ctx, c.Folder, false)

	case mail.FetchBody:
		a.fetchBody(ctx, a.resolveFolder(c.Folder), c.UID)

	case mail.SetFlag:
		a.storeFlag(ctx, a.resolveFolder(c.Folder), c.UID, c.Flag, true)

	case mail.RemoveFlag:
		a.storeFlag(ctx, a.resolveFolder(c.Folder), c.UID, c.Flag, false)

	case mail.Delete:
		folder := a.resolveFolder(c.Folder)
		if err := a.session.Delete(ctx, folder, c.UID); err != nil {
			a.emitErr("deleting message", err)
			return
		}
		key := mail.CacheKey(a.accountID, folder)
		if err := a.cache.DeleteEmail(ctx, key, c.UID); err != nil {
			log.Printf("agent %s: cache delete %d: %v", a.accountID, c.UID, err)
		}
		a.emit(mail.Deleted{UID: c.UID})

	case mail.FetchAttachment:
		a.fetchAttachment(ctx, a.resolveFolder(c.Folder), c.UID, c.Index)

	case mail.PrefetchFolder:
		a.syncFolder(ctx, c.Folder, true)
	}
}

// resolveFolder defaults an empty command folder to the selected one.
func (a *Agent) resolveFolder(folder string) string {
	if folder == "" {
		return a.folder
	}
	return folder
}

// syncFolder runs one folder synchronization. prefetch suppresses the
// foreground sync events in favor of a single PrefetchComplete.
func (a *Agent) syncFolder(ctx context.Context, folder string, prefetch bool) {
	if !prefetch {
		a.emit(mail.SyncStarted{})
	}

	result, err := a.session.Sync(ctx, folder)
	if err != nil {
		// One reconnect cycle before giving up on this sync.
		if !a.connect(ctx) {
			return
		}
		result, err = a.session.Sync(ctx, folder)
		if err != nil {
			a.emitErr("syncing "+folder, err)
			return
		}
	}

	key := mail.CacheKey(a.accountID, folder)
	if err := a.cache.InsertHeaders(ctx, key, result.Headers); err != nil {
		a.emitErr("caching headers", err)
		return
	}

	if prefetch {
		a.emit(mail.PrefetchComplete{Folder: folder})
		return
	}

	a.emit(mail.SyncComplete{
		NewCount: result.NewCount,
		Total:    result.Total,
		FullSync: result.FullSync,
	})
	if result.NewCount > 0 {
		a.emit(mail.NewMail{Count: result.NewCount})
	}
}

func (a *Agent) fetchBody(ctx context.Context, folder string, uid uint32) {
	result, err := a.session.FetchBody(ctx, folder, uid)
	if err != nil {
		a.emit(mail.BodyFetchFailed{UID: uid, Err: err.Error()})
		return
	}

	key := mail.CacheKey(a.accountID, folder)
	if err := a.cache.InsertBody(ctx, key, uid, result.Body, result.Raw); err != nil {
		a.emit(mail.BodyFetchFailed{UID: uid, Err: err.Error()})
		return
	}
	for _, att := range result.Attachments {
		if err := a.cache.InsertAttachment(ctx, key, att); err != nil {
			log.Printf("agent %s: caching attachment %d/%d: %v", a.accountID, uid, att.Index, err)
		}
	}

	a.emit(mail.BodyFetched{UID: uid, Body: result.Body})
}

func (a *Agent) storeFlag(ctx context.Context, folder string, uid uint32, flag mail.Flags, add bool) {
	flags, err := a.session.Store(ctx, folder, uid, flag, add)
	if err != nil {
		a.emitErr("updating flags", err)
		return
	}

	key := mail.CacheKey(a.accountID, folder)
	if err := a.cache.UpdateFlags(ctx, key, uid, flags); err != nil {
		log.Printf("agent %s: cache flags %d: %v", a.accountID, uid, err)
	}
	a.emit(mail.FlagUpdated{UID: uid, Flags: flags})
}

func (a *Agent) fetchAttachment(ctx context.Context, folder string, uid uint32, index int) {
	key := mail.CacheKey(a.accountID, folder)

	// The raw message cached with the body lets extraction run offline;
	// only fall back to the server when it was never fetched.
	var path string
	var err error
	if raw, rawErr := a.cache.RawMessage(ctx, key, uid); rawErr == nil {
		path, err = saveAttachmentPart(raw, uid, index, a.attachDir)
	} else {
		path, err = a.session.FetchAttachment(ctx, folder, uid, index, a.attachDir)
	}
	if err != nil {
		a.emit(mail.AttachmentFetchFailed{UID: uid, Index: index, Err: err.Error()})
		return
	}

	if att, err := a.cache.Attachment(ctx, key, uid, index); err == nil {
		att.Path = path
		if err := a.cache.InsertAttachment(ctx, key, *att); err != nil {
			log.Printf("agent %s: caching attachment path: %v", a.accountID, err)
		}
	}

	a.emit(mail.AttachmentFetched{UID: uid, Index: index, Path: path})
}

func (a *Agent) emitErr(what string, err error) {
	a.emit(mail.ErrorEvent{Message: fmt.Sprintf("%s: %v", what, err)})
}

// emit sends an event without blocking. A full channel drops the event;
// the next sync or poll regenerates anything that matters.
func (a *Agent) emit(ev mail.Event) {
	select {
	case a.events <- ev:
	default:
		log.Printf("agent %s: event channel full, dropping %T", a.accountID, ev)
	}
}
