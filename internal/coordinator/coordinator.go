package coordinator

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/quillmail/quill/internal/agent"
	"github.com/quillmail/quill/internal/ai"
	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/input"
	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/internal/model"
	"github.com/quillmail/quill/internal/render"
)

// Poll timeouts for the input step: short while something is in flight,
// relaxed when idle.
const (
	pollBusy = 50 * time.Millisecond
	pollIdle = 150 * time.Millisecond
)

// Config wires the coordinator's collaborators.
type Config struct {
	Cache    *cache.Cache
	Pool     *agent.Pool
	AI       *ai.Actor
	Renderer *render.Renderer
	Keys     <-chan input.Key
	Bindings input.Bindings
	UI       model.UIConfig
}

// Coordinator is the single goroutine owning the UI state. One loop
// iteration performs, in fixed order: drain account events, drain AI
// events, expire the error line, sweep pending deletions, render if
// dirty, fire due prefetch, fire due search, poll input, extend
// pagination. Events always precede input within an iteration.
type Coordinator struct {
	cache    *cache.Cache
	pool     *agent.Pool
	ai       *ai.Actor
	renderer *render.Renderer
	keys     <-chan input.Key
	bindings input.Bindings

	state   state
	undo    []undoEntry
	pending []pendingDeletion
	dirty   bool

	pageSize         int
	grace            time.Duration
	errTTL           time.Duration
	prefetchDebounce time.Duration
	searchDebounce   time.Duration

	// prefetchAt / searchAt are the debounce deadlines; zero means
	// nothing pending.
	prefetchAt time.Time
	searchAt   time.Time
	inflight   map[uint32]bool

	// foldersRequested marks accounts whose folder list has been asked
	// for, so the one-shot ListFolders is not repeated on every sync.
	foldersRequested  map[string]bool
	foldersPrefetched bool
	conversationMode  bool
	quit              bool

	now func() time.Time
}

// New builds a coordinator. Run drives it.
func New(cfg Config) *Coordinator {
	ui := cfg.UI
	if ui.PageSize <= 0 {
		ui.PageSize = 500
	}
	if ui.DeletionGraceSec <= 0 {
		ui.DeletionGraceSec = 10
	}
	if ui.ErrorTTLSec <= 0 {
		ui.ErrorTTLSec = 5
	}
	if ui.PrefetchDebounceMs <= 0 {
		ui.PrefetchDebounceMs = 150
	}
	if ui.SearchDebounceMs <= 0 {
		ui.SearchDebounceMs = 150
	}

	c := &Coordinator{
		cache:            cfg.Cache,
		pool:             cfg.Pool,
		ai:               cfg.AI,
		renderer:         cfg.Renderer,
		keys:             cfg.Keys,
		bindings:         cfg.Bindings,
		pageSize:         ui.PageSize,
		grace:            time.Duration(ui.DeletionGraceSec) * time.Second,
		errTTL:           time.Duration(ui.ErrorTTLSec) * time.Second,
		prefetchDebounce: time.Duration(ui.PrefetchDebounceMs) * time.Millisecond,
		searchDebounce:   time.Duration(ui.SearchDebounceMs) * time.Millisecond,
		inflight:         make(map[uint32]bool),
		foldersRequested: make(map[string]bool),
		conversationMode: ui.ConversationMode,
		now:              time.Now,
	}

	c.state.Folder = "INBOX"
	c.state.EmailSummaries = make(map[uint32]string)
	c.state.ThreadSummaries = make(map[mail.ThreadID]string)
	c.adoptActiveAccount()
	return c
}

// Run is the event loop. It returns after a quit action, once pending
// deletions are flushed, the renderer has acknowledged shutdown, and the
// agents are stopped.
func (c *Coordinator) Run(ctx context.Context) {
	c.reloadFromCache(ctx)
	c.dirty = true

	for !c.quit && ctx.Err() == nil {
		c.iterate(ctx)
	}

	c.flushPending()
	c.renderer.Stop()
	c.pool.Shutdown(5 * time.Second)
}

// iterate performs one fixed-order pass of the loop.
func (c *Coordinator) iterate(ctx context.Context) {
	// 1. account and monitor events
	for _, ev := range c.pool.PollEvents() {
		c.handleAccountEvent(ctx, ev)
	}

	// 2. AI events
	c.drainAIEvents()

	// 3. expire the error line
	if c.state.Err != "" && c.now().After(c.state.ErrExpiry) {
		c.state.Err = ""
		c.dirty = true
	}

	// 4. commit pending deletions past the grace window
	c.sweepPending()

	// 5. publish one snapshot if anything changed
	if c.dirty {
		c.renderer.Render(c.snapshot())
		c.dirty = false
	}

	// 6. body prefetch after its quiet period
	if !c.prefetchAt.IsZero() && c.now().After(c.prefetchAt) {
		c.prefetchAt = time.Time{}
		c.firePrefetch()
	}

	// 7. debounced body search
	if !c.searchAt.IsZero() && c.now().After(c.searchAt) {
		c.searchAt = time.Time{}
		c.fireSearch(ctx)
	}

	// 8. input, with an adaptive timeout
	timeout := pollIdle
	if c.state.Loading || !c.prefetchAt.IsZero() || !c.searchAt.IsZero() {
		timeout = pollBusy
	}
	select {
	case key, ok := <-c.keys:
		if !ok {
			c.quit = true
			return
		}
		c.handleKey(ctx, key)
	case <-time.After(timeout):
	case <-ctx.Done():
		return
	}

	// 9. extend pagination when the cursor nears the end
	c.maybeLoadNextPage(ctx)
}

func (c *Coordinator) drainAIEvents() {
	if c.ai == nil {
		return
	}
	for {
		select {
		case ev := <-c.ai.Events():
			c.handleAIEvent(ev)
		default:
			return
		}
	}
}

func (c *Coordinator) handleAIEvent(ev ai.Event) {
	switch e := ev.(type) {
	case ai.EmailSummary:
		c.state.EmailSummaries[e.UID] = e.Summary
		c.setStatus("summary ready")
	case ai.ThreadSummary:
		c.state.ThreadSummaries[e.ThreadID] = e.Summary
		c.setStatus("thread summary ready")
	case ai.Polished:
		c.setStatus("draft polished")
	case ai.Error:
		c.setError(e.Message)
	}
	c.dirty = true
}

// adoptActiveAccount refreshes the identity fields from the pool.
func (c *Coordinator) adoptActiveAccount() {
	if c.pool == nil || c.pool.Len() == 0 {
		return
	}
	st := c.pool.Status(c.pool.Active())
	c.state.AccountID = st.ID
	c.state.AccountName = st.Name
	if c.state.AccountName == "" {
		c.state.AccountName = st.ID
	}
	c.state.Folders = st.Folders
}

// cacheKey is the active account+folder cache key.
func (c *Coordinator) cacheKey() string {
	return mail.CacheKey(c.state.AccountID, c.state.Folder)
}

// reloadFromCache replaces the loaded headers with a fresh read covering
// at least as much as was loaded before, then regroups.
func (c *Coordinator) reloadFromCache(ctx context.Context) {
	limit := c.pageSize
	if len(c.state.Headers) > limit {
		limit = len(c.state.Headers)
	}

	headers, err := c.cache.EmailsBeforeCursor(ctx, c.cacheKey(), nil, limit)
	if err != nil {
		c.setError("cache read failed: " + err.Error())
		return
	}

	// Exhaustion is a property of the primary folder's page alone; the
	// merged monitored-folder extras below never paginate.
	c.state.AllLoaded = len(headers) < limit

	if c.conversationMode {
		headers = c.mergeMonitoredFolders(ctx, headers)
	}

	c.state.Headers = headers
	c.state.Cursor = nil
	if n := len(headers); n > 0 {
		// The cursor tracks the primary folder only; monitored-folder
		// headers carry a Folder tag and do not paginate.
		for i := n - 1; i >= 0; i-- {
			if headers[i].Folder == "" {
				cur := mail.CursorOf(&headers[i])
				c.state.Cursor = &cur
				break
			}
		}
	}

	c.regroup()
	c.refreshCounts(ctx)
}

// mergeMonitoredFolders mixes monitored Sent mail into the loaded slice
// so replies of the user appear inside inbox conversations.
func (c *Coordinator) mergeMonitoredFolders(ctx context.Context, headers []mail.EmailHeader) []mail.EmailHeader {
	st := c.pool.Status(c.pool.Active())
	for _, folder := range st.Folders {
		if !isSentFolder(folder) {
			continue
		}
		key := mail.CacheKey(c.state.AccountID, folder)
		extra, err := c.cache.EmailsBeforeCursor(ctx, key, nil, c.pageSize)
		if err != nil {
			log.Printf("coordinator: merging %s: %v", folder, err)
			continue
		}
		for i := range extra {
			extra[i].Folder = folder
			headers = append(headers, extra[i])
		}
	}
	return headers
}

// regroup rebuilds threads from scratch and invalidates everything
// derived from grouping.
func (c *Coordinator) regroup() {
	c.state.Threads = mail.GroupThreads(c.state.Headers)
	c.state.Search.invalidate()
	if c.state.Search.Query != "" {
		c.scheduleSearch()
	}
	c.clampSelection()
	c.dirty = true
}

// maybeLoadNextPage pulls one more cache page when the selection is near
// the bottom of the loaded data.
func (c *Coordinator) maybeLoadNextPage(ctx context.Context) {
	if c.state.AllLoaded || c.state.Cursor == nil {
		return
	}
	visible := c.visibleThreads()
	if len(visible) == 0 || c.state.Selected < len(visible)-5 {
		return
	}

	page, err := c.cache.EmailsBeforeCursor(ctx, c.cacheKey(), c.state.Cursor, c.pageSize)
	if err != nil {
		c.setError("cache read failed: " + err.Error())
		return
	}
	if len(page) == 0 {
		c.state.AllLoaded = true
		return
	}

	start := len(c.state.Headers)
	c.state.Headers = append(c.state.Headers, page...)

	// Incremental merge first; a full regroup only on explicit failure.
	if merged, ok := mail.MergeThreads(c.state.Threads, c.state.Headers, start); ok {
		c.state.Threads = merged
		c.state.Search.invalidate()
		if c.state.Search.Query != "" {
			c.scheduleSearch()
		}
		c.clampSelection()
		c.dirty = true
	} else {
		c.regroup()
	}

	cur := mail.CursorOf(&page[len(page)-1])
	c.state.Cursor = &cur
	c.state.AllLoaded = len(page) < c.pageSize
}

// refreshCounts re-reads the folder totals from the cache.
func (c *Coordinator) refreshCounts(ctx context.Context) {
	key := c.cacheKey()
	if total, err := c.cache.EmailCount(ctx, key); err == nil {
		c.state.TotalCount = total
	}
	if unread, err := c.cache.UnreadCount(ctx, key); err == nil {
		c.state.UnreadCount = unread
	}
	c.dirty = true
}

func (c *Coordinator) setStatus(msg string) {
	c.state.Status = msg
	c.dirty = true
}

func (c *Coordinator) setError(msg string) {
	c.state.Err = msg
	c.state.ErrExpiry = c.now().Add(c.errTTL)
	c.dirty = true
}

func (c *Coordinator) scheduleSearch() {
	c.searchAt = c.now().Add(c.searchDebounce)
}

// fireSearch runs the debounced body full-text search for the current
// query.
func (c *Coordinator) fireSearch(ctx context.Context) {
	query := c.state.Search.Query
	if query == "" {
		return
	}

	uids, err := c.cache.SearchBodies(ctx, c.cacheKey(), query)
	if err != nil {
		c.setError("search failed: " + err.Error())
		return
	}

	matches := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		matches[uid] = true
	}
	c.state.Search.BodyMatches = matches
	c.clampSelection()
	c.dirty = true
}

// firePrefetch fetches bodies around the selection that are not cached
// and not already in flight.
func (c *Coordinator) firePrefetch() {
	visible := c.visibleThreads()
	if len(visible) == 0 {
		return
	}

	// The selected thread and its two neighbors.
	for off := 0; off <= 2; off++ {
		rank := c.state.Selected + off
		if rank >= len(visible) {
			break
		}
		th := &c.state.Threads[visible[rank]]
		h := th.Latest(c.state.Headers)
		if h == nil || h.BodyCached || c.inflight[h.UID] || h.Folder != "" {
			continue
		}
		c.inflight[h.UID] = true
		c.pool.Send(mail.FetchBody{UID: h.UID})
	}
}

func isSentFolder(folder string) bool {
	f := strings.ToLower(folder)
	return strings.Contains(f, "sent")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
