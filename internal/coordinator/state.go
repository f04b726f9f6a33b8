// Package coordinator runs the single-threaded event loop that owns all
// mutable UI state. Agents, the AI actor, and the keyboard feed it
// through channels; it feeds the render process immutable snapshots.
package coordinator

import (
	"time"

	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/internal/render"
)

// searchState is the hybrid search: an instant header substring filter
// plus a debounced full-text body match set.
type searchState struct {
	Active      bool
	Query       string
	BodyMatches map[uint32]bool
}

// reset drops the query and every match.
func (s *searchState) reset() {
	s.Active = false
	s.Query = ""
	s.BodyMatches = nil
}

// invalidate drops body matches (headers or grouping changed); the
// query survives and the debounced search re-runs.
func (s *searchState) invalidate() {
	s.BodyMatches = nil
}

// state is every piece of mutable UI data. Only the coordinator
// goroutine touches it; snapshots hand deep copies to the renderer.
type state struct {
	AccountID   string
	AccountName string
	Folder      string
	Folders     []string

	// Headers holds every loaded page, newest first. Threads index into
	// it; both are replaced together.
	Headers   []mail.EmailHeader
	Threads   []mail.Thread
	Selected  int // index into the visible thread list
	Cursor    *mail.Cursor
	AllLoaded bool

	UnreadCount int
	TotalCount  int

	Status    string
	Err       string
	ErrExpiry time.Time
	Loading   bool

	Search searchState

	EmailSummaries  map[uint32]string
	ThreadSummaries map[mail.ThreadID]string
}

// visibleThreads returns the indices of threads passing the search
// filter, in display order.
func (c *Coordinator) visibleThreads() []int {
	if c.state.Search.Query == "" {
		idxs := make([]int, len(c.state.Threads))
		for i := range idxs {
			idxs[i] = i
		}
		return idxs
	}

	query := normalizeQuery(c.state.Search.Query)
	var idxs []int
	for i := range c.state.Threads {
		if c.threadMatches(&c.state.Threads[i], query) {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// threadMatches applies the hybrid filter: header substring or body
// full-text match on any member.
func (c *Coordinator) threadMatches(th *mail.Thread, query string) bool {
	for _, idx := range th.EmailIndices {
		h := &c.state.Headers[idx]
		if headerMatches(h, query) {
			return true
		}
		if c.state.Search.BodyMatches[h.UID] {
			return true
		}
	}
	return false
}

// selectedThread returns the thread under the cursor, or nil when the
// visible list is empty.
func (c *Coordinator) selectedThread() *mail.Thread {
	visible := c.visibleThreads()
	if len(visible) == 0 || c.state.Selected >= len(visible) {
		return nil
	}
	return &c.state.Threads[visible[c.state.Selected]]
}

// selectedHeader returns the newest message of the selected thread.
func (c *Coordinator) selectedHeader() *mail.EmailHeader {
	th := c.selectedThread()
	if th == nil {
		return nil
	}
	return th.Latest(c.state.Headers)
}

// clampSelection keeps the cursor inside the visible list.
func (c *Coordinator) clampSelection() {
	n := len(c.visibleThreads())
	if n == 0 {
		c.state.Selected = 0
		return
	}
	if c.state.Selected >= n {
		c.state.Selected = n - 1
	}
	if c.state.Selected < 0 {
		c.state.Selected = 0
	}
}

// snapshot deep-copies everything one frame needs. The renderer never
// sees live state.
func (c *Coordinator) snapshot() *render.Snapshot {
	snap := &render.Snapshot{
		AccountName: c.state.AccountName,
		Folder:      c.state.Folder,
		UnreadCount: c.state.UnreadCount,
		TotalCount:  c.state.TotalCount,
		Search:      c.state.Search.Query,
		Status:      c.state.Status,
		Error:       c.state.Err,
		Loading:     c.state.Loading,
	}

	active := c.pool.Active()
	for i, st := range c.pool.Statuses() {
		name := st.Name
		if name == "" {
			name = st.ID
		}
		snap.Badges = append(snap.Badges, render.AccountBadge{
			Name:      name,
			NewMail:   st.NewMailCount,
			Connected: st.Connected,
			Active:    i == active,
		})
	}

	for rank, ti := range c.visibleThreads() {
		th := &c.state.Threads[ti]
		latest := th.Latest(c.state.Headers)
		if latest == nil {
			continue
		}

		from := latest.FromName
		if from == "" {
			from = latest.FromAddr
		}
		row := render.ThreadRow{
			Subject:        latest.Subject,
			From:           from,
			Date:           latest.Date,
			Unread:         th.UnreadCount,
			Total:          th.TotalCount,
			HasAttachments: th.HasAttachments,
			Starred:        latest.Starred(),
			Selected:       rank == c.state.Selected,
		}
		if sum, ok := c.state.ThreadSummaries[th.ID]; ok {
			row.Summary = sum
		} else if sum, ok := c.state.EmailSummaries[latest.UID]; ok {
			row.Summary = sum
		}
		snap.Rows = append(snap.Rows, row)
	}

	return snap
}

func headerMatches(h *mail.EmailHeader, query string) bool {
	return containsFold(h.Subject, query) ||
		containsFold(h.FromAddr, query) ||
		containsFold(h.FromName, query)
}
