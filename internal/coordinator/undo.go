package coordinator

import (
	"fmt"
	"sort"
	"time"

	"github.com/quillmail/quill/internal/mail"
)

type undoKind int

const (
	undoFlag undoKind = iota
	undoDelete
)

// undoEntry records one reversible action together with the account and
// folder it happened in. Undo is refused when that context no longer
// matches.
type undoEntry struct {
	Kind      undoKind
	UID       uint32
	Flag      mail.Flags
	PrevSet   bool
	AccountID string
	Folder    string
}

// pendingDeletion is an optimistically removed message waiting out its
// grace window. Until the sweep commits it, undo can bring it back
// without any network traffic.
type pendingDeletion struct {
	UID         uint32
	Header      mail.EmailHeader
	InitiatedAt time.Time
	AccountID   string
	Folder      string
}

// deleteSelected removes the newest message of the selected thread from
// view immediately and queues the real deletion behind the grace window.
func (c *Coordinator) deleteSelected() {
	h := c.selectedHeader()
	if h == nil {
		return
	}
	if h.Folder != "" {
		// Monitored-folder mail is read-only in the merged view; the
		// recorded context would point at the wrong folder's uid.
		c.setStatus("message is in " + h.Folder)
		return
	}
	removed := *h

	c.removeHeader(removed.UID)
	c.regroup()

	c.pending = append(c.pending, pendingDeletion{
		UID:         removed.UID,
		Header:      removed,
		InitiatedAt: c.now(),
		AccountID:   c.state.AccountID,
		Folder:      c.state.Folder,
	})
	c.undo = append(c.undo, undoEntry{
		Kind:      undoDelete,
		UID:       removed.UID,
		AccountID: c.state.AccountID,
		Folder:    c.state.Folder,
	})

	c.setStatus("deleted — press u to undo")
}

// undoLast reverses the most recent undoable action. An entry from a
// different account or folder is refused with a visible error and stays
// on the stack.
func (c *Coordinator) undoLast() {
	if len(c.undo) == 0 {
		c.setStatus("nothing to undo")
		return
	}
	e := c.undo[len(c.undo)-1]

	if e.AccountID != c.state.AccountID || e.Folder != c.state.Folder {
		c.setError(fmt.Sprintf("cannot undo: action was in %s/%s", e.AccountID, e.Folder))
		return
	}
	c.undo = c.undo[:len(c.undo)-1]

	switch e.Kind {
	case undoFlag:
		c.restoreFlag(e)
	case undoDelete:
		c.restoreDeletion(e)
	}
}

// restoreFlag reverses a read/star toggle locally and dispatches the
// compensating command.
func (c *Coordinator) restoreFlag(e undoEntry) {
	for i := range c.state.Headers {
		if c.state.Headers[i].UID != e.UID {
			continue
		}
		if e.PrevSet {
			c.state.Headers[i].Flags = c.state.Headers[i].Flags.With(e.Flag)
			c.pool.SendTo(e.AccountID, mail.SetFlag{UID: e.UID, Flag: e.Flag, Folder: e.Folder})
		} else {
			c.state.Headers[i].Flags = c.state.Headers[i].Flags.Without(e.Flag)
			c.pool.SendTo(e.AccountID, mail.RemoveFlag{UID: e.UID, Flag: e.Flag, Folder: e.Folder})
		}
		mail.RecomputeUnread(c.state.Threads, c.state.Headers, e.UID)
		c.setStatus("undone")
		c.dirty = true
		return
	}
	c.setError("cannot undo: message no longer loaded")
}

// restoreDeletion cancels a pending deletion and reinstates the message.
// No command was ever dispatched, so no network traffic happens here.
func (c *Coordinator) restoreDeletion(e undoEntry) {
	idx := -1
	for i, p := range c.pending {
		if p.UID == e.UID && p.AccountID == e.AccountID && p.Folder == e.Folder {
			idx = i
			break
		}
	}
	if idx < 0 {
		// The sweep already committed it.
		c.setError("too late to undo: deletion already committed")
		return
	}

	header := c.pending[idx].Header
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)

	c.insertHeader(header)
	c.regroup()
	c.selectThreadWith(header.UID)
	c.setStatus("deletion undone")
}

// sweepPending commits every pending deletion older than the grace
// window: the Delete command is dispatched exactly once, to the account
// and folder that recorded it, and the entry plus its undo record are
// dropped.
func (c *Coordinator) sweepPending() {
	if len(c.pending) == 0 {
		return
	}

	now := c.now()
	keep := c.pending[:0]
	for _, p := range c.pending {
		if now.Sub(p.InitiatedAt) < c.grace {
			keep = append(keep, p)
			continue
		}
		c.pool.SendTo(p.AccountID, mail.Delete{UID: p.UID, Folder: p.Folder})
		c.pruneUndoFor(p)
	}
	c.pending = keep
}

// flushPending runs at shutdown: deletions recorded by the active
// account are committed immediately; the rest are dropped uncommitted.
func (c *Coordinator) flushPending() {
	active := c.pool.ActiveID()
	for _, p := range c.pending {
		if p.AccountID != active {
			continue
		}
		c.pool.SendTo(p.AccountID, mail.Delete{UID: p.UID, Folder: p.Folder})
	}
	c.pending = nil
}

// pruneUndoFor drops the undo entry of a committed deletion.
func (c *Coordinator) pruneUndoFor(p pendingDeletion) {
	keep := c.undo[:0]
	for _, e := range c.undo {
		if e.Kind == undoDelete && e.UID == p.UID &&
			e.AccountID == p.AccountID && e.Folder == p.Folder {
			continue
		}
		keep = append(keep, e)
	}
	c.undo = keep
}

// removeHeader drops one message from the loaded slice.
func (c *Coordinator) removeHeader(uid uint32) {
	for i := range c.state.Headers {
		if c.state.Headers[i].UID == uid {
			c.state.Headers = append(c.state.Headers[:i], c.state.Headers[i+1:]...)
			return
		}
	}
}

// insertHeader puts a message back, preserving the descending
// (date, uid) order of the loaded slice.
func (c *Coordinator) insertHeader(h mail.EmailHeader) {
	headers := c.state.Headers
	pos := sort.Search(len(headers), func(i int) bool {
		if headers[i].Date != h.Date {
			return headers[i].Date < h.Date
		}
		return headers[i].UID < h.UID
	})
	headers = append(headers, mail.EmailHeader{})
	copy(headers[pos+1:], headers[pos:])
	headers[pos] = h
	c.state.Headers = headers
}

// selectThreadWith moves the cursor to the visible thread containing the
// message.
func (c *Coordinator) selectThreadWith(uid uint32) {
	for rank, ti := range c.visibleThreads() {
		th := &c.state.Threads[ti]
		for _, idx := range th.EmailIndices {
			if c.state.Headers[idx].UID == uid {
				c.state.Selected = rank
				return
			}
		}
	}
	c.clampSelection()
}
