// Package mail defines the local data model shared by the cache, the
// account agents, and the coordinator: email headers, flag bitmasks,
// pagination cursors, and conversation threads.
package mail

// Flags is a bitmask of standard message flags.
type Flags uint32

const (
	FlagSeen Flags = 1 << iota
	FlagStarred
	FlagAnswered
	FlagDeleted
	FlagDraft
)

// Has reports whether all bits in f are set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// With returns the flag set with f added.
func (fl Flags) With(f Flags) Flags { return fl | f }

// Without returns the flag set with f removed.
func (fl Flags) Without(f Flags) Flags { return fl &^ f }

// EmailHeader is the cached metadata for one message. Identity is
// (account, folder, uid); a uid is unique only within one account+folder.
type EmailHeader struct {
	UID            uint32
	MessageID      string
	Subject        string
	FromAddr       string
	FromName       string
	ToAddr         string
	Date           int64 // unix seconds, ordering key together with UID
	Flags          Flags
	HasAttachments bool
	Preview        string
	BodyCached     bool
	InReplyTo      string
	References     []string

	// Folder is set when the header came from a monitored folder that is
	// merged into the primary view (e.g. Sent mail in conversation mode).
	// Empty means the currently selected folder.
	Folder string
}

// Seen reports whether the message carries the read flag.
func (h *EmailHeader) Seen() bool { return h.Flags.Has(FlagSeen) }

// Starred reports whether the message carries the starred flag.
func (h *EmailHeader) Starred() bool { return h.Flags.Has(FlagStarred) }

// Cursor marks a keyset-pagination position: the (date, uid) of the oldest
// loaded message. It only ever moves strictly older.
type Cursor struct {
	Date int64
	UID  uint32
}

// CursorOf returns the cursor key of a header.
func CursorOf(h *EmailHeader) Cursor {
	return Cursor{Date: h.Date, UID: h.UID}
}

// Before reports whether the (date, uid) key sorts strictly older than c
// under the descending (date, uid) ordering.
func (c Cursor) Before(date int64, uid uint32) bool {
	if date != c.Date {
		return date < c.Date
	}
	return uid < c.UID
}

// CacheKey builds the per-account, per-folder key under which headers are
// stored in the local cache.
func CacheKey(accountID, folder string) string {
	return accountID + "/" + folder
}
