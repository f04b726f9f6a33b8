package cache

import (
	"context"
	"fmt"
	"strings"
)

// Attachment is the cached metadata for one message attachment. Path is
// the on-disk location once the attachment bytes have been fetched.
type Attachment struct {
	UID      uint32
	Index    int
	Filename string
	MimeType string
	Size     int64
	Path     string
}

// InsertBody stores a fetched body together with the raw RFC 822 message
// it was parsed from, indexes the text for full-text search, and marks
// the header as body_cached. The raw message lets attachment extraction
// work without another server round-trip.
func (c *Cache) InsertBody(ctx context.Context, key string, uid uint32, body string, raw []byte) error {
	unlock := c.lockKey(key)
	defer unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bodies (account_id, uid, body, raw) VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, uid) DO UPDATE SET
			body = excluded.body,
			raw = excluded.raw`,
		key, uid, body, raw)
	if err != nil {
		return fmt.Errorf("inserting body for uid %d: %w", uid, err)
	}

	// Re-index: FTS5 has no upsert.
	_, err = tx.ExecContext(ctx,
		"DELETE FROM bodies_fts WHERE account_id = ? AND uid = ?", key, uid)
	if err != nil {
		return fmt.Errorf("clearing search index for uid %d: %w", uid, err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO bodies_fts (account_id, uid, body) VALUES (?, ?, ?)",
		key, uid, body)
	if err != nil {
		return fmt.Errorf("indexing body for uid %d: %w", uid, err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE emails SET body_cached = 1 WHERE account_id = ? AND uid = ?",
		key, uid)
	if err != nil {
		return fmt.Errorf("marking body cached for uid %d: %w", uid, err)
	}

	return tx.Commit()
}

// Body retrieves a cached body.
func (c *Cache) Body(ctx context.Context, key string, uid uint32) (string, error) {
	var body string
	err := c.db.GetContext(ctx, &body,
		"SELECT body FROM bodies WHERE account_id = ? AND uid = ?", key, uid)
	if err != nil {
		return "", fmt.Errorf("body for uid %d: %w", uid, ErrNotFound)
	}
	return body, nil
}

// RawMessage retrieves the raw RFC 822 content cached alongside a body.
func (c *Cache) RawMessage(ctx context.Context, key string, uid uint32) ([]byte, error) {
	var raw []byte
	err := c.db.GetContext(ctx, &raw,
		"SELECT raw FROM bodies WHERE account_id = ? AND uid = ?", key, uid)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("raw message for uid %d: %w", uid, ErrNotFound)
	}
	return raw, nil
}

// SearchBodies returns the uids of cached bodies matching the query via
// full-text search. The query is treated as literal text, not FTS syntax.
func (c *Cache) SearchBodies(ctx context.Context, key, query string) ([]uint32, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	// Quote so user input cannot be parsed as FTS5 operators.
	match := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`

	rows, err := c.db.QueryxContext(ctx,
		"SELECT uid FROM bodies_fts WHERE bodies_fts MATCH ? AND account_id = ?",
		match, key)
	if err != nil {
		return nil, fmt.Errorf("searching bodies: %w", err)
	}
	defer rows.Close()

	var uids []uint32
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		uids = append(uids, uid)
	}

	return uids, rows.Err()
}

// InsertAttachment stores attachment metadata (and, once fetched, its
// on-disk path).
func (c *Cache) InsertAttachment(ctx context.Context, key string, a Attachment) error {
	unlock := c.lockKey(key)
	defer unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO attachments (account_id, uid, idx, filename, mime_type, size, path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, uid, idx) DO UPDATE SET
			filename = excluded.filename,
			mime_type = excluded.mime_type,
			size = excluded.size,
			path = excluded.path`,
		key, a.UID, a.Index, a.Filename, a.MimeType, a.Size, a.Path)
	if err != nil {
		return fmt.Errorf("inserting attachment %d/%d: %w", a.UID, a.Index, err)
	}
	return nil
}

// Attachments returns the attachment metadata for one message, ordered by
// part index.
func (c *Cache) Attachments(ctx context.Context, key string, uid uint32) ([]Attachment, error) {
	rows, err := c.db.QueryxContext(ctx,
		"SELECT uid, idx, filename, mime_type, size, path FROM attachments WHERE account_id = ? AND uid = ? ORDER BY idx",
		key, uid)
	if err != nil {
		return nil, fmt.Errorf("querying attachments for uid %d: %w", uid, err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		err := rows.Scan(&a.UID, &a.Index, &a.Filename, &a.MimeType, &a.Size, &a.Path)
		if err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

// Attachment retrieves one attachment by message uid and part index.
func (c *Cache) Attachment(ctx context.Context, key string, uid uint32, index int) (*Attachment, error) {
	var a Attachment
	err := c.db.QueryRowxContext(ctx,
		"SELECT uid, idx, filename, mime_type, size, path FROM attachments WHERE account_id = ? AND uid = ? AND idx = ?",
		key, uid, index,
	).Scan(&a.UID, &a.Index, &a.Filename, &a.MimeType, &a.Size, &a.Path)
	if err != nil {
		return nil, fmt.Errorf("attachment %d/%d: %w", uid, index, ErrNotFound)
	}
	return &a, nil
}
