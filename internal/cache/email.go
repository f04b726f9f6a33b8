package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/quillmail/quill/internal/mail"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// InsertHeaders inserts or updates a batch of headers under one cache key.
// An update refreshes everything the server may have changed but preserves
// body_cached, which only InsertBody and DeleteEmail manage.
func (c *Cache) InsertHeaders(ctx context.Context, key string, headers []mail.EmailHeader) error {
	if len(headers) == 0 {
		return nil
	}

	unlock := c.lockKey(key)
	defer unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO emails (
			account_id, uid, message_id, subject,
			from_addr, from_name, to_addr, date, flags,
			has_attachments, preview, body_cached,
			in_reply_to, references_json, folder
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, uid) DO UPDATE SET
			message_id = excluded.message_id,
			subject = excluded.subject,
			from_addr = excluded.from_addr,
			from_name = excluded.from_name,
			to_addr = excluded.to_addr,
			date = excluded.date,
			flags = excluded.flags,
			has_attachments = excluded.has_attachments,
			preview = excluded.preview,
			in_reply_to = excluded.in_reply_to,
			references_json = excluded.references_json,
			folder = excluded.folder`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing header upsert: %w", err)
	}
	defer stmt.Close()

	for _, h := range headers {
		refs, err := json.Marshal(h.References)
		if err != nil {
			return fmt.Errorf("marshaling references for uid %d: %w", h.UID, err)
		}

		_, err = stmt.ExecContext(ctx,
			key, h.UID, h.MessageID, h.Subject,
			h.FromAddr, h.FromName, h.ToAddr, h.Date, uint32(h.Flags),
			boolToInt(h.HasAttachments), h.Preview, boolToInt(h.BodyCached),
			h.InReplyTo, string(refs), h.Folder,
		)
		if err != nil {
			return fmt.Errorf("upserting header uid %d: %w", h.UID, err)
		}
	}

	return tx.Commit()
}

// EmailsBeforeCursor returns up to limit headers strictly older than the
// cursor under the descending (date, uid) ordering, newest first. A nil
// cursor returns the newest page.
func (c *Cache) EmailsBeforeCursor(
	ctx context.Context,
	key string,
	cursor *mail.Cursor,
	limit int,
) ([]mail.EmailHeader, error) {
	query := "SELECT * FROM emails WHERE account_id = ?"
	args := []interface{}{key}

	if cursor != nil {
		query += " AND (date < ? OR (date = ? AND uid < ?))"
		args = append(args, cursor.Date, cursor.Date, cursor.UID)
	}

	query += " ORDER BY date DESC, uid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	var headers []mail.EmailHeader
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}

	return headers, rows.Err()
}

// Email retrieves a single header by uid.
func (c *Cache) Email(ctx context.Context, key string, uid uint32) (*mail.EmailHeader, error) {
	rows, err := c.db.QueryxContext(ctx,
		"SELECT * FROM emails WHERE account_id = ? AND uid = ?", key, uid)
	if err != nil {
		return nil, fmt.Errorf("querying email %d: %w", uid, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("email %d: %w", uid, ErrNotFound)
	}

	h, err := scanHeader(rows)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// EmailCount returns the number of cached headers under one cache key.
func (c *Cache) EmailCount(ctx context.Context, key string) (int, error) {
	var count int
	err := c.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM emails WHERE account_id = ?", key)
	if err != nil {
		return 0, fmt.Errorf("counting emails: %w", err)
	}
	return count, nil
}

// UnreadCount returns the number of cached headers lacking the seen flag.
func (c *Cache) UnreadCount(ctx context.Context, key string) (int, error) {
	var count int
	err := c.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM emails WHERE account_id = ? AND flags & ? = 0",
		key, uint32(mail.FlagSeen))
	if err != nil {
		return 0, fmt.Errorf("counting unread emails: %w", err)
	}
	return count, nil
}

// UpdateFlags replaces the flag bitmask of one cached header.
func (c *Cache) UpdateFlags(ctx context.Context, key string, uid uint32, flags mail.Flags) error {
	unlock := c.lockKey(key)
	defer unlock()

	result, err := c.db.ExecContext(ctx,
		"UPDATE emails SET flags = ? WHERE account_id = ? AND uid = ?",
		uint32(flags), key, uid)
	if err != nil {
		return fmt.Errorf("updating flags for uid %d: %w", uid, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("email %d: %w", uid, ErrNotFound)
	}
	return nil
}

// DeleteEmail removes one message and its body, search index entry, and
// attachments.
func (c *Cache) DeleteEmail(ctx context.Context, key string, uid uint32) error {
	unlock := c.lockKey(key)
	defer unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM emails WHERE account_id = ? AND uid = ?",
		"DELETE FROM bodies WHERE account_id = ? AND uid = ?",
		"DELETE FROM bodies_fts WHERE account_id = ? AND uid = ?",
		"DELETE FROM attachments WHERE account_id = ? AND uid = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, key, uid); err != nil {
			return fmt.Errorf("deleting email %d: %w", uid, err)
		}
	}

	return tx.Commit()
}

// scanHeader scans an email row from a sqlx.Rows result set.
func scanHeader(rows *sqlx.Rows) (mail.EmailHeader, error) {
	var (
		h              mail.EmailHeader
		accountID      string
		flags          uint32
		hasAttachments int
		bodyCached     int
		refsJSON       string
	)

	err := rows.Scan(
		&accountID, &h.UID, &h.MessageID, &h.Subject,
		&h.FromAddr, &h.FromName, &h.ToAddr, &h.Date, &flags,
		&hasAttachments, &h.Preview, &bodyCached,
		&h.InReplyTo, &refsJSON, &h.Folder,
	)
	if err != nil {
		return mail.EmailHeader{}, fmt.Errorf("scanning email row: %w", err)
	}

	h.Flags = mail.Flags(flags)
	h.HasAttachments = hasAttachments != 0
	h.BodyCached = bodyCached != 0

	if refsJSON != "" && refsJSON != "[]" {
		if err := json.Unmarshal([]byte(refsJSON), &h.References); err != nil {
			return mail.EmailHeader{}, fmt.Errorf("unmarshaling references: %w", err)
		}
	}

	return h, nil
}
