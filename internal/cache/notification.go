package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification records the arrival of new mail on an account that is not
// currently on screen. It backs the per-account badge counts.
type Notification struct {
	ID        string
	AccountID string
	Folder    string
	Message   string
	Read      bool
	CreatedAt time.Time
}

// AddNotification inserts a new notification record.
// Generates a UUID if ID is empty.
func (c *Cache) AddNotification(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO notifications (id, account_id, folder, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.AccountID, n.Folder, n.Message, boolToInt(n.Read), n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("adding notification: %w", err)
	}
	return nil
}

// UnreadNotifications retrieves all unread notifications for one account,
// newest first.
func (c *Cache) UnreadNotifications(ctx context.Context, accountID string) ([]Notification, error) {
	rows, err := c.db.QueryxContext(ctx,
		"SELECT * FROM notifications WHERE account_id = ? AND read = 0 ORDER BY created_at DESC",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("querying unread notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var (
			n       Notification
			readInt int
		)
		err := rows.Scan(&n.ID, &n.AccountID, &n.Folder, &n.Message, &readInt, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		n.Read = readInt != 0
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationsRead marks every notification for one account as read.
func (c *Cache) MarkNotificationsRead(ctx context.Context, accountID string) error {
	_, err := c.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE account_id = ?", accountID)
	if err != nil {
		return fmt.Errorf("marking notifications read: %w", err)
	}
	return nil
}
