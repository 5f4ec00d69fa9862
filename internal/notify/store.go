// Package notify persists durable notification records.
//
// The dispatcher only forwards notification events; the records themselves
// live here and are re-fetched by clients after a reconnect, which is why
// the realtime layer never needs redelivery.
package notify

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openteams/pulse/internal/db"
)

// Notification is one durable record.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store reads and writes notification rows.
type Store struct {
	db *db.DB
}

// NewStore creates a notification store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create persists a notification and returns it with its assigned ID.
func (s *Store) Create(userID, kind string, payload map[string]any) (Notification, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Notification{}, fmt.Errorf("marshal payload: %w", err)
	}

	n := Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.Exec(`
		INSERT INTO notifications (id, user_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Kind, string(raw), n.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Notification{}, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// MarkRead stamps a notification as read. Marking an unknown or already-read
// notification is a no-op: disconnect races make "already gone" an expected
// outcome.
func (s *Store) MarkRead(notificationID, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE notifications SET read_at = ?
		WHERE id = ? AND user_id = ? AND read_at IS NULL`,
		now, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ListUnread returns a user's unread notifications, oldest first.
func (s *Store) ListUnread(userID string) ([]Notification, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, kind, payload, read_at, created_at
		FROM notifications
		WHERE user_id = ? AND read_at IS NULL
		ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var raw string
		var readAt sql.NullString
		var createdAt string

		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &raw, &readAt, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &n.Payload); err != nil {
			n.Payload = map[string]any{}
		}
		if readAt.Valid {
			if ts, err := time.Parse(time.RFC3339, readAt.String); err == nil {
				n.ReadAt = &ts
			}
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			n.CreatedAt = ts
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
