// Package presence bridges live connection state to durable presence rows.
//
// A row's is_online flag is derived from the registry's live count, never
// set independently, so two tabs of the same user racing a disconnect and
// a reconnect cannot flicker the user offline.
package presence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/openteams/pulse/internal/db"
)

// LiveCounter answers "how many live connections exist for this pair?".
// Satisfied by *registry.Registry.
type LiveCounter interface {
	ConnectionsFor(userID, workspaceID string) int
}

// Record is one durable presence row.
type Record struct {
	UserID           string    `json:"user_id"`
	WorkspaceID      string    `json:"workspace_id"`
	LastConnectionID string    `json:"last_connection_id"`
	LastSeen         time.Time `json:"last_seen"`
	IsOnline         bool      `json:"is_online"`
}

// Adapter is the only component that writes the presence table.
type Adapter struct {
	db    *db.DB
	conns LiveCounter
}

// NewAdapter creates a presence adapter backed by the given store.
func NewAdapter(database *db.DB, conns LiveCounter) *Adapter {
	return &Adapter{db: database, conns: conns}
}

// MarkOnline upserts the presence row for a pair, flipping it online and
// refreshing last_seen and last_connection_id unconditionally.
func (a *Adapter) MarkOnline(userID, workspaceID, connID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := a.db.Exec(`
		INSERT INTO presence (user_id, workspace_id, last_connection_id, last_seen, is_online)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(user_id, workspace_id) DO UPDATE SET
			last_connection_id = excluded.last_connection_id,
			last_seen = excluded.last_seen,
			is_online = 1`,
		userID, workspaceID, connID, now)
	if err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

// MarkOfflineIfNoConnections flips a pair offline only when the registry
// reports zero remaining live connections for it. The registry read happens
// here, after any unregister in the same logical disconnect, which is what
// closes the two-tab race.
func (a *Adapter) MarkOfflineIfNoConnections(userID, workspaceID string) error {
	if a.conns.ConnectionsFor(userID, workspaceID) > 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := a.db.Exec(`
		UPDATE presence SET is_online = 0, last_seen = ?
		WHERE user_id = ? AND workspace_id = ?`,
		now, userID, workspaceID)
	if err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

// Heartbeat refreshes last_seen across all of a user's presence rows,
// independent of any per-workspace binding.
func (a *Adapter) Heartbeat(userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := a.db.Exec(
		`UPDATE presence SET last_seen = ? WHERE user_id = ?`, now, userID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// ListOnline returns the online presence rows for a workspace.
func (a *Adapter) ListOnline(workspaceID string) ([]Record, error) {
	rows, err := a.db.Query(`
		SELECT user_id, workspace_id, last_connection_id, last_seen, is_online
		FROM presence
		WHERE workspace_id = ? AND is_online = 1
		ORDER BY user_id`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns the presence row for a pair, if one exists.
func (a *Adapter) Get(userID, workspaceID string) (Record, bool, error) {
	row := a.db.QueryRow(`
		SELECT user_id, workspace_id, last_connection_id, last_seen, is_online
		FROM presence
		WHERE user_id = ? AND workspace_id = ?`,
		userID, workspaceID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var lastConn sql.NullString
	var lastSeen string
	var online int

	if err := s.Scan(&rec.UserID, &rec.WorkspaceID, &lastConn, &lastSeen, &online); err != nil {
		return Record{}, err
	}
	rec.LastConnectionID = lastConn.String
	rec.IsOnline = online != 0
	if ts, err := time.Parse(time.RFC3339, lastSeen); err == nil {
		rec.LastSeen = ts
	} else if ts, err := time.Parse("2006-01-02 15:04:05", lastSeen); err == nil {
		// SQLite datetime('now') default for rows not yet touched by Go
		rec.LastSeen = ts
	}
	return rec, nil
}
