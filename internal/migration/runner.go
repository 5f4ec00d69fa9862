package migration

import (
	"database/sql"
	"fmt"
	"time"
)

// Runner applies pending migrations against a database.
type Runner struct {
	db *sql.DB
}

// NewRunner creates a migration runner.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// EnsureTable creates the tracking table if it does not exist.
func (r *Runner) EnsureTable() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS _schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}
	return nil
}

// GetApplied returns all applied migrations, ordered by version ascending.
func (r *Runner) GetApplied() ([]Migration, error) {
	rows, err := r.db.Query(`
		SELECT version, name, applied_at
		FROM _schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var migrations []Migration
	for rows.Next() {
		var m Migration
		var appliedAt string
		if err := rows.Scan(&m.Version, &m.Name, &appliedAt); err != nil {
			return nil, err
		}
		m.AppliedAt, _ = time.Parse("2006-01-02 15:04:05", appliedAt)
		migrations = append(migrations, m)
	}
	return migrations, rows.Err()
}

// Apply runs every migration not yet recorded, in version order. Each
// migration executes inside its own transaction.
func (r *Runner) Apply(migrations []Migration) error {
	if err := r.EnsureTable(); err != nil {
		return err
	}

	applied, err := r.GetApplied()
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		if err := r.applyOne(m); err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (r *Runner) applyOne(m Migration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO _schema_migrations (version, name) VALUES (?, ?)`,
		m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
