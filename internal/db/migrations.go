package db

import (
	"fmt"

	"github.com/openteams/pulse/internal/migration"
)

// Built-in coordinator schema, applied in version order.
var migrations = []migration.Migration{
	{
		Version: "20250301000000",
		Name:    "create_presence",
		SQL: `
CREATE TABLE presence (
    user_id            TEXT NOT NULL,
    workspace_id       TEXT NOT NULL,
    last_connection_id TEXT,
    last_seen          TEXT DEFAULT (datetime('now')),
    is_online          INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, workspace_id)
);

CREATE INDEX idx_presence_workspace ON presence(workspace_id);
CREATE INDEX idx_presence_online ON presence(workspace_id, is_online);
`,
	},
	{
		Version: "20250315000000",
		Name:    "create_notifications",
		SQL: `
CREATE TABLE notifications (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    kind        TEXT NOT NULL DEFAULT 'generic',
    payload     TEXT DEFAULT '{}' CHECK (json_valid(payload)),
    read_at     TEXT,
    created_at  TEXT DEFAULT (datetime('now'))
);

CREATE INDEX idx_notifications_user ON notifications(user_id, created_at);
CREATE INDEX idx_notifications_unread ON notifications(user_id) WHERE read_at IS NULL;
`,
	},
}

// RunMigrations applies any pending schema migrations. Safe to re-run on
// every startup.
func (d *DB) RunMigrations() error {
	if err := migration.NewRunner(d.DB).Apply(migrations); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
