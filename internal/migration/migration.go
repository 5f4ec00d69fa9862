// Package migration tracks and applies the coordinator's schema migrations
// via the _schema_migrations table.
package migration

import "time"

// Migration is one versioned schema change.
type Migration struct {
	Version   string    // ordered version key (YYYYMMDDHHmmss)
	Name      string    // human-readable name
	SQL       string    // statements to execute
	AppliedAt time.Time // when applied (zero if pending)
}
