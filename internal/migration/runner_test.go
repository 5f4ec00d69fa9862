package migration

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyRunsPendingMigrations(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	migrations := []Migration{
		{Version: "20250101000000", Name: "create_things", SQL: `CREATE TABLE things (id TEXT PRIMARY KEY)`},
		{Version: "20250102000000", Name: "add_name", SQL: `ALTER TABLE things ADD COLUMN name TEXT`},
	}
	require.NoError(t, r.Apply(migrations))

	_, err := db.Exec(`INSERT INTO things (id, name) VALUES ('x', 'y')`)
	require.NoError(t, err)

	applied, err := r.GetApplied()
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "create_things", applied[0].Name)
	assert.Equal(t, "add_name", applied[1].Name)
}

func TestApplyIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	migrations := []Migration{
		{Version: "20250101000000", Name: "create_things", SQL: `CREATE TABLE things (id TEXT PRIMARY KEY)`},
	}
	require.NoError(t, r.Apply(migrations))
	// A second run must skip the recorded version; CREATE TABLE would fail.
	require.NoError(t, r.Apply(migrations))

	applied, err := r.GetApplied()
	require.NoError(t, err)
	assert.Len(t, applied, 1)
}

func TestApplyRollsBackFailedMigration(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	err := r.Apply([]Migration{
		{Version: "20250101000000", Name: "broken", SQL: `CREATE TABLE oops (`},
	})
	require.Error(t, err)

	applied, err := r.GetApplied()
	require.NoError(t, err)
	assert.Empty(t, applied, "failed migration must not be recorded")
}

func TestApplyOnlyRunsNewVersions(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	first := []Migration{
		{Version: "20250101000000", Name: "create_a", SQL: `CREATE TABLE a (id TEXT)`},
	}
	require.NoError(t, r.Apply(first))

	both := append(first, Migration{
		Version: "20250102000000", Name: "create_b", SQL: `CREATE TABLE b (id TEXT)`,
	})
	require.NoError(t, r.Apply(both))

	applied, err := r.GetApplied()
	require.NoError(t, err)
	assert.Len(t, applied, 2)
}
