package migrate

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func count(t *testing.T, db *sql.DB, q string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(q).Scan(&n))
	return n
}

func TestApply_RecordsAndSkips(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"001_create.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE items(id INTEGER PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;")},
		"002_seed.sql":   {Data: []byte("INSERT INTO items(id) VALUES (1);")},
		"README.md":      {Data: []byte("ignored")},
	}

	require.NoError(t, Apply(ctx, db, fsys, ""))
	require.NoError(t, Apply(ctx, db, fsys, "."))

	assert.Equal(t, 2, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
	// повторный прогон не должен дублировать вставку
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM items"))
}

func TestApply_FailsOnBrokenSQL(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{"001_bad.sql": {Data: []byte("CREATE TABLE (")}}

	err := Apply(context.Background(), db, fsys, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_bad.sql")
	assert.Equal(t, 0, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
}

func TestUpSection(t *testing.T) {
	assert.Equal(t, "\nA\n", UpSection("-- +migrate Up\nA\n-- +migrate Down\nB"))
	assert.Equal(t, "\nA", UpSection("-- +migrate Up\nA"))
	assert.Equal(t, "plain", UpSection("plain"))
}
