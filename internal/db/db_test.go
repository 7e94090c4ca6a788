package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyblog/blog/config"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{
			name:       "relative sqlite path",
			raw:        "sqlite://site.db",
			wantDriver: DriverSQLite,
			wantDSN:    "file:site.db?" + sqlitePragmas,
		},
		{
			name:       "absolute sqlite path",
			raw:        "sqlite:///var/lib/blog/site.db",
			wantDriver: DriverSQLite,
			wantDSN:    "file:/var/lib/blog/site.db?" + sqlitePragmas,
		},
		{
			name:       "sqlite path with query",
			raw:        "sqlite://site.db?mode=rwc",
			wantDriver: DriverSQLite,
			wantDSN:    "file:site.db?mode=rwc&" + sqlitePragmas,
		},
		{
			name:       "postgres",
			raw:        "postgres://u:p@localhost:5432/blog?sslmode=disable",
			wantDriver: DriverPostgres,
			wantDSN:    "postgres://u:p@localhost:5432/blog?sslmode=disable",
		},
		{name: "empty sqlite path", raw: "sqlite://", wantErr: true},
		{name: "unknown scheme", raw: "mysql://root@localhost/blog", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := ParseURL(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedURL)
				assert.NotContains(t, err.Error(), "root@")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantDSN, dsn)
		})
	}
}

func TestOpenAndMigrate_SQLite(t *testing.T) {
	cfg := config.Config{Database: config.DatabaseConfig{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "blog.db"),
	}}

	conn, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, MigrateUp(conn))
	// Second run is a no-op.
	require.NoError(t, MigrateUp(conn))

	var tables []string
	require.NoError(t, conn.Select(&tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('accounts', 'posts') ORDER BY name`))
	assert.Equal(t, []string{"accounts", "posts"}, tables)

	var fk int
	require.NoError(t, conn.Get(&fk, `PRAGMA foreign_keys`))
	assert.Equal(t, 1, fk)

	require.NoError(t, MigrateDown(conn))
	tables = nil
	require.NoError(t, conn.Select(&tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('accounts', 'posts')`))
	assert.Empty(t, tables)
}
