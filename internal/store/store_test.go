package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/tinyblog/blog/config"
	"github.com/tinyblog/blog/internal/db"
)

func newSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()
	cfg := config.Config{Database: config.DatabaseConfig{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "store.db"),
	}}
	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.MigrateUp(conn))
	return conn
}

func newMockDB(t *testing.T, driver string) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, driver), mock
}
