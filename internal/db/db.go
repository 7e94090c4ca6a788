package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/tinyblog/blog/config"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultPingTimeout  = 5 * time.Second
	defaultConnMaxIdle  = 2 * time.Minute
	defaultConnMaxLife  = 30 * time.Minute
	defaultMaxIdleConns = 5
	defaultMaxOpenConns = 25

	sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
)

// ErrUnsupportedURL is returned for connection strings with an unknown scheme.
var ErrUnsupportedURL = errors.New("unsupported database url")

// Open connects to the database named by cfg.Database.URL and verifies the
// connection. sqlite:// URLs open a single-file database; postgres:// URLs
// are handed to lib/pq.
func Open(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	driver, dsn, err := ParseURL(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	switch driver {
	case DriverSQLite:
		// SQLite serializes writers; one connection avoids SQLITE_BUSY
		// between pooled connections and keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	default:
		db.SetConnMaxIdleTime(defaultConnMaxIdle)
		db.SetConnMaxLifetime(defaultConnMaxLife)
		db.SetMaxIdleConns(defaultMaxIdleConns)
		db.SetMaxOpenConns(defaultMaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	return db, nil
}

// ParseURL maps a database URL to a database/sql driver name and DSN.
func ParseURL(raw string) (driver, dsn string, err error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("%w: missing sqlite path", ErrUnsupportedURL)
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return DriverSQLite, "file:" + path + sep + sqlitePragmas, nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DriverPostgres, raw, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, redact(raw))
	}
}

func redact(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		return raw[:i] + "://..."
	}
	if raw == "" {
		return raw
	}
	return "..."
}
