package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the database/sql driver behind a connection.
type Dialect string

const (
	Postgres Dialect = "pgx"
	SQLite   Dialect = "sqlite"
)

// ParseURL picks the driver for databaseURL and returns the DSN to hand it.
// postgres:// and postgresql:// go to pgx; sqlite://path and file: URLs go
// to the pure-Go sqlite driver.
func ParseURL(databaseURL string) (Dialect, string, error) {
	raw := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Postgres, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		dsn := strings.TrimPrefix(raw, "sqlite://")
		if dsn == "" {
			return "", "", fmt.Errorf("sqlite url %q has no path", databaseURL)
		}
		return SQLite, dsn, nil
	case strings.HasPrefix(raw, "file:"):
		return SQLite, raw, nil
	case raw == "":
		return "", "", fmt.Errorf("database url is empty")
	default:
		return "", "", fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, Dialect, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open db: %w", err)
	}
	switch dialect {
	case Postgres:
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	case SQLite:
		// One connection keeps :memory: databases alive and serialises writers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}
	return db, dialect, nil
}

// Rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
