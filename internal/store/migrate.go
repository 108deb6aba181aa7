package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type migration struct {
	version string
	path    string
}

// ApplyMigrations runs every *.up.sql file in dir that schema_migrations
// does not list yet. Files run in name order, each in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect, dir string) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	migrations, err := upMigrations(dir)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		var count int
		err := db.QueryRowContext(ctx,
			dialect.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version=?`), m.version,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if err := applyMigration(ctx, db, dialect, m); err != nil {
			return err
		}
	}
	return nil
}

func upMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		out = append(out, migration{version: entry.Name(), path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func applyMigration(ctx context.Context, db *sql.DB, dialect Dialect, m migration) error {
	contents, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.version, err)
	}
	return inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("execute migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, dialect.Rebind(`INSERT INTO schema_migrations(version) VALUES(?)`), m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
		return nil
	})
}
