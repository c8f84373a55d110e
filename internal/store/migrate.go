package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations
var migrationFiles embed.FS

// migrationSet lists a dialect's migration files with the given suffix in
// version order.
func migrationSet(dialect Dialect, suffix string) ([]string, error) {
	dir := path.Join("migrations", string(dialect))
	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), suffix) {
			files = append(files, path.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ApplyMigrations runs every pending *.up.sql for the dialect, each in its
// own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if err := ensureMigrationsTable(ctx, db, dialect); err != nil {
		return err
	}

	files, err := migrationSet(dialect, ".up.sql")
	if err != nil {
		return err
	}

	for _, file := range files {
		version := path.Base(file)
		if migrated, err := isMigrated(ctx, db, dialect, version); err != nil {
			return err
		} else if migrated {
			continue
		}

		contents, err := fs.ReadFile(migrationFiles, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, dialect.rebind(`INSERT INTO schema_migrations(version) VALUES(?)`), version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", version, err)
		}
	}

	return nil
}

// RollbackMigrations runs every *.down.sql in reverse order and clears the
// migration ledger.
func RollbackMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	files, err := migrationSet(dialect, ".down.sql")
	if err != nil {
		return err
	}
	for i := len(files) - 1; i >= 0; i-- {
		contents, err := fs.ReadFile(migrationFiles, files[i])
		if err != nil {
			return fmt.Errorf("read migration %s: %w", path.Base(files[i]), err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("execute migration %s: %w", path.Base(files[i]), err)
		}
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		return fmt.Errorf("clear schema_migrations: %w", err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB, dialect Dialect) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if dialect == DialectSQLite {
		ddl = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, dialect Dialect, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, dialect.rebind(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=?)`), version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
