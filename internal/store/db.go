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

// Dialect selects the SQL flavour of the metadata backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func ParseDialect(value string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(value))) {
	case DialectPostgres:
		return DialectPostgres, nil
	case DialectSQLite:
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unknown metadata backend %q", value)
	}
}

func (d Dialect) driverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "pgx"
}

// rebind rewrites ? placeholders into $N for Postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
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

// Open connects to the metadata database and verifies it is reachable.
// For SQLite, dsn is a file path.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	if dialect == DialectSQLite {
		// one writer at a time; avoids SQLITE_BUSY under concurrent prune deletes
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
