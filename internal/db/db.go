// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Conn is a *sql.DB that knows its driver, so repositories can write
// queries once with ? placeholders.
type Conn struct {
	*sql.DB
	Driver string
}

// Open connects, pings and applies migrations.
func Open(ctx context.Context, driver, dsn string) (*Conn, error) {
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite prefers a single writer; this also keeps :memory: databases
		// on one connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	c := &Conn{DB: sqlDB, Driver: driver}
	if driver == DriverSQLite {
		_, _ = c.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
		_, _ = c.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	}
	if err := c.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) Migrate(ctx context.Context) error {
	if _, err := c.ExecContext(ctx, migrations); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Rebind rewrites ? placeholders to $n for postgres.
func (c *Conn) Rebind(query string) string {
	if c.Driver != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Placeholders returns "?, ?, ?" for an IN list of n items.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
