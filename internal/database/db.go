package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps the shared *sql.DB with the dialect it talks to.
type DB struct {
	*sql.DB
	Driver string
	pool   *pgxpool.Pool
}

func Open(ctx context.Context, driver, databaseURL string) (*DB, error) {
	switch driver {
	case DriverPostgres:
		return openPostgres(ctx, databaseURL)
	case DriverSQLite:
		return openSQLite(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// Rebind converts $N placeholders to SQLite's ?N form. Queries are written
// in Postgres syntax.
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?$1")
}

func (db *DB) Close() error {
	err := db.DB.Close()
	if db.pool != nil {
		db.pool.Close()
	}
	return err
}
