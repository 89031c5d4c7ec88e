// Package store provides the relational storage handle used by the ETL
// pipeline, with PostgreSQL and embedded SQLite drivers.
package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/parcl-data/parcl-crawler/internal/config"
)

// Driver identifies the storage backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrNoRows is returned by Row.Scan when the query matched nothing.
var ErrNoRows = eris.New("store: no rows")

// Rows is a minimal cursor over a multi-row result.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Row is a single-row result; Scan returns ErrNoRows when empty.
type Row interface {
	Scan(dest ...any) error
}

// DB is the shared storage handle. Queries are written with `?`
// placeholders and rebound per driver. One handle is shared serially by a
// run (registration, every load, the freshness update); it is never
// accessed concurrently.
type DB interface {
	Driver() Driver
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Close() error
}

// Open creates a DB for the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (DB, error) {
	switch Driver(cfg.Driver) {
	case DriverSQLite:
		return NewSQLite(cfg.SQLitePath)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unsupported driver %q (valid: sqlite, postgres)", cfg.Driver)
	}
}

// Rebind converts `?` placeholders to the driver's native style. Queries
// here never contain literal question marks outside placeholders.
func Rebind(d Driver, query string) string {
	if d != DriverPostgres {
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
