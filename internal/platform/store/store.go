// Package store opens the persistence backend named by DATABASE_URL and hands
// out the queue and stock repositories bound to it.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/postgres"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/sqlite"
	"github.com/ahmethakanbesel/stock-etl/internal/queue"
	queuerepo "github.com/ahmethakanbesel/stock-etl/internal/repository/queue"
	stockrepo "github.com/ahmethakanbesel/stock-etl/internal/repository/stock"
	"github.com/ahmethakanbesel/stock-etl/internal/stock"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Store struct {
	backend string
	db      *sqlite.DB
	pool    *pgxpool.Pool
}

// Open connects to url. postgres:// and postgresql:// URLs use pgx; sqlite://,
// file: and :memory: use the embedded SQLite driver.
func Open(ctx context.Context, url string, opts postgres.Options) (*Store, error) {
	switch {
	case postgres.IsDSN(url):
		pool, err := postgres.Open(ctx, url, opts)
		if err != nil {
			return nil, apperror.Wrap(apperror.Persistence, "open postgres", err)
		}
		return &Store{backend: BackendPostgres, pool: pool}, nil
	case sqlite.IsDSN(url):
		db, err := sqlite.Open(sqlite.DSNFromURL(url))
		if err != nil {
			return nil, apperror.Wrap(apperror.Persistence, "open sqlite", err)
		}
		return &Store{backend: BackendSQLite, db: db}, nil
	default:
		return nil, apperror.New(apperror.Config, fmt.Sprintf("unsupported DATABASE_URL scheme in %q", redact(url)))
	}
}

func (s *Store) Backend() string { return s.backend }

// Queue returns the repository for one queue table.
func (s *Store) Queue(table string) queue.Repository {
	if s.pool != nil {
		return queuerepo.NewPostgres(s.pool, table)
	}
	return queuerepo.NewSQLite(s.db.DB, table)
}

// Stocks returns the repository for the target table.
func (s *Store) Stocks(table string) stock.Repository {
	if s.pool != nil {
		return stockrepo.NewPostgres(s.pool, table)
	}
	return stockrepo.NewSQLite(s.db.DB, table)
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// redact keeps the scheme of url and drops the rest, which may hold
// credentials.
func redact(url string) string {
	for i := 0; i < len(url) && i < 16; i++ {
		if url[i] == ':' {
			return url[:i] + "://..."
		}
	}
	return "..."
}
