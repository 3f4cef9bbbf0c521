package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	domain "github.com/ahmethakanbesel/stock-etl/internal/queue"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS {{table}} (
	id            BIGSERIAL PRIMARY KEY,
	entity_key    TEXT NOT NULL,
	run_date      DATE NOT NULL,
	batch_number  INTEGER NOT NULL CHECK (batch_number > 0),
	status        TEXT NOT NULL DEFAULT 'pending'
	              CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at  TIMESTAMPTZ,
	error_message TEXT,
	UNIQUE (entity_key, run_date)
)`

const postgresIndex = `CREATE INDEX IF NOT EXISTS {{table}}_status_run_date_idx ON {{table}} (status, run_date)`

// Postgres stores a queue table in PostgreSQL through a pgx pool.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgres(pool *pgxpool.Pool, table string) *Postgres {
	return &Postgres{pool: pool, table: table}
}

func (r *Postgres) q(query string) string {
	return strings.ReplaceAll(query, "{{table}}", r.table)
}

func (r *Postgres) EnsureTable(ctx context.Context) error {
	for _, stmt := range []string{postgresSchema, postgresIndex} {
		if _, err := r.pool.Exec(ctx, r.q(stmt)); err != nil {
			return fmt.Errorf("ensure queue table %s: %w", r.table, err)
		}
	}
	return nil
}

func (r *Postgres) CountForDate(ctx context.Context, runDate time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, r.q(`SELECT COUNT(*) FROM {{table}} WHERE run_date = $1`), runDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}

func (r *Postgres) Insert(ctx context.Context, entries []domain.Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert queue entries: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := r.q(`INSERT INTO {{table}} (entity_key, run_date, batch_number, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (entity_key, run_date) DO NOTHING`)

	var total int64
	for i := 0; i < len(entries); i += insertChunk {
		chunk := entries[i:min(i+insertChunk, len(entries))]

		batch := &pgx.Batch{}
		for _, e := range chunk {
			batch.Queue(query, e.EntityKey, e.RunDate, e.BatchNumber)
		}

		br := tx.SendBatch(ctx, batch)
		for range chunk {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return 0, fmt.Errorf("insert queue entries: %w", err)
			}
			total += tag.RowsAffected()
		}
		if err := br.Close(); err != nil {
			return 0, fmt.Errorf("insert queue entries: close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("insert queue entries: commit: %w", err)
	}
	return total, nil
}

func (r *Postgres) NextPending(ctx context.Context, runDate time.Time, limit int) ([]domain.Entry, error) {
	return r.query(ctx, r.q(`SELECT `+entryColumns+` FROM {{table}}
		WHERE run_date = $1 AND status = 'pending'
		ORDER BY batch_number ASC, entity_key ASC
		LIMIT $2`), runDate, limit)
}

func (r *Postgres) Transition(ctx context.Context, runDate time.Time, keys []string, from, to domain.Status) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	set := "status = $1, updated_at = now()"
	if to == domain.StatusPending {
		set += ", error_message = NULL, processed_at = NULL"
	}

	tag, err := r.pool.Exec(ctx,
		r.q(`UPDATE {{table}} SET `+set+`
			WHERE run_date = $2 AND status = $3 AND entity_key = ANY($4)`),
		string(to), runDate, string(from), keys,
	)
	if err != nil {
		return 0, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}

func (r *Postgres) Claim(ctx context.Context, runDate time.Time, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		r.q(`UPDATE {{table}} SET status = 'processing', updated_at = now()
			WHERE run_date = $1 AND status = 'pending' AND entity_key = ANY($2)
			RETURNING entity_key`),
		runDate, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("claim entries: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("claim entries: %w", err)
	}
	return claimed, nil
}

func (r *Postgres) Finish(ctx context.Context, runDate time.Time, key string, status domain.Status, message string) error {
	var msg *string
	if status == domain.StatusFailed {
		msg = &message
	}

	tag, err := r.pool.Exec(ctx,
		r.q(`UPDATE {{table}} SET status = $1, error_message = $2, processed_at = now(), updated_at = now()
			WHERE run_date = $3 AND entity_key = $4 AND status = 'processing'`),
		string(status), msg, runDate, key,
	)
	if err != nil {
		return fmt.Errorf("finish entry %s: %w", key, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = r.pool.QueryRow(ctx,
		r.q(`SELECT status FROM {{table}} WHERE run_date = $1 AND entity_key = $2`),
		runDate, key,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.New(apperror.NotFound, fmt.Sprintf("queue entry %s not found", key))
	}
	if err != nil {
		return fmt.Errorf("finish entry %s: %w", key, err)
	}
	return apperror.New(apperror.Conflict, fmt.Sprintf("queue entry %s is %s, not processing", key, current))
}

func (r *Postgres) ReclaimStale(ctx context.Context, runDate time.Time, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		r.q(`UPDATE {{table}} SET status = 'pending', updated_at = now()
			WHERE run_date = $1 AND status = 'processing' AND updated_at < $2`),
		runDate, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Postgres) ResetStatus(ctx context.Context, runDate time.Time, from domain.Status) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		r.q(`UPDATE {{table}} SET status = 'pending', error_message = NULL, processed_at = NULL, updated_at = now()
			WHERE run_date = $1 AND status = $2`),
		runDate, string(from),
	)
	if err != nil {
		return 0, fmt.Errorf("reset %s entries: %w", from, err)
	}
	return tag.RowsAffected(), nil
}

func (r *Postgres) Stats(ctx context.Context, runDate time.Time) (domain.Stats, error) {
	rows, err := r.pool.Query(ctx,
		r.q(`SELECT status, COUNT(*) FROM {{table}} WHERE run_date = $1 GROUP BY status`), runDate)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var st domain.Stats
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return domain.Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		st.Add(domain.Status(status), n)
	}
	return st, rows.Err()
}

func (r *Postgres) List(ctx context.Context, runDate time.Time, status domain.Status, limit int) ([]domain.Entry, error) {
	if status == "" {
		return r.query(ctx, r.q(`SELECT `+entryColumns+` FROM {{table}}
			WHERE run_date = $1
			ORDER BY batch_number ASC, entity_key ASC LIMIT $2`), runDate, limit)
	}
	return r.query(ctx, r.q(`SELECT `+entryColumns+` FROM {{table}}
		WHERE run_date = $1 AND status = $2
		ORDER BY batch_number ASC, entity_key ASC LIMIT $3`), runDate, string(status), limit)
}

func (r *Postgres) query(ctx context.Context, query string, args ...any) ([]domain.Entry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		var e domain.Entry
		var status string
		var errMsg *string

		if err := rows.Scan(
			&e.EntityKey, &e.RunDate, &e.BatchNumber, &status, &errMsg,
			&e.CreatedAt, &e.UpdatedAt, &e.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Status = domain.Status(status)
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
