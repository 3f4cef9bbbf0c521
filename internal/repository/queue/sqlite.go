package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	domain "github.com/ahmethakanbesel/stock-etl/internal/queue"
)

const (
	insertChunk = 500
	sqliteNow   = `strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS {{table}} (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_key    TEXT NOT NULL,
	run_date      TEXT NOT NULL,
	batch_number  INTEGER NOT NULL CHECK (batch_number > 0),
	status        TEXT NOT NULL DEFAULT 'pending'
	              CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
	updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
	processed_at  TEXT,
	error_message TEXT,
	UNIQUE (entity_key, run_date)
)`

const sqliteIndex = `CREATE INDEX IF NOT EXISTS {{table}}_status_run_date_idx ON {{table}} (status, run_date)`

const entryColumns = `entity_key, run_date, batch_number, status, error_message, created_at, updated_at, processed_at`

// SQLite stores a queue table in SQLite. It is used for local runs and tests.
type SQLite struct {
	db    *sql.DB
	table string
}

// NewSQLite returns a repository over table, which must be a validated
// identifier.
func NewSQLite(db *sql.DB, table string) *SQLite {
	return &SQLite{db: db, table: table}
}

func (r *SQLite) q(query string) string {
	return strings.ReplaceAll(query, "{{table}}", r.table)
}

func (r *SQLite) EnsureTable(ctx context.Context) error {
	for _, stmt := range []string{sqliteSchema, sqliteIndex} {
		if _, err := r.db.ExecContext(ctx, r.q(stmt)); err != nil {
			return fmt.Errorf("ensure queue table %s: %w", r.table, err)
		}
	}
	return nil
}

func (r *SQLite) CountForDate(ctx context.Context, runDate time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT COUNT(*) FROM {{table}} WHERE run_date = ?`),
		runDate.Format(domain.DateFormat),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}

func (r *SQLite) Insert(ctx context.Context, entries []domain.Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert queue entries: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for i := 0; i < len(entries); i += insertChunk {
		batch := entries[i:min(i+insertChunk, len(entries))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*4)
		for j, e := range batch {
			placeholders[j] = "(?, ?, ?, ?)"
			args = append(args, e.EntityKey, e.RunDate.Format(domain.DateFormat), e.BatchNumber, string(domain.StatusPending))
		}

		query := r.q("INSERT OR IGNORE INTO {{table}} (entity_key, run_date, batch_number, status) VALUES ") + //nolint:gosec // placeholders are not user input
			strings.Join(placeholders, ", ")

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert queue entries: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert queue entries: commit: %w", err)
	}
	return total, nil
}

func (r *SQLite) NextPending(ctx context.Context, runDate time.Time, limit int) ([]domain.Entry, error) {
	query := r.q(`SELECT ` + entryColumns + ` FROM {{table}}
		WHERE run_date = ? AND status = 'pending'
		ORDER BY batch_number ASC, entity_key ASC
		LIMIT ?`)

	return r.query(ctx, query, runDate.Format(domain.DateFormat), limit)
}

func (r *SQLite) Transition(ctx context.Context, runDate time.Time, keys []string, from, to domain.Status) (int64, error) {
	set := "status = ?, updated_at = " + sqliteNow
	if to == domain.StatusPending {
		set += ", error_message = NULL, processed_at = NULL"
	}

	var total int64
	for i := 0; i < len(keys); i += insertChunk {
		chunk := keys[i:min(i+insertChunk, len(keys))]

		args := make([]any, 0, len(chunk)+3)
		args = append(args, string(to), runDate.Format(domain.DateFormat), string(from))
		for _, k := range chunk {
			args = append(args, k)
		}

		query := r.q(`UPDATE {{table}} SET `+set+`
			WHERE run_date = ? AND status = ? AND entity_key IN (`) +
			strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") + ")"

		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("transition %s -> %s: %w", from, to, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (r *SQLite) Claim(ctx context.Context, runDate time.Time, keys []string) ([]string, error) {
	var claimed []string
	for i := 0; i < len(keys); i += insertChunk {
		chunk := keys[i:min(i+insertChunk, len(keys))]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, runDate.Format(domain.DateFormat))
		for _, k := range chunk {
			args = append(args, k)
		}

		query := r.q(`UPDATE {{table}} SET status = 'processing', updated_at = `+sqliteNow+`
			WHERE run_date = ? AND status = 'pending' AND entity_key IN (`) +
			strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") + ") RETURNING entity_key"

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return claimed, fmt.Errorf("claim entries: %w", err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				_ = rows.Close()
				return claimed, fmt.Errorf("scan claimed key: %w", err)
			}
			claimed = append(claimed, k)
		}
		if err := rows.Close(); err != nil {
			return claimed, err
		}
		if err := rows.Err(); err != nil {
			return claimed, fmt.Errorf("claim entries: %w", err)
		}
	}
	return claimed, nil
}

func (r *SQLite) Finish(ctx context.Context, runDate time.Time, key string, status domain.Status, message string) error {
	var msg sql.NullString
	if status == domain.StatusFailed {
		msg = sql.NullString{String: message, Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		r.q(`UPDATE {{table}} SET status = ?, error_message = ?,
			processed_at = `+sqliteNow+`, updated_at = `+sqliteNow+`
			WHERE run_date = ? AND entity_key = ? AND status = 'processing'`),
		string(status), msg, runDate.Format(domain.DateFormat), key,
	)
	if err != nil {
		return fmt.Errorf("finish entry %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx,
		r.q(`SELECT status FROM {{table}} WHERE run_date = ? AND entity_key = ?`),
		runDate.Format(domain.DateFormat), key,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.New(apperror.NotFound, fmt.Sprintf("queue entry %s not found", key))
	}
	if err != nil {
		return fmt.Errorf("finish entry %s: %w", key, err)
	}
	return apperror.New(apperror.Conflict, fmt.Sprintf("queue entry %s is %s, not processing", key, current))
}

func (r *SQLite) ReclaimStale(ctx context.Context, runDate time.Time, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		r.q(`UPDATE {{table}} SET status = 'pending', updated_at = `+sqliteNow+`
			WHERE run_date = ? AND status = 'processing' AND updated_at < ?`),
		runDate.Format(domain.DateFormat), cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale entries: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLite) ResetStatus(ctx context.Context, runDate time.Time, from domain.Status) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		r.q(`UPDATE {{table}} SET status = 'pending', error_message = NULL, processed_at = NULL,
			updated_at = `+sqliteNow+`
			WHERE run_date = ? AND status = ?`),
		runDate.Format(domain.DateFormat), string(from),
	)
	if err != nil {
		return 0, fmt.Errorf("reset %s entries: %w", from, err)
	}
	return res.RowsAffected()
}

func (r *SQLite) Stats(ctx context.Context, runDate time.Time) (domain.Stats, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT status, COUNT(*) FROM {{table}} WHERE run_date = ? GROUP BY status`),
		runDate.Format(domain.DateFormat),
	)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func (r *SQLite) List(ctx context.Context, runDate time.Time, status domain.Status, limit int) ([]domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM {{table}} WHERE run_date = ?`
	args := []any{runDate.Format(domain.DateFormat)}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY batch_number ASC, entity_key ASC LIMIT ?"
	args = append(args, limit)

	return r.query(ctx, r.q(query), args...)
}

func (r *SQLite) query(ctx context.Context, query string, args ...any) ([]domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.Entry
	for rows.Next() {
		var e domain.Entry
		var runDateStr, status, createdStr, updatedStr string
		var errMsg, processedStr sql.NullString

		if err := rows.Scan(
			&e.EntityKey, &runDateStr, &e.BatchNumber, &status, &errMsg,
			&createdStr, &updatedStr, &processedStr,
		); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}

		e.Status = domain.Status(status)
		e.RunDate, _ = time.Parse(domain.DateFormat, runDateStr)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
		if errMsg.Valid {
			e.ErrorMessage = errMsg.String
		}
		if processedStr.Valid {
			if t, err := time.Parse(time.RFC3339, processedStr.String); err == nil {
				e.ProcessedAt = &t
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
