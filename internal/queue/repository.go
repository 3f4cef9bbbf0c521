package queue

import (
	"context"
	"time"
)

type Repository interface {
	// EnsureTable creates the queue table and its (status, run_date) index.
	EnsureTable(ctx context.Context) error
	CountForDate(ctx context.Context, runDate time.Time) (int64, error)
	// Insert adds entries, silently skipping any (entity_key, run_date)
	// already present. It returns the number of rows inserted.
	Insert(ctx context.Context, entries []Entry) (int64, error)
	// NextPending returns up to limit pending entries ordered by
	// (batch_number, entity_key).
	NextPending(ctx context.Context, runDate time.Time, limit int) ([]Entry, error)
	// Transition moves the given keys from one status to another and returns
	// the number of rows changed. Rows not currently in from are untouched.
	Transition(ctx context.Context, runDate time.Time, keys []string, from, to Status) (int64, error)
	// Claim moves the given pending keys to processing and returns the keys
	// it actually moved. Keys no longer pending are left out.
	Claim(ctx context.Context, runDate time.Time, keys []string) ([]string, error)
	// Finish moves a processing entry to completed or failed.
	Finish(ctx context.Context, runDate time.Time, key string, status Status, message string) error
	// ReclaimStale moves processing entries last updated before cutoff back to
	// pending.
	ReclaimStale(ctx context.Context, runDate time.Time, cutoff time.Time) (int64, error)
	// ResetStatus moves every entry in from back to pending.
	ResetStatus(ctx context.Context, runDate time.Time, from Status) (int64, error)
	Stats(ctx context.Context, runDate time.Time) (Stats, error)
	List(ctx context.Context, runDate time.Time, status Status, limit int) ([]Entry, error)
}
