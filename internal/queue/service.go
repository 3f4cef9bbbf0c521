package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
)

// CandidateLoader returns the full entity set a daily queue is built from.
type CandidateLoader func(ctx context.Context) ([]string, error)

// Service is the batch scheduler over one queue table.
type Service struct {
	repo       Repository
	candidates CandidateLoader
	batchSize  int
}

func NewService(repo Repository, candidates CandidateLoader, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Service{repo: repo, candidates: candidates, batchSize: batchSize}
}

func (s *Service) BatchSize() int { return s.batchSize }

// EnsureTable is safe to call on every run.
func (s *Service) EnsureTable(ctx context.Context) error {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return apperror.Wrap(apperror.Persistence, "ensure queue table", err)
	}
	return nil
}

// InitializeDaily builds the queue for runDate unless entries already exist.
// It returns the number of rows inserted.
func (s *Service) InitializeDaily(ctx context.Context, runDate time.Time) (int64, error) {
	runDate = Day(runDate)

	existing, err := s.repo.CountForDate(ctx, runDate)
	if err != nil {
		return 0, apperror.Wrap(apperror.Persistence, "count queue entries", err)
	}
	if existing > 0 {
		slog.Info("queue already initialized", "runDate", runDate.Format(DateFormat), "entries", existing)
		return 0, nil
	}

	if s.candidates == nil {
		return 0, apperror.New(apperror.Config, "no candidate loader configured")
	}
	keys, err := s.candidates(ctx)
	if err != nil {
		return 0, apperror.Wrap(apperror.Persistence, "load candidates", err)
	}

	entries := Partition(keys, runDate, s.batchSize)
	if len(entries) == 0 {
		slog.Warn("no candidates to queue", "runDate", runDate.Format(DateFormat))
		return 0, nil
	}

	n, err := s.repo.Insert(ctx, entries)
	if err != nil {
		return n, apperror.Wrap(apperror.Persistence, "insert queue entries", err)
	}

	slog.Info("queue initialized",
		"runDate", runDate.Format(DateFormat),
		"entries", n,
		"batches", BatchCount(len(entries), s.batchSize),
		"batchSize", s.batchSize,
	)
	return n, nil
}

// NextBatch returns up to size pending entries. It does not change status.
func (s *Service) NextBatch(ctx context.Context, runDate time.Time, size int) ([]Entry, error) {
	if size <= 0 {
		size = s.batchSize
	}
	entries, err := s.repo.NextPending(ctx, Day(runDate), size)
	if err != nil {
		return nil, apperror.Wrap(apperror.Persistence, "next batch", err)
	}
	return entries, nil
}

func (s *Service) MarkProcessing(ctx context.Context, runDate time.Time, keys []string) error {
	_, err := s.Claim(ctx, runDate, keys)
	return err
}

// Claim moves keys from pending to processing and returns the claimed subset
// in the order given. Keys another invocation already took are dropped.
func (s *Service) Claim(ctx context.Context, runDate time.Time, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	got, err := s.repo.Claim(ctx, Day(runDate), keys)
	if err != nil {
		return nil, apperror.Wrap(apperror.Persistence, "mark processing", err)
	}

	taken := make(map[string]struct{}, len(got))
	for _, k := range got {
		taken[k] = struct{}{}
	}
	claimed := make([]string, 0, len(got))
	for _, k := range keys {
		if _, ok := taken[k]; ok {
			claimed = append(claimed, k)
		}
	}
	if len(claimed) != len(keys) {
		slog.Warn("some entries were no longer pending", "claimed", len(claimed), "requested", len(keys))
	}
	return claimed, nil
}

func (s *Service) MarkCompleted(ctx context.Context, runDate time.Time, key string) error {
	if err := s.repo.Finish(ctx, Day(runDate), key, StatusCompleted, ""); err != nil {
		return apperror.Wrap(apperror.Persistence, fmt.Sprintf("mark %s completed", key), err)
	}
	return nil
}

func (s *Service) MarkFailed(ctx context.Context, runDate time.Time, key, message string) error {
	if message == "" {
		message = "unknown error"
	}
	if err := s.repo.Finish(ctx, Day(runDate), key, StatusFailed, message); err != nil {
		return apperror.Wrap(apperror.Persistence, fmt.Sprintf("mark %s failed", key), err)
	}
	return nil
}

// Release returns claimed entries that were never worked on to pending.
func (s *Service) Release(ctx context.Context, runDate time.Time, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.repo.Transition(ctx, Day(runDate), keys, StatusProcessing, StatusPending)
	if err != nil {
		return 0, apperror.Wrap(apperror.Persistence, "release entries", err)
	}
	return n, nil
}

// ResetFailed makes failed entries eligible again. With no keys every failed
// entry of the date is reset.
func (s *Service) ResetFailed(ctx context.Context, runDate time.Time, keys []string) (int64, error) {
	return s.reset(ctx, Day(runDate), keys, StatusFailed)
}

// ResetProcessing makes stranded processing entries eligible again.
func (s *Service) ResetProcessing(ctx context.Context, runDate time.Time, keys []string) (int64, error) {
	return s.reset(ctx, Day(runDate), keys, StatusProcessing)
}

func (s *Service) reset(ctx context.Context, runDate time.Time, keys []string, from Status) (int64, error) {
	var (
		n   int64
		err error
	)
	if len(keys) == 0 {
		n, err = s.repo.ResetStatus(ctx, runDate, from)
	} else {
		n, err = s.repo.Transition(ctx, runDate, keys, from, StatusPending)
	}
	if err != nil {
		return 0, apperror.Wrap(apperror.Persistence, fmt.Sprintf("reset %s entries", from), err)
	}
	if n > 0 {
		slog.Info("reset queue entries", "runDate", runDate.Format(DateFormat), "from", from, "count", n)
	}
	return n, nil
}

// ReclaimStale applies the lease policy: processing entries untouched for
// longer than lease are returned to pending.
func (s *Service) ReclaimStale(ctx context.Context, runDate time.Time, lease time.Duration, now time.Time) (int64, error) {
	if lease <= 0 {
		return 0, nil
	}
	n, err := s.repo.ReclaimStale(ctx, Day(runDate), now.Add(-lease))
	if err != nil {
		return 0, apperror.Wrap(apperror.Persistence, "reclaim stale entries", err)
	}
	if n > 0 {
		slog.Info("re-queued stale processing entries", "runDate", runDate.Format(DateFormat), "count", n, "lease", lease.String())
	}
	return n, nil
}

func (s *Service) Stats(ctx context.Context, runDate time.Time) (Stats, error) {
	st, err := s.repo.Stats(ctx, Day(runDate))
	if err != nil {
		return Stats{}, apperror.Wrap(apperror.Persistence, "queue stats", err)
	}
	return st, nil
}

func (s *Service) List(ctx context.Context, req ListEntriesRequest) ([]Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	entries, err := s.repo.List(ctx, req.RunDate, req.Status, req.limit())
	if err != nil {
		return nil, apperror.Wrap(apperror.Persistence, "list entries", err)
	}
	return entries, nil
}
