package etl

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/stock-etl/internal/queue"
	"github.com/ahmethakanbesel/stock-etl/internal/ratelimit"
)

type StopReason string

const (
	StopDrained   StopReason = "drained"
	StopDeadline  StopReason = "deadline"
	StopCancelled StopReason = "cancelled"
)

// Summary describes one run. Queue holds the counts for the whole run date,
// not only the entities touched by this run.
type Summary struct {
	RunID      string        `json:"runId"`
	Job        string        `json:"job"`
	RunDate    string        `json:"runDate"`
	Queued     int64         `json:"queued"`
	Reclaimed  int64         `json:"reclaimed"`
	Batches    int           `json:"batches"`
	Processed  int           `json:"processed"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Released   int64         `json:"released"`
	StopReason StopReason    `json:"stopReason"`
	Duration   time.Duration `json:"duration"`
	Queue      queue.Stats   `json:"queue"`
}

// Processor handles one claimed entity.
type Processor interface {
	Process(ctx context.Context, runDate time.Time, symbol string) (Outcome, error)
}

type RunnerConfig struct {
	Job          string
	BatchSize    int
	MaxRuntime   time.Duration
	LeaseTimeout time.Duration
}

// Runner is the bounded control loop: it claims batches and feeds their
// entities to the processor until the queue drains, the deadline passes or
// ctx is cancelled.
type Runner struct {
	queue     *queue.Service
	processor Processor
	throttle  *ratelimit.Throttle
	cfg       RunnerConfig
	now       func() time.Time
	claim     func(ctx context.Context, runDate time.Time, keys []string) ([]string, error)
}

type RunnerOption func(*Runner)

// WithClock replaces time.Now for deadline checks.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(q *queue.Service, p Processor, throttle *ratelimit.Throttle, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = q.BatchSize()
	}
	if throttle == nil {
		throttle = ratelimit.New(0)
	}
	r := &Runner{
		queue:     q,
		processor: p,
		throttle:  throttle,
		cfg:       cfg,
		now:       time.Now,
		claim:     q.Claim,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run processes the queue for runDate. Deadline and cancellation stops are
// not errors; claimed entries that were never reached go back to pending.
func (r *Runner) Run(ctx context.Context, runDate time.Time) (*Summary, error) {
	runDate = queue.Day(runDate)
	start := r.now()
	deadline := start.Add(r.cfg.MaxRuntime)

	sum := &Summary{
		RunID:   uuid.NewString(),
		Job:     r.cfg.Job,
		RunDate: runDate.Format(queue.DateFormat),
	}
	log := slog.With("run", sum.RunID, "job", r.cfg.Job, "runDate", sum.RunDate)
	log.Info("run started",
		"batchSize", r.cfg.BatchSize,
		"maxRuntime", r.cfg.MaxRuntime.String(),
		"delay", r.throttle.Delay().String(),
	)

	if err := r.queue.EnsureTable(ctx); err != nil {
		return nil, err
	}
	queued, err := r.queue.InitializeDaily(ctx, runDate)
	if err != nil {
		return nil, err
	}
	sum.Queued = queued

	reclaimed, err := r.queue.ReclaimStale(ctx, runDate, r.cfg.LeaseTimeout, start)
	if err != nil {
		return nil, err
	}
	sum.Reclaimed = reclaimed

	var runErr error
	sum.StopReason, runErr = r.loop(ctx, log, runDate, deadline, sum)

	sum.Duration = r.now().Sub(start)
	if st, err := r.queue.Stats(context.WithoutCancel(ctx), runDate); err != nil {
		log.Warn("could not read queue stats", "error", err)
	} else {
		sum.Queue = st
	}

	if runErr != nil {
		log.Error("run aborted", "error", runErr, "processed", sum.Processed)
		return sum, runErr
	}

	log.Info("run finished",
		"stopReason", sum.StopReason,
		"batches", sum.Batches,
		"processed", sum.Processed,
		"completed", sum.Completed,
		"failed", sum.Failed,
		"released", sum.Released,
		"duration", sum.Duration.String(),
		"pending", sum.Queue.Pending,
		"processing", sum.Queue.Processing,
		"total", sum.Queue.Total,
		"successRate", sum.Queue.SuccessRate(),
	)
	return sum, nil
}

func (r *Runner) loop(ctx context.Context, log *slog.Logger, runDate, deadline time.Time, sum *Summary) (StopReason, error) {
	for {
		if ctx.Err() != nil {
			return StopCancelled, nil
		}
		if !r.now().Before(deadline) {
			log.Info("deadline reached before next batch")
			return StopDeadline, nil
		}

		entries, err := r.queue.NextBatch(ctx, runDate, r.cfg.BatchSize)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return StopDrained, nil
		}

		keys := make([]string, len(entries))
		for i, e := range entries {
			keys[i] = e.EntityKey
		}
		keys, err = r.claim(ctx, runDate, keys)
		if err != nil {
			return "", err
		}
		if len(keys) == 0 {
			continue
		}
		sum.Batches++

		batch := entries[0].BatchNumber
		log.Info("batch claimed", "batch", batch, "entities", len(keys))

		completed, failed := 0, 0
		for i, key := range keys {
			if reason := r.waitTurn(ctx, deadline); reason != "" {
				r.release(ctx, log, runDate, keys[i:], sum)
				return reason, nil
			}

			outcome, err := r.processor.Process(ctx, runDate, key)
			if err != nil {
				r.release(ctx, log, runDate, keys[i:], sum)
				return "", err
			}

			switch outcome {
			case OutcomeInterrupted:
				r.release(ctx, log, runDate, keys[i:], sum)
				return StopCancelled, nil
			case OutcomeCompleted:
				completed++
				sum.Completed++
			case OutcomeFailed:
				failed++
				sum.Failed++
			}
			sum.Processed++
		}

		log.Info("batch finished", "batch", batch, "completed", completed, "failed", failed)
	}
}

func (r *Runner) checkStop(ctx context.Context, deadline time.Time) StopReason {
	if ctx.Err() != nil {
		return StopCancelled
	}
	if !r.now().Before(deadline) {
		return StopDeadline
	}
	return ""
}

// waitTurn blocks on the throttle and reports why the runner must stop, if it
// must. The wait is bounded by the deadline and the deadline is checked again
// once it returns.
func (r *Runner) waitTurn(ctx context.Context, deadline time.Time) StopReason {
	if reason := r.checkStop(ctx, deadline); reason != "" {
		return reason
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline.Sub(r.now()))
	defer cancel()
	if err := r.throttle.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return StopCancelled
		}
		return StopDeadline
	}
	return r.checkStop(ctx, deadline)
}

func (r *Runner) release(ctx context.Context, log *slog.Logger, runDate time.Time, keys []string, sum *Summary) {
	n, err := r.queue.Release(context.WithoutCancel(ctx), runDate, keys)
	if err != nil {
		log.Error("could not release unreached entries", "error", err, "count", len(keys))
		return
	}
	sum.Released += n
	log.Info("released unreached entries", "count", n)
}
