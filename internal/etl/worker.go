package etl

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	"github.com/ahmethakanbesel/stock-etl/internal/provider"
	"github.com/ahmethakanbesel/stock-etl/internal/stock"
)

// ReasonInvalidData is recorded when no provider produced a usable price.
const ReasonInvalidData = "invalid/missing upstream data"

// Outcome is what happened to one entity.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeInterrupted means the run was cancelled mid-entity. The entry is
	// still processing and must be released by the caller.
	OutcomeInterrupted Outcome = "interrupted"
)

// Queue is the subset of the scheduler the worker reports outcomes to.
type Queue interface {
	MarkCompleted(ctx context.Context, runDate time.Time, key string) error
	MarkFailed(ctx context.Context, runDate time.Time, key, message string) error
}

// Worker fetches, merges and writes one entity at a time.
type Worker struct {
	queue     Queue
	stocks    stock.Repository
	providers []provider.Provider
}

// NewWorker returns a worker calling providers in precedence order.
func NewWorker(q Queue, stocks stock.Repository, providers []provider.Provider) *Worker {
	return &Worker{queue: q, stocks: stocks, providers: providers}
}

// Fetch calls every provider for symbol concurrently. Each result carries its
// own error; one provider failing never cancels the others.
func (w *Worker) Fetch(ctx context.Context, symbol string) []provider.Result {
	results := make([]provider.Result, len(w.providers))

	var g errgroup.Group
	for i, p := range w.providers {
		g.Go(func() error {
			fields, err := p.Fetch(ctx, symbol)
			results[i] = provider.Result{Provider: p.Name(), Fields: fields, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil && ctx.Err() == nil {
			slog.Warn("provider fetch failed", "provider", r.Provider, "symbol", symbol, "error", r.Err)
		}
	}
	return results
}

// Process runs one claimed entity to a terminal state. A returned error means
// the queue itself could not be updated.
func (w *Worker) Process(ctx context.Context, runDate time.Time, symbol string) (Outcome, error) {
	start := time.Now()
	results := w.Fetch(ctx, symbol)
	if ctx.Err() != nil {
		return OutcomeInterrupted, nil
	}

	// Terminal marks must land even if the run is cancelled from here on.
	markCtx := context.WithoutCancel(ctx)

	merged := provider.Merge(results)
	if price, ok := merged.Get(stock.Price); !ok || price <= 0 {
		slog.Warn("entity failed", "symbol", symbol, "reason", ReasonInvalidData)
		return OutcomeFailed, w.queue.MarkFailed(markCtx, runDate, symbol, ReasonInvalidData)
	}

	if err := w.stocks.UpdateFields(markCtx, symbol, merged); err != nil {
		slog.Error("update failed", "symbol", symbol, "code", apperror.CodeOf(err), "error", err)
		return OutcomeFailed, w.queue.MarkFailed(markCtx, runDate, symbol, err.Error())
	}

	if err := w.queue.MarkCompleted(markCtx, runDate, symbol); err != nil {
		return OutcomeCompleted, err
	}

	price, _ := merged.Get(stock.Price)
	slog.Info("entity updated",
		"symbol", symbol,
		"price", price,
		"fields", merged.Present(),
		"duration", time.Since(start).String(),
	)
	return OutcomeCompleted, nil
}
