package queue

import (
	"context"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
)

const maxListLimit = 1000

type ListEntriesRequest struct {
	RunDate time.Time
	Status  Status // empty means any
	Limit   int
}

func (r ListEntriesRequest) Validate() *apperror.AppError {
	if r.RunDate.IsZero() {
		return apperror.New(apperror.BadRequest, "run date is required")
	}
	if r.Status != "" && !r.Status.Valid() {
		return apperror.New(apperror.BadRequest, "status must be pending, processing, completed or failed")
	}
	if r.Limit < 0 || r.Limit > maxListLimit {
		return apperror.New(apperror.BadRequest, "limit must be between 0 and 1000")
	}
	return nil
}

func (r ListEntriesRequest) limit() int {
	if r.Limit == 0 {
		return 100
	}
	return r.Limit
}

type ResetRequest struct {
	RunDate time.Time
	Status  Status
	Keys    []string
}

func (r ResetRequest) Validate() *apperror.AppError {
	if r.RunDate.IsZero() {
		return apperror.New(apperror.BadRequest, "run date is required")
	}
	if r.Status != StatusFailed && r.Status != StatusProcessing {
		return apperror.New(apperror.BadRequest, "only failed or processing entries can be reset")
	}
	return nil
}

// Reset applies an operator reset request.
func (s *Service) Reset(ctx context.Context, req ResetRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if req.Status == StatusFailed {
		return s.ResetFailed(ctx, req.RunDate, req.Keys)
	}
	return s.ResetProcessing(ctx, req.RunDate, req.Keys)
}
