package repository

import (
	"context"
	"sync/atomic"
	"time"

	"driftsync/internal/domain"
	"driftsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverOperationRepository routes to the durable store while it is
// healthy and degrades to the in-memory fallback when it fails, so a
// broken disk never crashes the host application. It retries the
// primary after a cooldown.
type FailoverOperationRepository struct {
	primary   domain.OperationRepository
	fallback  domain.OperationRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64

	recoveryInterval time.Duration
}

func NewFailoverOperationRepository(primary, fallback domain.OperationRepository, logger *zerolog.Logger) *FailoverOperationRepository {
	return &FailoverOperationRepository{
		primary:          primary,
		fallback:         fallback,
		logger:           logger,
		recoveryInterval: time.Minute,
	}
}

// healthy reports whether the primary should be tried for this call.
func (r *FailoverOperationRepository) healthy() bool {
	if !r.isDown.Load() {
		return true
	}
	// Give the primary another chance after the cooldown.
	last := time.Unix(0, r.lastCheck.Load())
	return time.Since(last) > r.recoveryInterval
}

func (r *FailoverOperationRepository) markDown(err error) {
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
	r.logger.Error().Err(err).Msg("durable operation store failed, degrading to in-memory fallback")
}

func (r *FailoverOperationRepository) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("durable operation store recovered")
	}
}

func (r *FailoverOperationRepository) InsertOperation(ctx context.Context, op *models.Operation) error {
	if r.healthy() {
		if err := r.primary.InsertOperation(ctx, op); err == nil {
			r.markUp()
			return nil
		} else {
			r.markDown(err)
		}
	}
	return r.fallback.InsertOperation(ctx, op)
}

func (r *FailoverOperationRepository) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	if r.healthy() {
		op, err := r.primary.GetOperation(ctx, id)
		if err == nil {
			r.markUp()
			return op, nil
		}
		if isNotFound(err) {
			r.markUp()
		} else {
			r.markDown(err)
		}
		if !isNotFound(err) {
			return r.fallback.GetOperation(ctx, id)
		}
		// Known miss on a healthy primary: check the fallback in case
		// the row only ever lived in memory.
		if op, ferr := r.fallback.GetOperation(ctx, id); ferr == nil {
			return op, nil
		}
		return nil, err
	}
	return r.fallback.GetOperation(ctx, id)
}

func (r *FailoverOperationRepository) QueryPending(ctx context.Context, limit int) ([]models.Operation, error) {
	if r.healthy() {
		ops, err := r.primary.QueryPending(ctx, limit)
		if err == nil {
			r.markUp()
			return ops, nil
		}
		r.markDown(err)
	}
	return r.fallback.QueryPending(ctx, limit)
}

func (r *FailoverOperationRepository) UpdateStatus(ctx context.Context, id, status string, errMsg *string) error {
	if r.healthy() {
		err := r.primary.UpdateStatus(ctx, id, status, errMsg)
		if err == nil || isNotFound(err) {
			r.markUp()
			if isNotFound(err) {
				if ferr := r.fallback.UpdateStatus(ctx, id, status, errMsg); ferr == nil {
					return nil
				}
			}
			return err
		}
		r.markDown(err)
	}
	return r.fallback.UpdateStatus(ctx, id, status, errMsg)
}

func (r *FailoverOperationRepository) RequeueForRetry(ctx context.Context, id, errMsg string, nextRetryAt *time.Time) error {
	if r.healthy() {
		err := r.primary.RequeueForRetry(ctx, id, errMsg, nextRetryAt)
		if err == nil || isNotFound(err) {
			r.markUp()
			if isNotFound(err) {
				if ferr := r.fallback.RequeueForRetry(ctx, id, errMsg, nextRetryAt); ferr == nil {
					return nil
				}
			}
			return err
		}
		r.markDown(err)
	}
	return r.fallback.RequeueForRetry(ctx, id, errMsg, nextRetryAt)
}

func (r *FailoverOperationRepository) DeleteOperation(ctx context.Context, id string) error {
	if r.healthy() {
		err := r.primary.DeleteOperation(ctx, id)
		if err == nil || isNotFound(err) {
			r.markUp()
			if isNotFound(err) {
				if ferr := r.fallback.DeleteOperation(ctx, id); ferr == nil {
					return nil
				}
			}
			return err
		}
		r.markDown(err)
	}
	return r.fallback.DeleteOperation(ctx, id)
}

func (r *FailoverOperationRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	if r.healthy() {
		counts, err := r.primary.CountByStatus(ctx)
		if err == nil {
			r.markUp()
			// Operations stranded in memory during an outage remain
			// visible in the stats.
			if fcounts, ferr := r.fallback.CountByStatus(ctx); ferr == nil {
				for status, n := range fcounts {
					counts[status] += n
				}
			}
			return counts, nil
		}
		r.markDown(err)
	}
	return r.fallback.CountByStatus(ctx)
}

func (r *FailoverOperationRepository) ClearCompleted(ctx context.Context, olderThan *time.Time) (int64, error) {
	var total int64
	if r.healthy() {
		n, err := r.primary.ClearCompleted(ctx, olderThan)
		if err == nil {
			r.markUp()
			total += n
		} else {
			r.markDown(err)
		}
	}
	if n, err := r.fallback.ClearCompleted(ctx, olderThan); err == nil {
		total += n
	}
	return total, nil
}

func (r *FailoverOperationRepository) ResetInProgress(ctx context.Context) (int64, error) {
	var total int64
	if r.healthy() {
		n, err := r.primary.ResetInProgress(ctx)
		if err == nil {
			r.markUp()
			total += n
		} else {
			r.markDown(err)
		}
	}
	if n, err := r.fallback.ResetInProgress(ctx); err == nil {
		total += n
	}
	return total, nil
}
