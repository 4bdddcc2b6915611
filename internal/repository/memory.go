package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"driftsync/internal/database"
	"driftsync/internal/models"
)

// MemoryOperationRepository keeps operations in a map guarded by a
// mutex. It backs the failover layer when the SQLite store is down and
// the tests; it honors the same ordering contract as the durable store.
type MemoryOperationRepository struct {
	mu  sync.RWMutex
	ops map[string]*models.Operation
	seq map[string]int64
	n   int64
}

func NewMemoryOperationRepository() *MemoryOperationRepository {
	return &MemoryOperationRepository{
		ops: make(map[string]*models.Operation),
		seq: make(map[string]int64),
	}
}

func (r *MemoryOperationRepository) InsertOperation(_ context.Context, op *models.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *op
	r.n++
	r.ops[op.ID] = &clone
	r.seq[op.ID] = r.n
	return nil
}

func (r *MemoryOperationRepository) GetOperation(_ context.Context, id string) (*models.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *op
	return &clone, nil
}

func (r *MemoryOperationRepository) QueryPending(_ context.Context, limit int) ([]models.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var pending []*models.Operation
	for _, op := range r.ops {
		if op.Status != models.StatusPending {
			continue
		}
		if op.NextRetryAt != nil && op.NextRetryAt.After(now) {
			continue
		}
		pending = append(pending, op)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return r.seq[pending[i].ID] < r.seq[pending[j].ID]
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]models.Operation, 0, len(pending))
	for _, op := range pending {
		out = append(out, *op)
	}
	return out, nil
}

func (r *MemoryOperationRepository) UpdateStatus(_ context.Context, id, status string, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return database.ErrNotFound
	}
	op.Status = status
	op.NextRetryAt = nil
	if errMsg != nil {
		msg := *errMsg
		op.ErrorMessage = &msg
	}
	op.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryOperationRepository) RequeueForRetry(_ context.Context, id, errMsg string, nextRetryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return database.ErrNotFound
	}
	op.Status = models.StatusPending
	op.RetryCount++
	msg := errMsg
	op.ErrorMessage = &msg
	op.NextRetryAt = nextRetryAt
	op.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryOperationRepository) DeleteOperation(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ops[id]; !ok {
		return database.ErrNotFound
	}
	delete(r.ops, id)
	delete(r.seq, id)
	return nil
}

func (r *MemoryOperationRepository) CountByStatus(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, op := range r.ops {
		counts[op.Status]++
	}
	return counts, nil
}

func (r *MemoryOperationRepository) ClearCompleted(_ context.Context, olderThan *time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, op := range r.ops {
		if op.Status != models.StatusCompleted {
			continue
		}
		if olderThan != nil && !op.UpdatedAt.Before(*olderThan) {
			continue
		}
		delete(r.ops, id)
		delete(r.seq, id)
		removed++
	}
	return removed, nil
}

func (r *MemoryOperationRepository) ResetInProgress(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reset int64
	now := time.Now()
	for _, op := range r.ops {
		if op.Status == models.StatusInProgress {
			op.Status = models.StatusPending
			op.UpdatedAt = now
			reset++
		}
	}
	return reset, nil
}
