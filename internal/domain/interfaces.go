package domain

import (
	"context"
	"time"

	"driftsync/internal/models"
)

// OperationRepository is the persistence contract of the operation
// store. The SQLite store, the in-memory fallback, and the failover
// wrapper all satisfy it.
type OperationRepository interface {
	InsertOperation(ctx context.Context, op *models.Operation) error
	GetOperation(ctx context.Context, id string) (*models.Operation, error)
	QueryPending(ctx context.Context, limit int) ([]models.Operation, error)
	UpdateStatus(ctx context.Context, id, status string, errMsg *string) error
	RequeueForRetry(ctx context.Context, id, errMsg string, nextRetryAt *time.Time) error
	DeleteOperation(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[string]int, error)
	ClearCompleted(ctx context.Context, olderThan *time.Time) (int64, error)
	ResetInProgress(ctx context.Context) (int64, error)
}

// QueueManager mediates all operation reads and writes for the sync
// engine and the HTTP surface.
type QueueManager interface {
	Enqueue(ctx context.Context, opType string, payload []byte, priority int) (string, error)
	GetOperation(ctx context.Context, id string) (*models.Operation, error)
	GetPendingOperations(ctx context.Context, limit int) ([]models.Operation, error)
	MarkInProgress(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	MarkConflict(ctx context.Context, id string) error
	ResolveConflict(ctx context.Context, id, resolution string) error
	GetStats(ctx context.Context) (map[string]int, error)
	Delete(ctx context.Context, id string) error
	ClearCompleted(ctx context.Context, olderThan *time.Time) (int64, error)
}

// NetworkObserver exposes the monitor surface the sync engine needs.
type NetworkObserver interface {
	GetStatusInfo() models.NetworkState
	AddCallback(fn func(oldStatus, newStatus models.NetworkStatus)) int
	RemoveCallback(id int)
}

// DeadLetterSink receives operations that exhausted their retries.
type DeadLetterSink interface {
	Push(ctx context.Context, op *models.Operation) error
}
