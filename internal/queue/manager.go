// Package queue implements the queue manager: the single mediator of
// all operation reads and writes against the durable store.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"driftsync/internal/domain"
	"driftsync/internal/metrics"
	"driftsync/internal/models"
)

// Manager validates, persists and transitions operations. All mutating
// calls are safe for concurrent use; atomicity per record is the
// store's responsibility.
type Manager struct {
	repo       domain.OperationRepository
	schemas    *SchemaRegistry
	deadLetter domain.DeadLetterSink
	maxRetries int
	retry      RetryPolicy
	logger     zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetries overrides the retry bound (default 5).
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithRetryPolicy sets the backoff applied to requeued operations.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.retry = p }
}

// WithDeadLetter mirrors permanently failed operations to a sink.
func WithDeadLetter(sink domain.DeadLetterSink) Option {
	return func(m *Manager) { m.deadLetter = sink }
}

func NewManager(repo domain.OperationRepository, schemas *SchemaRegistry, logger *zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:       repo,
		schemas:    schemas,
		maxRetries: models.DefaultMaxRetries,
		logger:     logger.With().Str("component", "queue").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue validates the payload against the schema registered for
// opType and persists a new pending operation. Returns the assigned id.
func (m *Manager) Enqueue(ctx context.Context, opType string, payload []byte, priority int) (string, error) {
	if err := m.schemas.Validate(opType, payload); err != nil {
		return "", err
	}

	now := time.Now()
	op := &models.Operation{
		ID:        uuid.NewString(),
		Type:      opType,
		Payload:   json.RawMessage(payload),
		Status:    models.StatusPending,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.repo.InsertOperation(ctx, op); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", opType, err)
	}

	metrics.IncEnqueued(opType)
	m.logger.Debug().Str("id", op.ID).Str("type", opType).Int("priority", priority).Msg("operation enqueued")
	return op.ID, nil
}

// Types lists the operation types the manager accepts.
func (m *Manager) Types() []string {
	return m.schemas.Types()
}

// GetOperation returns a single operation by id.
func (m *Manager) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	return m.repo.GetOperation(ctx, id)
}

// GetPendingOperations returns dispatch-eligible operations in
// priority-then-FIFO order.
func (m *Manager) GetPendingOperations(ctx context.Context, limit int) ([]models.Operation, error) {
	return m.repo.QueryPending(ctx, limit)
}

// MarkInProgress takes the dispatch lease on a pending operation.
func (m *Manager) MarkInProgress(ctx context.Context, id string) error {
	return m.repo.UpdateStatus(ctx, id, models.StatusInProgress, nil)
}

// MarkCompleted transitions an operation to completed. Idempotent: a
// second call on a completed operation is a no-op.
func (m *Manager) MarkCompleted(ctx context.Context, id string) error {
	op, err := m.repo.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.Status == models.StatusCompleted {
		return nil
	}
	if op.Status == models.StatusPermanentlyFailed {
		return fmt.Errorf("mark completed %s: %w", id, ErrTerminal)
	}

	if err := m.repo.UpdateStatus(ctx, id, models.StatusCompleted, nil); err != nil {
		return err
	}
	metrics.IncCompleted()
	return nil
}

// MarkFailed records a failed dispatch attempt. While retries remain
// the operation returns to pending (with backoff, if configured);
// once retry_count exceeds the bound it becomes permanently_failed and
// is mirrored to the dead-letter sink.
func (m *Manager) MarkFailed(ctx context.Context, id, errMsg string) error {
	op, err := m.repo.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.IsTerminal() {
		return fmt.Errorf("mark failed %s: %w", id, ErrTerminal)
	}

	attempt := op.RetryCount + 1
	if attempt > m.maxRetries {
		if err := m.repo.UpdateStatus(ctx, id, models.StatusPermanentlyFailed, &errMsg); err != nil {
			return err
		}
		metrics.IncFailed("permanent")
		m.logger.Warn().Str("id", id).Int("attempts", attempt).Str("error", errMsg).Msg("operation permanently failed")
		m.pushDeadLetter(ctx, id)
		return nil
	}

	var nextRetryAt *time.Time
	if delay := m.retry.NextDelay(attempt); delay > 0 {
		at := time.Now().Add(delay)
		nextRetryAt = &at
	}
	if err := m.repo.RequeueForRetry(ctx, id, errMsg, nextRetryAt); err != nil {
		return err
	}
	metrics.IncFailed("retry")
	return nil
}

// MarkConflict parks an operation until an explicit resolution.
func (m *Manager) MarkConflict(ctx context.Context, id string) error {
	op, err := m.repo.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.IsTerminal() {
		return fmt.Errorf("mark conflict %s: %w", id, ErrTerminal)
	}
	return m.repo.UpdateStatus(ctx, id, models.StatusConflictPending, nil)
}

// ResolveConflict moves a conflict_pending operation back to pending
// (resolution "retry") or to completed (resolution "discard").
func (m *Manager) ResolveConflict(ctx context.Context, id, resolution string) error {
	op, err := m.repo.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.Status != models.StatusConflictPending {
		return fmt.Errorf("resolve conflict %s: %w", id, ErrNotConflict)
	}

	switch resolution {
	case models.ResolutionRetry:
		return m.repo.UpdateStatus(ctx, id, models.StatusPending, nil)
	case models.ResolutionDiscard:
		if err := m.repo.UpdateStatus(ctx, id, models.StatusCompleted, nil); err != nil {
			return err
		}
		metrics.IncCompleted()
		return nil
	default:
		return fmt.Errorf("resolve conflict %s: unknown resolution %q", id, resolution)
	}
}

// GetStats returns operation counts per status, including zeroes for
// statuses with no rows.
func (m *Manager) GetStats(ctx context.Context) (map[string]int, error) {
	counts, err := m.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, status := range models.Statuses {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}
	return counts, nil
}

// Delete removes an operation outright.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.repo.DeleteOperation(ctx, id)
}

// ClearCompleted garbage-collects completed operations, optionally
// only those older than the given time.
func (m *Manager) ClearCompleted(ctx context.Context, olderThan *time.Time) (int64, error) {
	return m.repo.ClearCompleted(ctx, olderThan)
}

// RecoverLeases returns stale in_progress rows to pending. Called once
// at startup before the first drain.
func (m *Manager) RecoverLeases(ctx context.Context) error {
	n, err := m.repo.ResetInProgress(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info().Int64("count", n).Msg("recovered stale in-progress operations")
	}
	return nil
}

func (m *Manager) pushDeadLetter(ctx context.Context, id string) {
	if m.deadLetter == nil {
		return
	}
	op, err := m.repo.GetOperation(ctx, id)
	if err != nil {
		m.logger.Warn().Err(err).Str("id", id).Msg("dead-letter: load operation")
		return
	}
	if err := m.deadLetter.Push(ctx, op); err != nil {
		m.logger.Warn().Err(err).Str("id", id).Msg("dead-letter: push")
	}
}
