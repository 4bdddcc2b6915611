package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"driftsync/internal/models"
)

// ErrNotFound is returned when an operation id is unknown to the store.
var ErrNotFound = errors.New("operation not found")

const operationColumns = `id, operation_type, payload, status, priority, retry_count, error_message, next_retry_at, created_at, updated_at`

// InsertOperation atomically persists a new operation.
func (db *DB) InsertOperation(ctx context.Context, op *models.Operation) error {
	query := `INSERT INTO offline_operations (` + operationColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query,
		op.ID,
		op.Type,
		string(op.Payload),
		op.Status,
		op.Priority,
		op.RetryCount,
		op.ErrorMessage,
		op.NextRetryAt,
		op.CreatedAt,
		op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

// GetOperation returns a single operation by id.
func (db *DB) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM offline_operations WHERE id = ?`
	op, err := scanOperation(db.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// QueryPending returns pending operations eligible for dispatch, ordered
// by priority descending then created_at ascending (stable FIFO
// tie-break). limit <= 0 means no limit.
func (db *DB) QueryPending(ctx context.Context, limit int) ([]models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM offline_operations
              WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY priority DESC, created_at ASC`
	args := []interface{}{models.StatusPending, time.Now()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	return collectOperations(rows)
}

// UpdateStatus atomically transitions an operation to the given status,
// refreshing updated_at and clearing any retry schedule. errMsg nil
// leaves error_message untouched for terminal failure visibility.
func (db *DB) UpdateStatus(ctx context.Context, id, status string, errMsg *string) error {
	var query string
	var args []interface{}
	now := time.Now()

	if errMsg != nil {
		query = `UPDATE offline_operations SET status = ?, error_message = ?, next_retry_at = NULL, updated_at = ? WHERE id = ?`
		args = []interface{}{status, *errMsg, now, id}
	} else {
		query = `UPDATE offline_operations SET status = ?, next_retry_at = NULL, updated_at = ? WHERE id = ?`
		args = []interface{}{status, now, id}
	}

	res, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update operation status: %w", err)
	}
	return requireRow(res)
}

// RequeueForRetry returns a failed operation to pending, incrementing
// retry_count and recording the error and the next eligible time.
func (db *DB) RequeueForRetry(ctx context.Context, id, errMsg string, nextRetryAt *time.Time) error {
	query := `UPDATE offline_operations
              SET status = ?, error_message = ?, next_retry_at = ?, retry_count = retry_count + 1, updated_at = ?
              WHERE id = ?`
	res, err := db.db.ExecContext(ctx, query, models.StatusPending, errMsg, nextRetryAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to requeue operation: %w", err)
	}
	return requireRow(res)
}

// DeleteOperation removes an operation by id.
func (db *DB) DeleteOperation(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `DELETE FROM offline_operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	return requireRow(res)
}

// CountByStatus returns operation counts grouped by status.
func (db *DB) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM offline_operations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ClearCompleted deletes completed operations, optionally only those
// last updated before olderThan. Returns the number of rows removed.
func (db *DB) ClearCompleted(ctx context.Context, olderThan *time.Time) (int64, error) {
	query := `DELETE FROM offline_operations WHERE status = ?`
	args := []interface{}{models.StatusCompleted}
	if olderThan != nil {
		query += ` AND updated_at < ?`
		args = append(args, *olderThan)
	}

	res, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear completed operations: %w", err)
	}
	return res.RowsAffected()
}

// ResetInProgress returns any in_progress operations to pending. The
// in_progress status is a dispatch lease; rows left in it belong to a
// process that died mid-sync.
func (db *DB) ResetInProgress(ctx context.Context) (int64, error) {
	query := `UPDATE offline_operations SET status = ?, updated_at = ? WHERE status = ?`
	res, err := db.db.ExecContext(ctx, query, models.StatusPending, time.Now(), models.StatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-progress operations: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*models.Operation, error) {
	var op models.Operation
	var payload string
	err := row.Scan(
		&op.ID, &op.Type, &payload, &op.Status, &op.Priority,
		&op.RetryCount, &op.ErrorMessage, &op.NextRetryAt,
		&op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Payload = []byte(payload)
	return &op, nil
}

func collectOperations(rows *sql.Rows) ([]models.Operation, error) {
	var ops []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
