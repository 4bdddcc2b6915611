package database

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftsync/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func makeOperation(id, opType string, priority int, createdAt time.Time) *models.Operation {
	return &models.Operation{
		ID:        id,
		Type:      opType,
		Payload:   json.RawMessage(`{"endpoint":"/v1/things","method":"POST"}`),
		Status:    models.StatusPending,
		Priority:  priority,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestInsertAndGetOperation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	op := makeOperation("op-1", models.TypeAPICall, 3, now)
	require.NoError(t, db.InsertOperation(ctx, op))

	got, err := db.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", got.ID)
	assert.Equal(t, models.TypeAPICall, got.Type)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 3, got.Priority)
	assert.Equal(t, 0, got.RetryCount)
	assert.JSONEq(t, `{"endpoint":"/v1/things","method":"POST"}`, string(got.Payload))
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.NextRetryAt)
}

func TestGetOperation_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetOperation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryPending_Ordering(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	// Same priority: FIFO by created_at. Higher priority jumps the line
	// regardless of age.
	require.NoError(t, db.InsertOperation(ctx, makeOperation("old-low", models.TypeAPICall, 0, base)))
	require.NoError(t, db.InsertOperation(ctx, makeOperation("new-low", models.TypeAPICall, 0, base.Add(time.Minute))))
	require.NoError(t, db.InsertOperation(ctx, makeOperation("high", models.TypeMetricLog, 10, base.Add(2*time.Minute))))

	ops, err := db.QueryPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "high", ops[0].ID)
	assert.Equal(t, "old-low", ops[1].ID)
	assert.Equal(t, "new-low", ops[2].ID)
}

func TestQueryPending_Limit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.InsertOperation(ctx, makeOperation(id, models.TypeAPICall, 0, base.Add(time.Duration(i)*time.Second))))
	}

	ops, err := db.QueryPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

func TestQueryPending_SkipsNonPendingAndScheduled(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, db.InsertOperation(ctx, makeOperation("ready", models.TypeAPICall, 0, now)))
	require.NoError(t, db.InsertOperation(ctx, makeOperation("done", models.TypeAPICall, 0, now)))
	require.NoError(t, db.UpdateStatus(ctx, "done", models.StatusCompleted, nil))

	future := makeOperation("scheduled", models.TypeAPICall, 0, now)
	retryAt := now.Add(time.Hour)
	future.NextRetryAt = &retryAt
	require.NoError(t, db.InsertOperation(ctx, future))

	ops, err := db.QueryPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "ready", ops[0].ID)
}

func TestUpdateStatus_RecordsError(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertOperation(ctx, makeOperation("op-1", models.TypeAPICall, 0, time.Now())))

	msg := "connection refused"
	require.NoError(t, db.UpdateStatus(ctx, "op-1", models.StatusPermanentlyFailed, &msg))

	got, err := db.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPermanentlyFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "connection refused", *got.ErrorMessage)
}

func TestUpdateStatus_NilErrorKeepsMessage(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertOperation(ctx, makeOperation("op-1", models.TypeAPICall, 0, time.Now())))
	msg := "timeout"
	require.NoError(t, db.UpdateStatus(ctx, "op-1", models.StatusFailed, &msg))
	require.NoError(t, db.UpdateStatus(ctx, "op-1", models.StatusPending, nil))

	got, err := db.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "timeout", *got.ErrorMessage)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := db.UpdateStatus(context.Background(), "missing", models.StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequeueForRetry(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertOperation(ctx, makeOperation("op-1", models.TypeAPICall, 0, time.Now())))

	retryAt := time.Now().Add(30 * time.Second)
	require.NoError(t, db.RequeueForRetry(ctx, "op-1", "503 from upstream", &retryAt))
	require.NoError(t, db.RequeueForRetry(ctx, "op-1", "503 from upstream", nil))

	got, err := db.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "503 from upstream", *got.ErrorMessage)
	assert.Nil(t, got.NextRetryAt)
}

func TestDeleteOperation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertOperation(ctx, makeOperation("op-1", models.TypeAPICall, 0, time.Now())))
	require.NoError(t, db.DeleteOperation(ctx, "op-1"))

	_, err := db.GetOperation(ctx, "op-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteOperation(ctx, "op-1"), ErrNotFound)
}

func TestCountByStatus(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, db.InsertOperation(ctx, makeOperation("a", models.TypeAPICall, 0, now)))
	require.NoError(t, db.InsertOperation(ctx, makeOperation("b", models.TypeAPICall, 0, now)))
	require.NoError(t, db.InsertOperation(ctx, makeOperation("c", models.TypeAPICall, 0, now)))
	require.NoError(t, db.UpdateStatus(ctx, "c", models.StatusCompleted, nil))

	counts, err := db.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusCompleted])
}

func TestClearCompleted(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, db.InsertOperation(ctx, makeOperation("done", models.TypeAPICall, 0, now)))
	require.NoError(t, db.InsertOperation(ctx, makeOperation("pending", models.TypeAPICall, 0, now)))
	require.NoError(t, db.UpdateStatus(ctx, "done", models.StatusCompleted, nil))

	removed, err := db.ClearCompleted(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = db.GetOperation(ctx, "done")
	assert.ErrorIs(t, err, ErrNotFound)

	// The pending operation is untouched.
	_, err = db.GetOperation(ctx, "pending")
	assert.NoError(t, err)
}

func TestClearCompleted_OlderThan(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertOperation(ctx, makeOperation("fresh", models.TypeAPICall, 0, time.Now())))
	require.NoError(t, db.UpdateStatus(ctx, "fresh", models.StatusCompleted, nil))

	cutoff := time.Now().Add(-time.Hour)
	removed, err := db.ClearCompleted(ctx, &cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestResetInProgress(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, db.InsertOperation(ctx, makeOperation("leased", models.TypeAPICall, 0, now)))
	require.NoError(t, db.InsertOperation(ctx, makeOperation("done", models.TypeAPICall, 0, now)))
	require.NoError(t, db.UpdateStatus(ctx, "leased", models.StatusInProgress, nil))
	require.NoError(t, db.UpdateStatus(ctx, "done", models.StatusCompleted, nil))

	reset, err := db.ResetInProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	got, err := db.GetOperation(ctx, "leased")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "driftsync_db")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "ops.db")
	logger := zerolog.Nop()
	ctx := context.Background()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, db.InsertOperation(ctx, makeOperation("survivor", models.TypeFileUpload, 7, time.Now())))
	require.NoError(t, db.Close())

	reopened, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetOperation(ctx, "survivor")
	require.NoError(t, err)
	assert.Equal(t, models.TypeFileUpload, got.Type)
	assert.Equal(t, 7, got.Priority)
	assert.JSONEq(t, `{"endpoint":"/v1/things","method":"POST"}`, string(got.Payload))
}
