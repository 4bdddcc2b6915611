package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftsync/internal/database"
	"driftsync/internal/models"
)

func memOp(id string, priority int, createdAt time.Time) *models.Operation {
	return &models.Operation{
		ID:        id,
		Type:      models.TypeAPICall,
		Payload:   json.RawMessage(`{"endpoint":"/v1/x","method":"GET"}`),
		Status:    models.StatusPending,
		Priority:  priority,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestMemoryRepo_InsertGetDelete(t *testing.T) {
	repo := NewMemoryOperationRepository()
	ctx := context.Background()

	require.NoError(t, repo.InsertOperation(ctx, memOp("a", 0, time.Now())))

	got, err := repo.GetOperation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	require.NoError(t, repo.DeleteOperation(ctx, "a"))
	_, err = repo.GetOperation(ctx, "a")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestMemoryRepo_ReturnsClones(t *testing.T) {
	repo := NewMemoryOperationRepository()
	ctx := context.Background()

	require.NoError(t, repo.InsertOperation(ctx, memOp("a", 0, time.Now())))

	got, err := repo.GetOperation(ctx, "a")
	require.NoError(t, err)
	got.Status = models.StatusCompleted

	// Mutating the returned value must not leak into the store.
	again, err := repo.GetOperation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)
}

func TestMemoryRepo_QueryPendingOrdering(t *testing.T) {
	repo := NewMemoryOperationRepository()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, repo.InsertOperation(ctx, memOp("old-low", 0, base)))
	require.NoError(t, repo.InsertOperation(ctx, memOp("new-low", 0, base.Add(time.Minute))))
	require.NoError(t, repo.InsertOperation(ctx, memOp("high", 5, base.Add(2*time.Minute))))

	ops, err := repo.QueryPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "high", ops[0].ID)
	assert.Equal(t, "old-low", ops[1].ID)
	assert.Equal(t, "new-low", ops[2].ID)
}

func TestMemoryRepo_QueryPendingTieBreakByInsertion(t *testing.T) {
	repo := NewMemoryOperationRepository()
	ctx := context.Background()

	same := time.Now()
	require.NoError(t, repo.InsertOperation(ctx, memOp("first", 0, same)))
	require.NoError(t, repo.InsertOperation(ctx, memOp("second", 0, same)))

	ops, err := repo.QueryPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "first", ops[0].ID)
	assert.Equal(t, "second", ops[1].ID)
}

func TestMemoryRepo_RetryScheduleGate(t *testing.T) {
	repo := NewMemoryOperationRepository()
	ctx := context.Background()

	require.NoError(t, repo.InsertOperation(ctx, memOp("a", 0, time.Now())))
	retryAt := time.Now().Add(time.Hour)
	require.NoError(t, repo.RequeueForRetry(ctx, "a", "boom", &retryAt))

	ops, err := repo.QueryPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ops)

	got, err := repo.GetOperation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
}

func TestMemoryRepo_StatusHelpers(t *testing.T) {
	repo := NewMemoryOperationRepository()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.InsertOperation(ctx, memOp("a", 0, now)))
	require.NoError(t, repo.InsertOperation(ctx, memOp("b", 0, now)))
	require.NoError(t, repo.UpdateStatus(ctx, "a", models.StatusInProgress, nil))
	require.NoError(t, repo.UpdateStatus(ctx, "b", models.StatusCompleted, nil))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusInProgress])
	assert.Equal(t, 1, counts[models.StatusCompleted])

	reset, err := repo.ResetInProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	removed, err := repo.ClearCompleted(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
