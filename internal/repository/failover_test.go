package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftsync/internal/database"
	"driftsync/internal/domain"
	"driftsync/internal/models"
)

var errDiskGone = errors.New("disk I/O error")

// brokenRepo fails every call until healed.
type brokenRepo struct {
	inner  domain.OperationRepository
	broken bool
}

func (b *brokenRepo) InsertOperation(ctx context.Context, op *models.Operation) error {
	if b.broken {
		return errDiskGone
	}
	return b.inner.InsertOperation(ctx, op)
}

func (b *brokenRepo) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	if b.broken {
		return nil, errDiskGone
	}
	return b.inner.GetOperation(ctx, id)
}

func (b *brokenRepo) QueryPending(ctx context.Context, limit int) ([]models.Operation, error) {
	if b.broken {
		return nil, errDiskGone
	}
	return b.inner.QueryPending(ctx, limit)
}

func (b *brokenRepo) UpdateStatus(ctx context.Context, id, status string, errMsg *string) error {
	if b.broken {
		return errDiskGone
	}
	return b.inner.UpdateStatus(ctx, id, status, errMsg)
}

func (b *brokenRepo) RequeueForRetry(ctx context.Context, id, errMsg string, nextRetryAt *time.Time) error {
	if b.broken {
		return errDiskGone
	}
	return b.inner.RequeueForRetry(ctx, id, errMsg, nextRetryAt)
}

func (b *brokenRepo) DeleteOperation(ctx context.Context, id string) error {
	if b.broken {
		return errDiskGone
	}
	return b.inner.DeleteOperation(ctx, id)
}

func (b *brokenRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	if b.broken {
		return nil, errDiskGone
	}
	return b.inner.CountByStatus(ctx)
}

func (b *brokenRepo) ClearCompleted(ctx context.Context, olderThan *time.Time) (int64, error) {
	if b.broken {
		return 0, errDiskGone
	}
	return b.inner.ClearCompleted(ctx, olderThan)
}

func (b *brokenRepo) ResetInProgress(ctx context.Context) (int64, error) {
	if b.broken {
		return 0, errDiskGone
	}
	return b.inner.ResetInProgress(ctx)
}

func newFailoverForTest(t *testing.T) (*FailoverOperationRepository, *brokenRepo, *MemoryOperationRepository) {
	t.Helper()
	primary := &brokenRepo{inner: NewMemoryOperationRepository()}
	fallback := NewMemoryOperationRepository()
	logger := zerolog.Nop()
	return NewFailoverOperationRepository(primary, fallback, &logger), primary, fallback
}

func TestFailover_UsesPrimaryWhenHealthy(t *testing.T) {
	repo, primary, fallback := newFailoverForTest(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertOperation(ctx, memOp("a", 0, time.Now())))

	_, err := primary.inner.GetOperation(ctx, "a")
	assert.NoError(t, err)
	_, err = fallback.GetOperation(ctx, "a")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestFailover_DegradesToFallback(t *testing.T) {
	repo, primary, fallback := newFailoverForTest(t)
	ctx := context.Background()
	primary.broken = true

	require.NoError(t, repo.InsertOperation(ctx, memOp("a", 0, time.Now())))

	got, err := fallback.GetOperation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	// Reads are served from the fallback while the primary is down.
	ops, err := repo.QueryPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestFailover_NotFoundDoesNotTripFailover(t *testing.T) {
	repo, primary, _ := newFailoverForTest(t)
	ctx := context.Background()

	_, err := repo.GetOperation(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.False(t, repo.isDown.Load())

	// A healthy primary keeps receiving writes afterwards.
	require.NoError(t, repo.InsertOperation(ctx, memOp("a", 0, time.Now())))
	_, err = primary.inner.GetOperation(ctx, "a")
	assert.NoError(t, err)
}

func TestFailover_ReadsFallbackForStrandedRows(t *testing.T) {
	repo, primary, _ := newFailoverForTest(t)
	ctx := context.Background()

	// Outage strands a row in memory.
	primary.broken = true
	require.NoError(t, repo.InsertOperation(ctx, memOp("stranded", 0, time.Now())))
	primary.broken = false
	repo.isDown.Store(false)

	// A healthy primary misses but the row is still reachable.
	got, err := repo.GetOperation(ctx, "stranded")
	require.NoError(t, err)
	assert.Equal(t, "stranded", got.ID)

	err = repo.UpdateStatus(ctx, "stranded", models.StatusCompleted, nil)
	require.NoError(t, err)
}

func TestFailover_CountMergesBothStores(t *testing.T) {
	repo, primary, _ := newFailoverForTest(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertOperation(ctx, memOp("durable", 0, time.Now())))

	primary.broken = true
	require.NoError(t, repo.InsertOperation(ctx, memOp("stranded", 0, time.Now())))
	primary.broken = false
	repo.isDown.Store(false)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
}

func TestFailover_RecoversAfterCooldown(t *testing.T) {
	repo, primary, _ := newFailoverForTest(t)
	repo.recoveryInterval = 10 * time.Millisecond
	ctx := context.Background()

	primary.broken = true
	require.NoError(t, repo.InsertOperation(ctx, memOp("a", 0, time.Now())))
	assert.True(t, repo.isDown.Load())

	primary.broken = false
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, repo.InsertOperation(ctx, memOp("b", 0, time.Now())))
	assert.False(t, repo.isDown.Load())
	_, err := primary.inner.GetOperation(ctx, "b")
	assert.NoError(t, err)
}
