package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftsync/internal/config"
	"driftsync/internal/models"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "ops.db")
	storagePath := filepath.Join(tempDir, "backups")

	logger := zerolog.Nop()
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, db.InsertOperation(context.Background(),
		makeOperation("op-1", models.TypeAPICall, 0, time.Now())))
	require.NoError(t, db.Close())

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	s := NewBackupService(dbPath, cfg, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		require.NoError(t, s.PerformBackup())

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		require.Len(t, files, 1)

		// The snapshot is a readable store holding the same rows.
		snapshot, err := NewDB(filepath.Join(storagePath, files[0].Name()), &logger)
		require.NoError(t, err)
		defer snapshot.Close()

		op, err := snapshot.GetOperation(context.Background(), "op-1")
		require.NoError(t, err)
		assert.Equal(t, models.TypeAPICall, op.Type)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "operations_00000000_000000.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		s.CleanupOldBackups()

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.NotEqual(t, "operations_00000000_000000.db", files[0].Name())
	})
}
