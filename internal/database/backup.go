package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"driftsync/internal/config"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// BackupService periodically snapshots the operation store so a corrupt
// database file does not mean losing the queued work.
type BackupService struct {
	dbPath string
	config config.BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		dbPath: dbPath,
		config: cfg,
		logger: logger,
	}
}

// Start runs the backup loop until ctx is done.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("backup service is disabled")
		return
	}

	interval := 24 * time.Hour
	if s.config.Schedule != "" {
		if d, err := time.ParseDuration(s.config.Schedule); err == nil {
			interval = d
		} else {
			s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("failed to parse backup schedule, using default 24h")
		}
	}

	s.logger.Info().Dur("interval", interval).Msg("backup service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.PerformBackup(); err != nil {
		s.logger.Error().Err(err).Msg("initial backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PerformBackup(); err != nil {
				s.logger.Error().Err(err).Msg("scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

// PerformBackup writes a consistent snapshot of the store via VACUUM
// INTO, falling back to a plain file copy.
func (s *BackupService) PerformBackup() error {
	if _, err := os.Stat(s.config.StoragePath); os.IsNotExist(err) {
		if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
	}

	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(s.config.StoragePath, fmt.Sprintf("operations_%s.db", timestamp))

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, falling back to file copy")
		return s.performBackupFallback(backupPath)
	}

	s.logger.Info().Str("path", backupPath).Msg("backup completed")
	return nil
}

func (s *BackupService) performBackupFallback(backupPath string) error {
	source, err := os.Open(s.dbPath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer destination.Close()

	// io.Copy is not atomic for SQLite; a write racing the copy can
	// corrupt this snapshot.
	if _, err := io.Copy(destination, source); err != nil {
		return err
	}
	return nil
}

// CleanupOldBackups removes snapshots older than the retention window.
func (s *BackupService) CleanupOldBackups() {
	if s.config.RetentionDays <= 0 {
		return
	}

	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read backup directory")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if !strings.HasPrefix(name, "operations_") || !strings.HasSuffix(name, ".db") {
			continue
		}
		path := filepath.Join(s.config.StoragePath, name)
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to remove old backup")
		}
	}
}
