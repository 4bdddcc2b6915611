package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"driftsync/internal/api"
	"driftsync/internal/config"
	"driftsync/internal/database"
	"driftsync/internal/deadletter"
	"driftsync/internal/domain"
	"driftsync/internal/logging"
	"driftsync/internal/metrics"
	"driftsync/internal/network"
	"driftsync/internal/queue"
	"driftsync/internal/repository"
	"driftsync/internal/syncengine"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, db := initStore(cfg, &logger)
	if db != nil {
		defer db.Close()
	}

	redisClient, sink := initDeadLetter(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	qm, err := initQueue(cfg, repo, sink, &logger)
	if err != nil {
		return err
	}

	// Operations left in_progress by a crash go back to pending.
	if err := qm.RecoverLeases(ctx); err != nil {
		logger.Warn().Err(err).Msg("lease recovery failed")
	}

	monitor := network.NewMonitor(network.Options{
		Endpoints:      cfg.Network.ProbeEndpoints,
		ProbeTimeout:   time.Duration(cfg.Network.ProbeTimeout) * time.Second,
		DebounceProbes: cfg.Network.DebounceProbes,
	}, &logger)
	monitor.StartMonitoring(time.Duration(cfg.Network.Interval) * time.Second)
	defer monitor.StopMonitoring()

	engine := syncengine.NewEngine(qm, monitor, syncengine.Options{
		Strategy:        cfg.Sync.ConflictStrategy,
		BatchSize:       cfg.Sync.BatchSize,
		HandlerTimeout:  time.Duration(cfg.Sync.HandlerTimeout) * time.Second,
		WaitForInflight: cfg.Sync.WaitForInflight,
	}, &logger)
	registerHandlers(engine, qm, cfg, &logger)

	if cfg.Sync.AutoSync {
		engine.StartAutoSync()
		defer engine.StopAutoSync()
	}

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Backup.Enabled && db != nil {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	var apiServer *api.HTTPServer
	if cfg.API.Enabled {
		apiServer = api.NewHTTPServer(cfg.API, qm, monitor, engine, cfg.Exports.Path, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
	}

	logger.Info().Msg("driftsync daemon started")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if apiServer != nil {
		_ = apiServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create export directory")
		return err
	}
	return nil
}

// initStore opens the SQLite operation store wrapped in the in-memory
// failover. When SQLite cannot be opened at all the daemon degrades to
// memory only: operations survive the session but not a restart.
func initStore(cfg *config.Config, logger *zerolog.Logger) (domain.OperationRepository, *database.DB) {
	fallback := repository.NewMemoryOperationRepository()

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Database.Path).
			Msg("SQLite unavailable, running on in-memory store only")
		return fallback, nil
	}

	return repository.NewFailoverOperationRepository(db, fallback, logger), db
}

func initDeadLetter(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.DeadLetterSink) {
	if cfg.Redis.Address == "" {
		return nil, nil
	}

	client := deadletter.NewRedisClient(cfg.Redis)
	if err := deadletter.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, dead-letter mirroring disabled")
	}

	return client, deadletter.NewSink(client, cfg.Redis.DeadLetterKey, logger)
}

func initQueue(cfg *config.Config, repo domain.OperationRepository, sink domain.DeadLetterSink, logger *zerolog.Logger) (*queue.Manager, error) {
	schemas, err := queue.NewSchemaRegistry()
	if err != nil {
		return nil, err
	}

	initial, max, err := cfg.Sync.Retry.Delays()
	if err != nil {
		return nil, err
	}

	opts := []queue.Option{
		queue.WithMaxRetries(cfg.Sync.MaxRetries),
		queue.WithRetryPolicy(queue.RetryPolicy{
			InitialDelay:  initial,
			MaxDelay:      max,
			BackoffFactor: cfg.Sync.Retry.BackoffFactor,
		}),
	}
	if sink != nil {
		opts = append(opts, queue.WithDeadLetter(sink))
	}

	return queue.NewManager(repo, schemas, logger, opts...), nil
}

// registerHandlers wires every known operation type to the upstream
// replay handler. Without an upstream the engine still runs; queued
// operations simply fail with "no handler" until one is registered.
func registerHandlers(engine *syncengine.Engine, qm *queue.Manager, cfg *config.Config, logger *zerolog.Logger) {
	if cfg.Sync.UpstreamURL == "" {
		logger.Warn().Msg("sync.upstream_url not set, no operation handlers registered")
		return
	}

	client := &http.Client{Timeout: time.Duration(cfg.Sync.HandlerTimeout) * time.Second}
	for _, opType := range qm.Types() {
		endpoint := fmt.Sprintf("%s/%s", cfg.Sync.UpstreamURL, opType)
		engine.RegisterHandler(opType, syncengine.HTTPForwarder(endpoint, client))
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
