// Package api exposes the HTTP surface consumed by the UI layer:
// queue inspection, connectivity, and sync control.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"driftsync/internal/config"
	"driftsync/internal/domain"
	"driftsync/internal/metrics"
	"driftsync/internal/models"
)

// NetworkMonitor is the connectivity surface the API needs.
type NetworkMonitor interface {
	CheckConnectivity(ctx context.Context) bool
	GetStatusInfo() models.NetworkState
}

// SyncController is the engine surface the API needs.
type SyncController interface {
	Sync(ctx context.Context) (*models.SyncResult, error)
	StartAutoSync()
	StopAutoSync()
	AutoSyncEnabled() bool
	SetConflictStrategy(strategy string) error
	ConflictStrategy() string
	InFlight() bool
	LastResult() *models.SyncResult
}

// HTTPServer serves the queue, network and sync endpoints.
type HTTPServer struct {
	cfg        config.APIConfig
	queue      domain.QueueManager
	monitor    NetworkMonitor
	engine     SyncController
	exportPath string
	logger     zerolog.Logger
	server     *http.Server
	auth       *HTTPAuth
}

func NewHTTPServer(cfg config.APIConfig, q domain.QueueManager, monitor NetworkMonitor, engine SyncController, exportPath string, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:        cfg,
		queue:      q,
		monitor:    monitor,
		engine:     engine,
		exportPath: exportPath,
		logger:     logger.With().Str("component", "api").Logger(),
	}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/queue", srv.handleQueue)
	mux.HandleFunc("/queue/stats", srv.handleQueueStats)
	mux.HandleFunc("/queue/clear-completed", srv.handleClearCompleted)
	mux.HandleFunc("/queue/export", srv.handleQueueExport)
	mux.HandleFunc("/queue/", srv.handleQueueItem)
	mux.HandleFunc("/network-status", srv.handleNetworkStatus)
	mux.HandleFunc("/check-connectivity", srv.handleCheckConnectivity)
	mux.HandleFunc("/sync", srv.handleSync)
	mux.HandleFunc("/sync/status", srv.handleSyncStatus)
	mux.HandleFunc("/sync/start-auto", srv.handleStartAuto)
	mux.HandleFunc("/sync/stop-auto", srv.handleStopAuto)
	mux.HandleFunc("/sync/conflict-strategy", srv.handleConflictStrategy)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the configured root handler, used by the tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HTTPAuth provides API-key auth and per-key rate limiting.
type HTTPAuth struct {
	cfg      config.APIConfig
	clients  map[string]config.APIClientKey
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health stays open for liveness probes.
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	header := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = "x-api-key"
	}

	apiKey := strings.TrimSpace(r.Header.Get(header))
	if apiKey == "" {
		return fmt.Errorf("missing api key header")
	}

	for key := range a.clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return nil
		}
	}
	return fmt.Errorf("invalid api key")
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	if !a.getLimiter(a.clientKey(r)).Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	header := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = "x-api-key"
	}
	if apiKey := strings.TrimSpace(r.Header.Get(header)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *HTTPAuth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(r.URL.Path)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
