// Package network determines connectivity by probing a set of
// endpoints and broadcasts status changes to registered callbacks.
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"driftsync/internal/events"
	"driftsync/internal/metrics"
	"driftsync/internal/models"
)

// Prober checks a single endpoint for reachability.
type Prober interface {
	Probe(ctx context.Context, endpoint string) error
}

type httpProber struct {
	client *http.Client
}

func (p *httpProber) Probe(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	// Any HTTP response means the network path works.
	resp.Body.Close()
	return nil
}

// Options configures a Monitor.
type Options struct {
	Endpoints      []string
	ProbeTimeout   time.Duration
	DebounceProbes int
	Prober         Prober
}

// Monitor owns the process-wide NetworkState. Construct one instance
// at startup and pass it by handle; it is never a package global.
type Monitor struct {
	endpoints      []string
	probeTimeout   time.Duration
	debounceProbes int
	prober         Prober
	registry       *events.Registry
	logger         zerolog.Logger

	mu          sync.Mutex
	status      models.NetworkStatus
	lastChecked time.Time
	streak      models.NetworkStatus
	streakLen   int

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewMonitor(opts Options, logger *zerolog.Logger) *Monitor {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = models.DefaultProbeTimeoutSeconds * time.Second
	}
	if opts.DebounceProbes <= 0 {
		opts.DebounceProbes = models.DefaultDebounceProbes
	}
	if opts.Prober == nil {
		opts.Prober = &httpProber{client: &http.Client{Timeout: opts.ProbeTimeout}}
	}

	return &Monitor{
		endpoints:      opts.Endpoints,
		probeTimeout:   opts.ProbeTimeout,
		debounceProbes: opts.DebounceProbes,
		prober:         opts.Prober,
		registry:       events.NewRegistry(logger),
		logger:         logger.With().Str("component", "network").Logger(),
		status:         models.NetworkUnknown,
	}
}

// CheckConnectivity probes all endpoints concurrently and records the
// result. It returns true if at least one endpoint answered. The call
// returns as soon as the outcome is decided: the first success settles
// it, remaining probes are cancelled.
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	online := m.probe(ctx)

	status := models.NetworkOffline
	if online {
		status = models.NetworkOnline
	}
	m.applyResult(status)
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	if len(m.endpoints) == 0 {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	results := make(chan error, len(m.endpoints))
	for _, endpoint := range m.endpoints {
		go func(endpoint string) {
			results <- m.prober.Probe(probeCtx, endpoint)
		}(endpoint)
	}

	for range m.endpoints {
		select {
		case err := <-results:
			if err == nil {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
	// Every probe failed; not fatal, the state is simply offline.
	return false
}

// applyResult folds a probe outcome into the debounced state machine.
// Transitions are single-step and fire callbacks exactly once per
// actual change.
func (m *Monitor) applyResult(observed models.NetworkStatus) {
	m.mu.Lock()
	m.lastChecked = time.Now()

	if observed == m.status {
		// Consistent with the recorded state; reset any pending flip.
		m.streak = observed
		m.streakLen = 0
		m.mu.Unlock()
		return
	}

	if m.streak == observed {
		m.streakLen++
	} else {
		m.streak = observed
		m.streakLen = 1
	}

	if m.streakLen < m.debounceProbes {
		m.mu.Unlock()
		return
	}

	oldStatus := m.status
	m.status = observed
	m.streakLen = 0
	m.mu.Unlock()

	metrics.SetNetworkStatus(observed)
	m.logger.Info().
		Str("old", string(oldStatus)).
		Str("new", string(observed)).
		Msg("network status changed")
	m.registry.Notify(oldStatus, observed)
}

// StartMonitoring launches the background polling loop. Calling it
// while already running is a no-op.
func (m *Monitor) StartMonitoring(interval time.Duration) {
	if interval <= 0 {
		interval = models.DefaultMonitorIntervalSeconds * time.Second
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go func(done chan struct{}) {
		defer close(done)

		// Establish an initial reading right away instead of waiting a
		// full interval.
		m.CheckConnectivity(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckConnectivity(ctx)
			}
		}
	}(m.done)

	m.logger.Info().Dur("interval", interval).Int("endpoints", len(m.endpoints)).Msg("network monitoring started")
}

// StopMonitoring stops the polling loop, letting an in-flight probe
// finish. Safe to call when not started.
func (m *Monitor) StopMonitoring() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}

	m.cancel()
	<-m.done
	m.running = false
	m.logger.Info().Msg("network monitoring stopped")
}

// AddCallback registers a listener fired on every status change. The
// returned handle removes it again.
func (m *Monitor) AddCallback(fn func(oldStatus, newStatus models.NetworkStatus)) int {
	return m.registry.Subscribe(fn)
}

// RemoveCallback unregisters a listener by handle.
func (m *Monitor) RemoveCallback(id int) {
	m.registry.Unsubscribe(id)
}

// GetStatusInfo returns a read-only snapshot of the network state.
func (m *Monitor) GetStatusInfo() models.NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.NetworkState{Status: m.status, LastCheckedAt: m.lastChecked}
}
