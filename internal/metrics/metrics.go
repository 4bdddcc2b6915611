package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"driftsync/internal/models"
)

var (
	once sync.Once

	operationsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "operations_enqueued_total",
			Help:      "Operations accepted into the queue by type.",
		},
		[]string{"operation_type"},
	)

	operationsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "operations_completed_total",
			Help:      "Operations that reached the completed status.",
		},
	)

	operationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "operations_failed_total",
			Help:      "Failed dispatch attempts, by outcome (retry or permanent).",
		},
		[]string{"outcome"},
	)

	syncRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "sync_runs_total",
			Help:      "Completed sync drains.",
		},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "driftsync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of a full sync drain.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	networkStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftsync",
			Name:      "network_status",
			Help:      "Current connectivity: 1 online, 0 offline, -1 unknown.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			operationsEnqueued,
			operationsCompleted,
			operationsFailed,
			syncRuns,
			syncDuration,
			networkStatus,
			httpRequests,
		)
	})
}

func IncEnqueued(opType string) {
	operationsEnqueued.WithLabelValues(opType).Inc()
}

func IncCompleted() {
	operationsCompleted.Inc()
}

// IncFailed records a failed dispatch; outcome is "retry" or
// "permanent".
func IncFailed(outcome string) {
	operationsFailed.WithLabelValues(outcome).Inc()
}

func ObserveSync(seconds float64) {
	syncRuns.Inc()
	syncDuration.Observe(seconds)
}

func SetNetworkStatus(status models.NetworkStatus) {
	switch status {
	case models.NetworkOnline:
		networkStatus.Set(1)
	case models.NetworkOffline:
		networkStatus.Set(0)
	default:
		networkStatus.Set(-1)
	}
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
