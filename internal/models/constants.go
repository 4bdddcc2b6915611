package models

// Operation lifecycle statuses. Completed and permanently_failed are
// terminal; failed means retryable and transitions back to pending.
const (
	StatusPending           = "pending"
	StatusInProgress        = "in_progress"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusPermanentlyFailed = "permanently_failed"
	StatusConflictPending   = "conflict_pending"
)

// Statuses lists every lifecycle status, used for stats maps.
var Statuses = []string{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusPermanentlyFailed,
	StatusConflictPending,
}

// Operation types form a closed set; each has a payload schema
// registered with the queue manager.
const (
	TypeAPICall        = "api_call"
	TypeFileUpload     = "file_upload"
	TypeMetricLog      = "metric_log"
	TypeModelPush      = "model_push"
	TypeExperimentSync = "experiment_sync"
)

// Conflict resolution strategies.
const (
	StrategyLocalWins  = "local_wins"
	StrategyRemoteWins = "remote_wins"
	StrategyMerge      = "merge"
	StrategyManual     = "manual"
)

// Conflict resolution actions returned by the resolver.
const (
	ActionApplyLocal    = "apply_local"
	ActionDiscardLocal  = "discard_local"
	ActionMergedPayload = "merged_payload"
	ActionRequireManual = "require_manual"
)

// Resolutions accepted by ResolveConflict for a conflict_pending
// operation.
const (
	ResolutionRetry   = "retry"
	ResolutionDiscard = "discard"
)

const (
	// DefaultMaxRetries bounds failed dispatch attempts before an
	// operation is promoted to permanently_failed.
	DefaultMaxRetries = 5

	// DefaultSyncBatchSize bounds one drain pass. Zero means unbounded.
	DefaultSyncBatchSize = 0

	// DefaultProbeTimeoutSeconds is the per-endpoint connectivity probe
	// timeout.
	DefaultProbeTimeoutSeconds = 5

	// DefaultMonitorIntervalSeconds is the polling interval of the
	// network monitor.
	DefaultMonitorIntervalSeconds = 30

	// DefaultDebounceProbes is the number of consecutive consistent
	// probe results required before the network status flips.
	DefaultDebounceProbes = 1

	// DefaultHandlerTimeoutSeconds bounds a single handler invocation
	// during a drain.
	DefaultHandlerTimeoutSeconds = 30
)

// ValidStrategy reports whether s names a known conflict strategy.
func ValidStrategy(s string) bool {
	switch s {
	case StrategyLocalWins, StrategyRemoteWins, StrategyMerge, StrategyManual:
		return true
	}
	return false
}
