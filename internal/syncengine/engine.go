// Package syncengine drains the operation queue when connectivity
// allows, dispatching each operation to its registered handler and
// settling conflicts through the configured strategy.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"driftsync/internal/conflict"
	"driftsync/internal/domain"
	"driftsync/internal/metrics"
	"driftsync/internal/models"
)

// ErrSyncInFlight is returned to a concurrent Sync caller when the
// engine is configured to reject instead of waiting.
var ErrSyncInFlight = errors.New("sync already in flight")

// ErrNoHandler marks operations whose type has no registered handler.
var ErrNoHandler = errors.New("no handler registered")

// Handler executes the business side of one operation. A nil return
// completes the operation; a *ConflictError return signals diverged
// remote state; any other error counts as a failed attempt.
type Handler func(ctx context.Context, payload json.RawMessage) error

// ConflictError is the distinguished conflict signal a handler returns
// when it detects that remote state diverged from the queued local
// change.
type ConflictError struct {
	Remote json.RawMessage
	Detail string
}

func (e *ConflictError) Error() string {
	if e.Detail == "" {
		return "remote state conflict"
	}
	return "remote state conflict: " + e.Detail
}

// Options tunes engine behavior.
type Options struct {
	// Strategy is the initial conflict strategy (default manual).
	Strategy string
	// BatchSize bounds one drain pass; 0 drains everything pending.
	BatchSize int
	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration
	// WaitForInflight makes a concurrent Sync call block and return
	// the in-flight drain's result instead of ErrSyncInFlight.
	WaitForInflight bool
}

// Engine coordinates queue, network monitor and conflict resolution.
type Engine struct {
	queue   domain.QueueManager
	monitor domain.NetworkObserver
	logger  zerolog.Logger

	batchSize       int
	handlerTimeout  time.Duration
	waitForInflight bool

	mu       sync.RWMutex
	strategy string
	handlers map[string]Handler
	mergeFns map[string]conflict.MergeFunc
	appliers map[string]Handler

	// syncMu serializes drains; stateMu guards the in-flight flag and
	// the last result.
	syncMu     sync.Mutex
	stateMu    sync.RWMutex
	inFlight   bool
	lastResult *models.SyncResult

	autoMu     sync.Mutex
	callbackID int
	autoWG     sync.WaitGroup
}

func NewEngine(queue domain.QueueManager, monitor domain.NetworkObserver, opts Options, logger *zerolog.Logger) *Engine {
	if opts.Strategy == "" {
		opts.Strategy = models.StrategyManual
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = models.DefaultHandlerTimeoutSeconds * time.Second
	}

	return &Engine{
		queue:           queue,
		monitor:         monitor,
		logger:          logger.With().Str("component", "syncengine").Logger(),
		batchSize:       opts.BatchSize,
		handlerTimeout:  opts.HandlerTimeout,
		waitForInflight: opts.WaitForInflight,
		strategy:        opts.Strategy,
		handlers:        make(map[string]Handler),
		mergeFns:        make(map[string]conflict.MergeFunc),
		appliers:        make(map[string]Handler),
	}
}

// RegisterHandler binds a handler to an operation type. The previous
// handler for the type, if any, is replaced.
func (e *Engine) RegisterHandler(opType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[opType] = h
}

// RegisterMergeFunc supplies the merge function consulted under the
// merge strategy for an operation type.
func (e *Engine) RegisterMergeFunc(opType string, fn conflict.MergeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mergeFns[opType] = fn
}

// RegisterApplier binds an optional override used to apply resolver
// outcomes (apply_local, merged payloads). Without one, the regular
// handler is re-invoked with the resolved payload.
func (e *Engine) RegisterApplier(opType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appliers[opType] = h
}

// SetConflictStrategy switches the strategy for all subsequent
// resolutions.
func (e *Engine) SetConflictStrategy(strategy string) error {
	if !models.ValidStrategy(strategy) {
		return fmt.Errorf("unknown conflict strategy %q", strategy)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategy = strategy
	return nil
}

// ConflictStrategy returns the current strategy.
func (e *Engine) ConflictStrategy() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategy
}

// Sync drains pending operations in priority-then-FIFO order. Only one
// drain runs at a time per engine: a concurrent call either waits for
// and returns the in-flight result, or fails with ErrSyncInFlight,
// depending on Options.WaitForInflight.
func (e *Engine) Sync(ctx context.Context) (*models.SyncResult, error) {
	if !e.syncMu.TryLock() {
		if !e.waitForInflight {
			return nil, ErrSyncInFlight
		}
		// Wait out the in-flight drain and hand back its result.
		e.syncMu.Lock()
		defer e.syncMu.Unlock()
		return e.LastResult(), nil
	}
	defer e.syncMu.Unlock()

	e.setInFlight(true)
	defer e.setInFlight(false)

	result := &models.SyncResult{StartedAt: time.Now()}

	ops, err := e.queue.GetPendingOperations(ctx, e.batchSize)
	if err != nil {
		result.FinishedAt = time.Now()
		e.storeResult(result)
		return result, fmt.Errorf("fetch pending operations: %w", err)
	}

	for i := range ops {
		if ctx.Err() != nil {
			break
		}
		e.processOperation(ctx, &ops[i], result)
	}

	result.FinishedAt = time.Now()
	e.storeResult(result)
	metrics.ObserveSync(result.FinishedAt.Sub(result.StartedAt).Seconds())
	e.logger.Info().
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("conflicts", result.Conflicts).
		Msg("sync completed")
	return result, nil
}

func (e *Engine) processOperation(ctx context.Context, op *models.Operation, result *models.SyncResult) {
	// The in_progress status is the dispatch lease; a row that cannot
	// take it has been handled elsewhere.
	if err := e.queue.MarkInProgress(ctx, op.ID); err != nil {
		e.logger.Warn().Err(err).Str("id", op.ID).Msg("skipping operation, lease not taken")
		return
	}

	handler, ok := e.handler(op.Type)
	if !ok {
		e.recordFailure(ctx, op, result, fmt.Errorf("%w for type %s", ErrNoHandler, op.Type))
		return
	}

	err := e.invoke(ctx, handler, op.Payload)
	if err == nil {
		e.recordSuccess(ctx, op, result)
		return
	}

	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		e.resolveConflict(ctx, op, conflictErr, result)
		return
	}

	e.recordFailure(ctx, op, result, err)
}

// resolveConflict consults the resolver and settles the operation
// according to the returned action.
func (e *Engine) resolveConflict(ctx context.Context, op *models.Operation, ce *ConflictError, result *models.SyncResult) {
	e.mu.RLock()
	strategy := e.strategy
	mergeFn := e.mergeFns[op.Type]
	e.mu.RUnlock()

	resolution := conflict.Resolve(strategy, op.Payload, ce.Remote, mergeFn)

	switch resolution.Action {
	case models.ActionDiscardLocal:
		// Remote is authoritative; complete without re-applying.
		e.recordSuccess(ctx, op, result)

	case models.ActionApplyLocal:
		e.applyResolved(ctx, op, op.Payload, result)

	case models.ActionMergedPayload:
		e.applyResolved(ctx, op, resolution.Payload, result)

	default: // require_manual
		if err := e.queue.MarkConflict(ctx, op.ID); err != nil {
			e.logger.Error().Err(err).Str("id", op.ID).Msg("mark conflict")
		}
		result.Conflicts++
	}
}

// applyResolved pushes a resolver-chosen payload through the applier
// (or the regular handler). A second conflict parks the operation for
// manual resolution rather than looping.
func (e *Engine) applyResolved(ctx context.Context, op *models.Operation, payload json.RawMessage, result *models.SyncResult) {
	e.mu.RLock()
	applier, ok := e.appliers[op.Type]
	if !ok {
		applier = e.handlers[op.Type]
	}
	e.mu.RUnlock()

	err := e.invoke(ctx, applier, payload)
	if err == nil {
		e.recordSuccess(ctx, op, result)
		return
	}

	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		if err := e.queue.MarkConflict(ctx, op.ID); err != nil {
			e.logger.Error().Err(err).Str("id", op.ID).Msg("mark conflict")
		}
		result.Conflicts++
		return
	}

	e.recordFailure(ctx, op, result, err)
}

// invoke runs a handler under the configured timeout, converting a
// panic into an ordinary failure.
func (e *Engine) invoke(ctx context.Context, h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()

	handlerCtx, cancel := context.WithTimeout(ctx, e.handlerTimeout)
	defer cancel()
	return h(handlerCtx, payload)
}

func (e *Engine) recordSuccess(ctx context.Context, op *models.Operation, result *models.SyncResult) {
	if err := e.queue.MarkCompleted(ctx, op.ID); err != nil {
		e.logger.Error().Err(err).Str("id", op.ID).Msg("mark completed")
	}
	result.Succeeded++
}

func (e *Engine) recordFailure(ctx context.Context, op *models.Operation, result *models.SyncResult, cause error) {
	if err := e.queue.MarkFailed(ctx, op.ID, cause.Error()); err != nil {
		e.logger.Error().Err(err).Str("id", op.ID).Msg("mark failed")
	}
	result.Failed++
	result.Errors = append(result.Errors, models.OperationError{
		OperationID: op.ID,
		Error:       cause.Error(),
	})
}

func (e *Engine) handler(opType string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[opType]
	return h, ok
}

// StartAutoSync subscribes to the monitor and triggers a drain on
// every transition to online. Manual Sync calls remain available.
func (e *Engine) StartAutoSync() {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.callbackID != 0 {
		return
	}

	e.callbackID = e.monitor.AddCallback(func(oldStatus, newStatus models.NetworkStatus) {
		if newStatus != models.NetworkOnline {
			return
		}
		e.autoWG.Add(1)
		go func() {
			defer e.autoWG.Done()
			if _, err := e.Sync(context.Background()); err != nil && !errors.Is(err, ErrSyncInFlight) {
				e.logger.Error().Err(err).Msg("auto sync failed")
			}
		}()
	})
	e.logger.Info().Msg("auto sync enabled")
}

// StopAutoSync unsubscribes from the monitor and waits for any drain
// it started to finish. Safe to call when auto sync is not running.
func (e *Engine) StopAutoSync() {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.callbackID == 0 {
		return
	}

	e.monitor.RemoveCallback(e.callbackID)
	e.callbackID = 0
	e.autoWG.Wait()
	e.logger.Info().Msg("auto sync disabled")
}

// AutoSyncEnabled reports whether the engine is subscribed to network
// transitions.
func (e *Engine) AutoSyncEnabled() bool {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	return e.callbackID != 0
}

// InFlight reports whether a drain is currently running.
func (e *Engine) InFlight() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.inFlight
}

// LastResult returns the result of the most recent drain, or nil.
func (e *Engine) LastResult() *models.SyncResult {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.lastResult == nil {
		return nil
	}
	clone := *e.lastResult
	return &clone
}

func (e *Engine) setInFlight(v bool) {
	e.stateMu.Lock()
	e.inFlight = v
	e.stateMu.Unlock()
}

func (e *Engine) storeResult(r *models.SyncResult) {
	e.stateMu.Lock()
	e.lastResult = r
	e.stateMu.Unlock()
}
