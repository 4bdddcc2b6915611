// Package conflict decides how a queued local change is reconciled
// against diverged remote state.
package conflict

import (
	"encoding/json"

	"driftsync/internal/models"
)

// MergeFunc combines a local payload with remote state into a new
// payload. Supplied by the handler owner for the merge strategy.
type MergeFunc func(local json.RawMessage, remote json.RawMessage) (json.RawMessage, error)

// Resolution is the resolver's decision for one conflict.
type Resolution struct {
	Action string
	// Payload is set only for the merged_payload action.
	Payload json.RawMessage
}

// Resolve is a pure decision function: the same strategy and inputs
// always yield the same action.
//
//   - local_wins:  apply the local payload over the remote state.
//   - remote_wins: discard the local payload, remote is authoritative.
//   - merge:       delegate to mergeFn; without one (or when it
//     errors) fall back to manual resolution.
//   - manual:      always park for manual resolution.
func Resolve(strategy string, local json.RawMessage, remote json.RawMessage, mergeFn MergeFunc) Resolution {
	switch strategy {
	case models.StrategyLocalWins:
		return Resolution{Action: models.ActionApplyLocal}
	case models.StrategyRemoteWins:
		return Resolution{Action: models.ActionDiscardLocal}
	case models.StrategyMerge:
		if mergeFn == nil {
			return Resolution{Action: models.ActionRequireManual}
		}
		merged, err := mergeFn(local, remote)
		if err != nil {
			return Resolution{Action: models.ActionRequireManual}
		}
		return Resolution{Action: models.ActionMergedPayload, Payload: merged}
	default:
		return Resolution{Action: models.ActionRequireManual}
	}
}
