package models

import (
	"encoding/json"
	"time"
)

// Operation is a single queued unit of deferred work. ID, Type, Payload
// and Priority are immutable after enqueue; only Status, RetryCount,
// ErrorMessage and the timestamps change afterwards.
type Operation struct {
	ID           string          `json:"id"`
	Type         string          `json:"operation_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	RetryCount   int             `json:"retry_count"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the operation can never transition again.
func (o *Operation) IsTerminal() bool {
	return IsTerminalStatus(o.Status)
}

// IsTerminalStatus reports whether a status is terminal.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusPermanentlyFailed
}

// OperationError pairs a failed operation with its error message.
type OperationError struct {
	OperationID string `json:"operation_id"`
	Error       string `json:"error"`
}

// SyncResult aggregates the outcome of a single drain. It is created
// fresh per Sync call and never persisted.
type SyncResult struct {
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Conflicts  int              `json:"conflicts"`
	Errors     []OperationError `json:"errors,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}
