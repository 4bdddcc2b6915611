package queue

import (
	"errors"
	"fmt"
)

// ErrTerminal is returned when a transition is requested on an
// operation already in a terminal status.
var ErrTerminal = errors.New("operation is in a terminal status")

// ErrNotConflict is returned when ResolveConflict targets an operation
// that is not conflict_pending.
var ErrNotConflict = errors.New("operation is not awaiting conflict resolution")

// ValidationError reports a malformed payload or an unrecognized
// operation type at enqueue time. It is returned to the caller
// synchronously and never recorded on an operation.
type ValidationError struct {
	OperationType string
	Detail        string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid operation %q: %s", e.OperationType, e.Detail)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
