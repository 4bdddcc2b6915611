// Package repository layers degradation behavior over the operation
// store: an in-memory fallback and a failover wrapper that keeps the
// queue usable while the durable store is unavailable.
package repository

import (
	"errors"

	"driftsync/internal/database"
)

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}
