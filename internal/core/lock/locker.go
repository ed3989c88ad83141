// Package lock defines the keyed mutual-exclusion contract used to serialize
// work on a budget line or a spending record across goroutines and instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"spendchain/internal/core/apperror"
)

// ErrNotAcquired is returned when a lock could not be obtained in time.
var ErrNotAcquired = errors.New("lock not acquired")

// NotAcquired reports a lock wait that ran out as a retriable 409.
// The result still matches ErrNotAcquired with errors.Is.
func NotAcquired(key string, cause error) error {
	return apperror.NewConcurrentModification("lock", key).
		WithCause(fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, cause))
}

// Locker runs fn while holding every key.
// Implementations acquire keys in ascending order so that two callers
// locking the same pair never deadlock.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// Normalize sorts keys and drops duplicates and empty keys.
func Normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// BudgetLineKey is the lock key of a budget line.
func BudgetLineKey(lineID string) string {
	return "budget-line:" + lineID
}

// RecordKey is the lock key of a spending record.
func RecordKey(stage, recordID string) string {
	return "record:" + stage + ":" + recordID
}
