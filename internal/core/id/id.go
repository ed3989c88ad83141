// Package id provides UUIDv7 identifiers for budget lines, spending records,
// transfers, actors and audit entries.
package id

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
)

// ID is a type alias for UUID, used across all entities.
type ID = uuid.UUID

// New generates a time-ordered UUIDv7, so ids sort by creation time.
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil returns zero-value UUID.
func Nil() ID {
	return uuid.Nil
}

// IsNil checks if ID is zero-value.
func IsNil(id ID) bool {
	return id == uuid.Nil
}

// Compare orders ids by their bytes, the order PostgreSQL uses for uuid.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// SortedUnique returns a sorted copy of ids without duplicates or nil ids.
// Row locks on several lines are always taken in this order.
func SortedUnique(ids []ID) []ID {
	out := make([]ID, 0, len(ids))
	for _, v := range ids {
		if !IsNil(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, Compare)
	return slices.Compact(out)
}
