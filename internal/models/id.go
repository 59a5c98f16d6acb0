// Package models defines the core domain entities for fetcharr: download
// tasks, per-track sub-tasks, their status machine, and the structured
// results and progress snapshots exchanged between components.
package models

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is an opaque, lexicographically sortable identifier for tasks and
// sub-tasks. The zero value is invalid.
type ID string

// NewID generates a new ULID-backed identifier.
func NewID() ID {
	return ID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// ParseID validates an identifier string.
func ParseID(s string) (ID, error) {
	if _, err := ulid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(s), nil
}

// String returns the identifier as a plain string.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool {
	return id == ""
}
