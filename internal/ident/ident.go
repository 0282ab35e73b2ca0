// Package ident generates short identifiers for state records and lock owners.
package ident

import (
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// New returns a random base62 encoded identifier (22 chars).
func New() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}
