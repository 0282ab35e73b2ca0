package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsUniqueAndAlphanumeric(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		assert.NotEmpty(t, id)
		assert.Regexp(t, "^[0-9A-Za-z]+$", id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
