package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that generated identifiers are UUIDv7 and sort in creation order.
// Scope: Unit Test
// Security: Unguessable, collision-resistant record identifiers
// Expected: Each ID parses as version 7 and later IDs compare greater than earlier ones.
// Test Case ID: ID-01
func TestNewUUIDv7(t *testing.T) {
	first := NewUUIDv7()
	second := NewUUIDv7()

	u, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())
	assert.NotEqual(t, first, second)
	assert.LessOrEqual(t, first, second)
}

func TestIsUUID(t *testing.T) {
	assert.True(t, IsUUID(NewUUIDv7()))
	assert.False(t, IsUUID("acme"))
	assert.False(t, IsUUID(""))
}
