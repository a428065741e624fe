package rls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that an unbound context carries no connection or tenant.
// Scope: Unit Test
// Security: Repositories must not mistake an unbound context for a scoped one.
// Expected: Conn is nil and TenantID reports no binding.
// Test Case ID: RLS-01
func TestUnboundContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, Conn(ctx))
	id, ok := TenantID(ctx)
	assert.False(t, ok)
	assert.Empty(t, id)
}

// TestPurpose: Validates that binding without a pool fails closed.
// Scope: Unit Test
// Expected: ErrNoPool, the original context and a callable release.
// Test Case ID: RLS-02
func TestBind_NoPool(t *testing.T) {
	ctx := context.Background()
	got, release, err := Bind(ctx, nil, "t-1")
	require.ErrorIs(t, err, ErrNoPool)
	assert.Equal(t, ctx, got)
	assert.NotPanics(t, release)

	_, release, err = PoolBinder{}.Bind(ctx, "t-1")
	require.ErrorIs(t, err, ErrNoPool)
	assert.NotPanics(t, release)
}

// TestPurpose: Validates that a bound context only admits its own tenant.
// Scope: Unit Test
// Security: A handler naming another tenant must not re-point the bound connection.
// Expected: Unbound contexts pass unchecked; the bound tenant passes; any other tenant fails with ErrTenantMismatch.
// Test Case ID: RLS-03
func TestCheck(t *testing.T) {
	bound, err := Check(context.Background(), "tenant-b")
	require.NoError(t, err)
	assert.False(t, bound)

	ctx := context.WithValue(context.Background(), ctxKey{}, &binding{tenantID: "tenant-a"})

	bound, err = Check(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, bound)

	bound, err = Check(ctx, "tenant-b")
	assert.True(t, bound)
	require.ErrorIs(t, err, ErrTenantMismatch)
	assert.Contains(t, err.Error(), "tenant-b")

	_, err = Check(ctx, "")
	assert.ErrorIs(t, err, ErrTenantMismatch)
}
