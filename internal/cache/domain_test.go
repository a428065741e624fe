package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *DomainCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewDomainCache(client, time.Minute)
}

// TestPurpose: Validates the domain cache round trip.
// Scope: Unit Test
// Expected: Miss before Set, hit after Set, miss after Invalidate.
// Test Case ID: CACHE-01
func TestDomainCache_RoundTrip(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "acme.example.com")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "acme.example.com", "tenant-1"))
	assert.True(t, mr.Exists("tenancy:domain:acme.example.com"))

	id, hit, err := c.Get(ctx, "acme.example.com")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "tenant-1", id)

	require.NoError(t, c.Invalidate(ctx, "acme.example.com"))
	_, hit, err = c.Get(ctx, "acme.example.com")
	require.NoError(t, err)
	assert.False(t, hit)
}

// TestPurpose: Validates entry expiry.
// Scope: Unit Test
// Expected: Entries disappear after the configured TTL.
// Test Case ID: CACHE-02
func TestDomainCache_TTL(t *testing.T) {
	mr, c := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "globex.io", "tenant-2"))
	assert.Equal(t, time.Minute, mr.TTL("tenancy:domain:globex.io"))

	mr.FastForward(2 * time.Minute)
	_, hit, err := c.Get(ctx, "globex.io")
	require.NoError(t, err)
	assert.False(t, hit)
}

// TestPurpose: Validates that Redis failures are reported as errors, not misses.
// Scope: Unit Test
// Expected: Get returns an error once the server is gone.
// Test Case ID: CACHE-03
func TestDomainCache_ServerDown(t *testing.T) {
	mr, c := setupTestRedis(t)
	mr.Close()

	_, hit, err := c.Get(context.Background(), "acme.example.com")
	assert.Error(t, err)
	assert.False(t, hit)
}
