package tenant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates the closed role set and its precedence.
// Scope: Unit Test
// Expected: owner > admin > manager > user > readonly; only the first three elevate.
// Test Case ID: TEN-10
func TestRoles(t *testing.T) {
	for i := 1; i < len(AllRoles); i++ {
		assert.Less(t, AllRoles[i-1].Precedence(), AllRoles[i].Precedence())
	}
	assert.True(t, RoleOwner.Elevating())
	assert.True(t, RoleAdmin.Elevating())
	assert.True(t, RoleManager.Elevating())
	assert.False(t, RoleUser.Elevating())
	assert.False(t, RoleReadonly.Elevating())
	assert.False(t, Role("superuser").Elevating())

	r, err := ParseRole("manager")
	require.NoError(t, err)
	assert.Equal(t, RoleManager, r)
	_, err = ParseRole("Manager")
	assert.ErrorIs(t, err, ErrInvalidRole)

	assert.Equal(t, "acme_admin", GroupName("acme", RoleAdmin))
}

// TestPurpose: Validates slug, host and domain normalization.
// Scope: Unit Test
// Expected: Lowercase, port-free, dot-trimmed values; invalid input is rejected.
// Test Case ID: TEN-11
func TestNormalize(t *testing.T) {
	slugs := map[string]string{
		"Acme":            "acme",
		" Big  Co. Ltd ":  "big-co-ltd",
		"under_score--x-": "under-score-x",
		"ünïcode 9":       "ncode-9",
	}
	for in, want := range slugs {
		got, err := NormalizeSlug(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeSlug("---")
	assert.ErrorIs(t, err, ErrInvalidSlug)

	assert.Equal(t, "acme.example.com", NormalizeHost("ACME.example.com:8080"))
	assert.Equal(t, "acme.example.com", NormalizeHost("acme.example.com."))
	assert.Equal(t, "::1", NormalizeHost("[::1]:443"))

	_, err = NormalizeDomain("bad..domain")
	assert.ErrorIs(t, err, ErrInvalidDomain)
	_, err = NormalizeDomain("evil.com/path")
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

// TestPurpose: Validates trial expiry and timestamp composition.
// Scope: Unit Test
// Expected: Only trial tenants past their window are expired; Touch keeps CreatedAt.
// Test Case ID: TEN-12
func TestTenant_Trial(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	assert.True(t, (&Tenant{Trial: true, TrialExpiresAt: &past}).IsTrialExpired(now))
	assert.False(t, (&Tenant{Trial: false, TrialExpiresAt: &past}).IsTrialExpired(now))
	assert.False(t, (&Tenant{Trial: true}).IsTrialExpired(now))

	var ts Timestamps
	ts.Touch(past)
	ts.Touch(now)
	assert.Equal(t, past, ts.CreatedAt)
	assert.Equal(t, now, ts.UpdatedAt)
}
