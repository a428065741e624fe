package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// TestPurpose: Validates token issue and parse round trip.
// Scope: Unit Test
// Expected: The parsed session carries the subject and token id.
// Test Case ID: SES-01
func TestManager_RoundTrip(t *testing.T) {
	m := NewManager(testSecret, "tenancy", time.Hour)

	token, issued, err := m.Issue("user-1")
	require.NoError(t, err)

	s, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", s.UserID)
	assert.Equal(t, issued.ID, s.ID)
	assert.False(t, s.IsExpired(time.Now()))
}

// TestPurpose: Validates that expired tokens are rejected with a distinct error.
// Scope: Unit Test
// Security: Session expiry enforcement
// Expected: ErrSessionExpired once the clock passes the expiry.
// Test Case ID: SES-02
func TestManager_Expired(t *testing.T) {
	m := NewManager(testSecret, "tenancy", time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }

	token, _, err := m.Issue("user-1")
	require.NoError(t, err)

	m.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

// TestPurpose: Validates rejection of forged, foreign and algorithm-confused tokens.
// Scope: Unit Test
// Security: Token forgery and alg=none attacks (CWE-347)
// Expected: ErrSessionInvalid for each tampered token.
// Test Case ID: SES-03
func TestManager_Invalid(t *testing.T) {
	m := NewManager(testSecret, "tenancy", time.Hour)

	other := NewManager("ffffffffffffffffffffffffffffffff", "tenancy", time.Hour)
	forged, _, err := other.Issue("user-1")
	require.NoError(t, err)
	_, err = m.Parse(forged)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	foreign := NewManager(testSecret, "someone-else", time.Hour)
	token, _, err := foreign.Issue("user-1")
	require.NoError(t, err)
	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "tenancy",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Parse(unsigned)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	_, err = m.Parse("garbage")
	assert.ErrorIs(t, err, ErrSessionInvalid)
}
