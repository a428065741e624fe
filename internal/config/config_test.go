package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("AUTH_JWT_SECRET", strings.Repeat("k", 32))
}

// TestPurpose: Validates defaults applied when only required settings are present.
// Scope: Unit Test
// Expected: Invitations default to a 7 day TTL and the redis cache is on.
// Test Case ID: CFG-01
func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, cfg.Invitation.DefaultTTL)
	assert.Equal(t, "@every 15m", cfg.Invitation.SweepSchedule)
	assert.True(t, cfg.Redis.CacheEnabled)
	assert.Equal(t, 5, cfg.Worker.MaxRetry)
	assert.Equal(t, "tenancy", cfg.Database.User)
	assert.Equal(t, "tenancy_app", cfg.Database.RuntimeRole)
}

// TestPurpose: Validates that environment overrides are parsed.
// Scope: Unit Test
// Expected: Durations, ints and bools come from the environment; bad values fall back to defaults.
// Test Case ID: CFG-02
func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("INVITATION_DEFAULT_TTL", "48h")
	t.Setenv("WORKER_CONCURRENCY", "3")
	t.Setenv("REDIS_CACHE_ENABLED", "false")
	t.Setenv("AUTH_TOKEN_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Invitation.DefaultTTL)
	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.False(t, cfg.Redis.CacheEnabled)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
}

// TestPurpose: Validates that missing secrets are reported together.
// Scope: Unit Test
// Security: A short signing secret must never be accepted.
// Expected: Load fails naming both variables.
// Test Case ID: CFG-03
func TestLoad_MissingSecrets(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("AUTH_JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")
}

// TestPurpose: Validates DSN construction escapes credentials.
// Scope: Unit Test
// Expected: Reserved characters in the password are percent-encoded.
// Test Case ID: CFG-04
func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "app", Password: "p@ss/word", Database: "tenancy", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss%2Fword@db:5432/tenancy?sslmode=disable", d.DSN())
}

// TestPurpose: Validates that the runtime role cannot be the schema owner login.
// Scope: Unit Test
// Security: Owners bypass row-level security, so running as one disables tenant isolation.
// Expected: Load fails when DB_RUNTIME_ROLE equals DB_USER.
// Test Case ID: CFG-05
func TestLoad_RuntimeRoleIsOwner(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_USER", "tenancy")
	t.Setenv("DB_RUNTIME_ROLE", "tenancy")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_RUNTIME_ROLE")
}
