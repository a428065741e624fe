package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that configured level names map onto slog levels.
// Scope: Unit Test
// Expected: Unknown names fall back to info.
// Test Case ID: LOG-01
func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

// TestPurpose: Validates that the JSON handler emits tenancy attributes.
// Scope: Unit Test
// Expected: The record carries tenant_id and resolution_method keys.
// Test Case ID: LOG-02
func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, Config{Level: "info", Format: "json"}))

	log.InfoContext(context.Background(), "tenant resolved",
		TenantID("t-1"),
		ResolutionMethod("domain"),
	)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "t-1", rec["tenant_id"])
	assert.Equal(t, "domain", rec["resolution_method"])
	assert.Equal(t, "tenant resolved", rec["msg"])
}

// TestPurpose: Validates that the fanout handler forwards to every enabled handler.
// Scope: Unit Test
// Expected: Both buffers receive the record; a debug record is dropped by the info handler only.
// Test Case ID: LOG-03
func TestFanoutHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := NewFanoutHandler(
		NewHandler(&a, Config{Level: "info"}),
		NewHandler(&b, Config{Level: "debug"}),
	)
	log := slog.New(h)

	log.Info("hello")
	assert.Contains(t, a.String(), "hello")
	assert.Contains(t, b.String(), "hello")

	log.Debug("quiet")
	assert.NotContains(t, a.String(), "quiet")
	assert.Contains(t, b.String(), "quiet")
}
