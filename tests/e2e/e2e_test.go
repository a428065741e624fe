//go:build e2e

// Package e2e drives a running server over HTTP.
//
// The server must be started with a superuser already provisioned; its
// credentials are read from E2E_ADMIN_EMAIL and E2E_ADMIN_PASSWORD.
//
//	go test -tags e2e ./tests/e2e/...
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	baseURL = getEnv("TENANCY_API_URL", "http://127.0.0.1:8080")
	apiBase = baseURL + "/api/v1"
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

type TestClient struct {
	httpClient *http.Client
	token      string
	tenantID   string
}

func NewTestClient() *TestClient {
	return &TestClient{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *TestClient) Do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}

	return c.httpClient.Do(req)
}

// decode reads the body into dst and fails unless the status matches.
func decode(t *testing.T, resp *http.Response, status int, dst any) {
	t.Helper()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, status, resp.StatusCode, "body: %s", body)
	if dst != nil {
		require.NoError(t, json.Unmarshal(body, dst))
	}
}

// TestPurpose: Validates the tenancy workflow over the public API.
// Scope: E2E Test
// Security: An invited user gets exactly the invited role and cannot administer the tenant.
// Expected: A superuser creates a tenant, invites a user who signs up and is confined to the user role.
// Test Case ID: E2E-01
func TestE2E_Workflows(t *testing.T) {
	adminEmail := os.Getenv("E2E_ADMIN_EMAIL")
	adminPassword := os.Getenv("E2E_ADMIN_PASSWORD")
	if adminEmail == "" || adminPassword == "" {
		t.Skip("E2E_ADMIN_EMAIL and E2E_ADMIN_PASSWORD are required")
	}

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	admin := NewTestClient()

	var (
		e2eTenantID    string
		e2eInviteToken string
		e2eUserEmail   = "e2e-" + suffix + "@example.com"
		e2eUserClient  = NewTestClient()
	)

	t.Run("Health", func(t *testing.T) {
		resp, err := admin.Do(http.MethodGet, baseURL+"/health", nil)
		require.NoError(t, err)
		decode(t, resp, http.StatusOK, nil)
	})

	t.Run("SuperuserLogin", func(t *testing.T) {
		resp, err := admin.Do(http.MethodPost, apiBase+"/auth/login", map[string]string{
			"email":    adminEmail,
			"password": adminPassword,
		})
		require.NoError(t, err)
		var out struct {
			AccessToken string `json:"access_token"`
			UserID      string `json:"user_id"`
		}
		decode(t, resp, http.StatusOK, &out)
		require.NotEmpty(t, out.AccessToken)
		admin.token = out.AccessToken
	})

	t.Run("CreateTenant", func(t *testing.T) {
		resp, err := admin.Do(http.MethodPost, apiBase+"/tenants", map[string]any{
			"name": "E2E Tenant " + suffix,
			"slug": "e2e-" + suffix,
		})
		require.NoError(t, err)
		var out struct {
			ID   string `json:"id"`
			Slug string `json:"slug"`
		}
		decode(t, resp, http.StatusCreated, &out)
		e2eTenantID = out.ID
		admin.tenantID = out.ID
	})

	t.Run("CurrentTenantByHeader", func(t *testing.T) {
		resp, err := admin.Do(http.MethodGet, apiBase+"/tenant", nil)
		require.NoError(t, err)
		var out struct {
			ResolutionMethod string `json:"resolution_method"`
		}
		decode(t, resp, http.StatusOK, &out)
		assert.Equal(t, "header", out.ResolutionMethod)
	})

	t.Run("IssueInvitation", func(t *testing.T) {
		resp, err := admin.Do(http.MethodPost, apiBase+"/tenant/invitations", map[string]any{
			"email": e2eUserEmail,
			"role":  "user",
		})
		require.NoError(t, err)
		var out struct {
			SignupURL string `json:"signup_url"`
		}
		decode(t, resp, http.StatusCreated, &out)
		u, err := url.Parse(out.SignupURL)
		require.NoError(t, err)
		e2eInviteToken = u.Query().Get("token")
		require.NotEmpty(t, e2eInviteToken)
	})

	t.Run("ValidateInvitation", func(t *testing.T) {
		resp, err := NewTestClient().Do(http.MethodGet, apiBase+"/invitations/"+e2eInviteToken, nil)
		require.NoError(t, err)
		var out struct {
			Valid bool `json:"valid"`
		}
		decode(t, resp, http.StatusOK, &out)
		assert.True(t, out.Valid)
	})

	t.Run("RedeemBySignup", func(t *testing.T) {
		resp, err := NewTestClient().Do(http.MethodPost, apiBase+"/invitations/"+e2eInviteToken+"/redeem", map[string]string{
			"email":     e2eUserEmail,
			"full_name": "E2E User",
			"password":  "e2e-password-" + suffix,
		})
		require.NoError(t, err)
		var out struct {
			AccessToken string `json:"access_token"`
			TenantID    string `json:"tenant_id"`
		}
		decode(t, resp, http.StatusCreated, &out)
		assert.Equal(t, e2eTenantID, out.TenantID)
		e2eUserClient.token = out.AccessToken
		e2eUserClient.tenantID = e2eTenantID
	})

	t.Run("RedeemTwiceIsGone", func(t *testing.T) {
		resp, err := NewTestClient().Do(http.MethodGet, apiBase+"/invitations/"+e2eInviteToken, nil)
		require.NoError(t, err)
		decode(t, resp, http.StatusGone, nil)
	})

	t.Run("InvitedUserReadsMembers", func(t *testing.T) {
		resp, err := e2eUserClient.Do(http.MethodGet, apiBase+"/tenant/members", nil)
		require.NoError(t, err)
		var members []struct {
			Role string `json:"role"`
		}
		decode(t, resp, http.StatusOK, &members)
		assert.NotEmpty(t, members)
	})

	t.Run("InvitedUserCannotInvite", func(t *testing.T) {
		resp, err := e2eUserClient.Do(http.MethodPost, apiBase+"/tenant/invitations", map[string]any{"role": "admin"})
		require.NoError(t, err)
		decode(t, resp, http.StatusForbidden, nil)
	})

	t.Run("InvitedUserCannotListTenants", func(t *testing.T) {
		resp, err := e2eUserClient.Do(http.MethodGet, apiBase+"/tenants", nil)
		require.NoError(t, err)
		decode(t, resp, http.StatusForbidden, nil)
	})
}
