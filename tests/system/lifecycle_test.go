// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package system runs the tenancy services together against a real
// PostgreSQL database.
//
// Test Execution:
//
//	INTEGRATION_TEST=true go test -v ./tests/system/...
//
// Prerequisites:
//
//	docker compose up -d postgres
//
// Test Categories:
//   - SYS-*: Invitation lifecycle and derived access
//   - TEN-*: Tenant isolation
package system

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenancy/internal/accessgate"
	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/id"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/invitation"
	"github.com/opentrusty/tenancy/internal/resolver"
	"github.com/opentrusty/tenancy/internal/rolesync"
	"github.com/opentrusty/tenancy/internal/store/postgres"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// testDB is the shared database connection for integration tests
var testDB *postgres.DB

// TestMain sets up and tears down the test database connection
func TestMain(m *testing.M) {
	// Skip if not integration test
	if os.Getenv("INTEGRATION_TEST") != "true" {
		os.Exit(0)
	}

	ctx := context.Background()
	cfg := postgres.Config{
		Host:         getEnvOrDefault("DB_HOST", "localhost"),
		Port:         getEnvOrDefault("DB_PORT", "5432"),
		User:         getEnvOrDefault("DB_USER", "tenancy"),
		Password:     getEnvOrDefault("DB_PASSWORD", "tenancy_dev_password"),
		Database:     getEnvOrDefault("DB_NAME", "tenancy"),
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}
	owner, err := postgres.New(ctx, cfg)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := owner.Migrate(ctx); err != nil {
		panic("failed to migrate test database: " + err.Error())
	}
	owner.Close()

	// Run the suite the way the server runs, under the isolation policies.
	cfg.RuntimeRole = getEnvOrDefault("DB_RUNTIME_ROLE", "tenancy_app")
	db, err := postgres.New(ctx, cfg)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := db.VerifyRuntimeRole(ctx); err != nil {
		panic("runtime role does not enforce tenant isolation: " + err.Error())
	}
	testDB = db

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// stack is every service wired the way cmd/server wires them.
type stack struct {
	users    *postgres.UserRepository
	members  *postgres.MembershipRepository
	identity *identity.Service
	tenants  *tenant.Service
	resolver *resolver.Resolver
	ledger   *invitation.Ledger
}

func newStack(t *testing.T) *stack {
	t.Helper()
	if testDB == nil {
		t.Skip("Integration test requires database (set INTEGRATION_TEST=true)")
	}

	userRepo := postgres.NewUserRepository(testDB)
	tenantRepo := postgres.NewTenantRepository(testDB)
	domainRepo := postgres.NewDomainRepository(testDB)
	memberRepo := postgres.NewMembershipRepository(testDB)
	auditLogger := audit.NewActivityLogger(audit.NewSlogLogger(), postgres.NewActivityRepository(testDB))

	// Cheap hashing parameters keep the suite fast.
	hasher := identity.NewPasswordHasher(1024, 1, 1, 16, 32)
	identityService := identity.NewService(userRepo, hasher, testDB, auditLogger, 5, time.Minute)
	tenantService := tenant.NewService(tenantRepo, domainRepo, memberRepo, testDB, rolesync.New(memberRepo, tenantRepo), auditLogger)
	gate := accessgate.New(memberRepo)

	return &stack{
		users:    userRepo,
		members:  memberRepo,
		identity: identityService,
		tenants:  tenantService,
		resolver: resolver.New(tenantRepo, domainRepo, memberRepo),
		ledger: invitation.NewLedger(
			postgres.NewInvitationRepository(testDB),
			tenantRepo, tenantService, identityService, gate, testDB,
			nil, nil, auditLogger,
			invitation.Config{FrontendBaseURL: "https://app.example.com", DefaultTTL: time.Hour},
		),
	}
}

func (s *stack) register(t *testing.T, name string) *identity.User {
	t.Helper()
	email := name + "-" + id.NewUUIDv7()[:8] + "@example.com"
	u, err := s.identity.Register(context.Background(), email, name, "correct-horse-battery")
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = testDB.Pool().Exec(context.Background(), "DELETE FROM users WHERE id = $1", u.ID) })
	return u
}

func (s *stack) createTenant(t *testing.T, name, ownerID string) *tenant.Tenant {
	t.Helper()
	tn, err := s.tenants.CreateTenant(context.Background(), tenant.CreateTenantInput{
		Name:    name,
		Slug:    "sys-" + id.NewUUIDv7()[:8],
		OwnerID: ownerID,
	}, ownerID)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = testDB.Pool().Exec(context.Background(), "DELETE FROM tenants WHERE id = $1", tn.ID) })
	return tn
}

// TestPurpose: Validates the invitation lifecycle from issue to redemption by a new user.
// Scope: System Test
// Security: Redemption must grant exactly the invited role in exactly the inviting tenant.
// Expected: The invitee gets an active membership, the role group and resolves into the tenant by header.
// Test Case ID: SYS-01
func TestInvitation_IssueAndRedeemBySignup(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	owner := s.register(t, "owner")
	tn := s.createTenant(t, "Acme", owner.ID)

	reloaded, err := s.users.GetByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.ElevatedAccess, "SYS-01: owner should gain elevated access")

	email := "invitee-" + id.NewUUIDv7()[:8] + "@example.com"
	inv, err := s.ledger.Issue(ctx, invitation.IssueRequest{
		TenantID: tn.ID,
		Issuer:   tenant.Actor{UserID: owner.ID},
		Email:    &email,
		Role:     tenant.RoleUser,
	})
	require.NoError(t, err)
	assert.Equal(t, invitation.StatusPending, inv.Status)

	v, err := s.ledger.Validate(ctx, inv.Token)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	red, err := s.ledger.Redeem(ctx, inv.Token, invitation.Signup{
		Email:    email,
		FullName: "Invitee",
		Password: "correct-horse-battery",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = testDB.Pool().Exec(context.Background(), "DELETE FROM users WHERE id = $1", red.User.ID) })
	assert.Equal(t, tenant.RoleUser, red.Membership.Role)
	assert.Equal(t, invitation.StatusAccepted, red.Invitation.Status)

	groups, err := s.members.ListGroups(ctx, red.User.ID)
	require.NoError(t, err)
	assert.Contains(t, groups, tenant.GroupName(tn.Slug, tenant.RoleUser))

	invitee, err := s.users.GetByID(ctx, red.User.ID)
	require.NoError(t, err)
	assert.False(t, invitee.ElevatedAccess, "SYS-01: a plain user role must not elevate")

	res, err := s.resolver.Resolve(ctx, resolver.Request{
		TenantHeader: tn.ID,
		Actor:        &tenant.Actor{UserID: red.User.ID},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Tenant)
	assert.Equal(t, tn.ID, res.Tenant.ID)

	_, err = s.ledger.Redeem(ctx, inv.Token, invitation.Signup{ExistingUserID: owner.ID})
	var invalid *invitation.InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, invitation.ReasonAccepted, invalid.Reason)
}

// TestPurpose: Validates that elevated access follows the last elevating membership.
// Scope: System Test
// Security: Losing the only admin role must revoke elevated access.
// Expected: Elevated access survives while another tenant still grants it and is revoked after.
// Test Case ID: SYS-02
func TestRoleSync_ElevationAcrossTenants(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	ownerA := s.register(t, "owner-a")
	ownerB := s.register(t, "owner-b")
	tnA := s.createTenant(t, "Tenant A", ownerA.ID)
	tnB := s.createTenant(t, "Tenant B", ownerB.ID)

	admin := s.register(t, "admin")
	_, err := s.tenants.AddMember(ctx, tenant.AddMemberInput{TenantID: tnA.ID, UserID: admin.ID, Role: tenant.RoleAdmin, InvitedBy: ownerA.ID})
	require.NoError(t, err)
	_, err = s.tenants.AddMember(ctx, tenant.AddMemberInput{TenantID: tnB.ID, UserID: admin.ID, Role: tenant.RoleAdmin, InvitedBy: ownerB.ID})
	require.NoError(t, err)

	require.NoError(t, s.tenants.RemoveMember(ctx, tnA.ID, admin.ID, tenant.Actor{UserID: ownerA.ID}))
	u, err := s.users.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, u.ElevatedAccess, "SYS-02: admin role in tenant B still elevates")

	demoted := tenant.RoleUser
	_, err = s.tenants.UpdateMember(ctx, tnB.ID, admin.ID, tenant.UpdateMemberInput{Role: &demoted}, tenant.Actor{UserID: ownerB.ID})
	require.NoError(t, err)
	u, err = s.users.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	assert.False(t, u.ElevatedAccess, "SYS-02: no elevating role remains")

	groups, err := s.members.ListGroups(ctx, admin.ID)
	require.NoError(t, err)
	assert.Contains(t, groups, tenant.GroupName(tnB.Slug, tenant.RoleUser))
	assert.NotContains(t, groups, tenant.GroupName(tnB.Slug, tenant.RoleAdmin))
	assert.NotContains(t, groups, tenant.GroupName(tnA.Slug, tenant.RoleAdmin))
}

// TestPurpose: Validates cross-tenant isolation at resolution time.
// Scope: System Test
// Security: Multi-tenancy boundary enforcement (prevents cross-tenant access)
// Expected: A member of tenant A naming tenant B in the header is rejected; with no header they land in A.
// Test Case ID: SYS-03
func TestTenant_Isolation_HeaderForOtherTenantRejected(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	ownerA := s.register(t, "owner-a")
	ownerB := s.register(t, "owner-b")
	tnA := s.createTenant(t, "Tenant A", ownerA.ID)
	tnB := s.createTenant(t, "Tenant B", ownerB.ID)

	_, err := s.resolver.Resolve(ctx, resolver.Request{
		TenantHeader: tnB.ID,
		Actor:        &tenant.Actor{UserID: ownerA.ID},
	})
	assert.ErrorIs(t, err, resolver.ErrResolutionRejected, "TEN-01: header for foreign tenant must fail closed")

	res, err := s.resolver.Resolve(ctx, resolver.Request{Actor: &tenant.Actor{UserID: ownerA.ID}})
	require.NoError(t, err)
	require.NotNil(t, res.Tenant)
	assert.Equal(t, tnA.ID, res.Tenant.ID)
	assert.Equal(t, resolver.MethodDefault, res.Method)
}

// TestPurpose: Validates that a registered domain routes requests to its tenant.
// Scope: System Test
// Expected: A host matching a custom domain resolves with the domain method; unknown hosts resolve to nothing.
// Test Case ID: SYS-04
func TestTenant_DomainResolution(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	owner := s.register(t, "owner")
	tn := s.createTenant(t, "Domain Co", owner.ID)
	host := "sys-" + id.NewUUIDv7()[:8] + ".example.org"
	_, err := s.tenants.AddDomain(ctx, tn.ID, host, true, owner.ID)
	require.NoError(t, err)

	res, err := s.resolver.Resolve(ctx, resolver.Request{Host: host + ":443"})
	require.NoError(t, err)
	require.NotNil(t, res.Tenant)
	assert.Equal(t, tn.ID, res.Tenant.ID)
	assert.Equal(t, resolver.MethodDomain, res.Method)

	res, err = s.resolver.Resolve(ctx, resolver.Request{Host: "unknown-" + id.NewUUIDv7()[:8] + ".example.net"})
	require.NoError(t, err)
	assert.Nil(t, res.Tenant)
}
