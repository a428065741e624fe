package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenancy/internal/observability/metrics"
	"github.com/opentrusty/tenancy/internal/store"
	"github.com/opentrusty/tenancy/internal/tenant"
)

const (
	acmeID   = "0192b3c4-0000-7000-8000-00000000000a"
	globexID = "0192b3c4-0000-7000-8000-00000000000b"
	idleID   = "0192b3c4-0000-7000-8000-00000000000c"
)

type memStore struct {
	tenants     map[string]*tenant.Tenant
	domains     map[string]*tenant.Domain
	memberships []*tenant.Membership
	domainCalls int
	domainErr   error
	listErr     error
}

func newMemStore() *memStore {
	s := &memStore{
		tenants: map[string]*tenant.Tenant{
			acmeID:   {ID: acmeID, Slug: "acme", Name: "Acme", Active: true},
			globexID: {ID: globexID, Slug: "globex", Name: "Globex", Active: true},
			idleID:   {ID: idleID, Slug: "idle", Name: "Idle", Active: false},
		},
		domains: map[string]*tenant.Domain{
			"acme.example.com": {ID: "d1", TenantID: acmeID, Domain: "acme.example.com", IsPrimary: true},
			"globex.io":        {ID: "d2", TenantID: globexID, Domain: "globex.io"},
			"idle.example.com": {ID: "d3", TenantID: idleID, Domain: "idle.example.com"},
		},
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id string) (*tenant.Tenant, error) {
	t, ok := s.tenants[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return t, nil
}

func (s *memStore) GetBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	for _, t := range s.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, tenant.ErrTenantNotFound
}

func (s *memStore) GetByDomain(_ context.Context, domain string) (*tenant.Domain, error) {
	s.domainCalls++
	if s.domainErr != nil {
		return nil, s.domainErr
	}
	d, ok := s.domains[domain]
	if !ok {
		return nil, tenant.ErrDomainNotFound
	}
	return d, nil
}

func (s *memStore) Get(_ context.Context, tenantID, userID string) (*tenant.Membership, error) {
	for _, m := range s.memberships {
		if m.TenantID == tenantID && m.UserID == userID {
			return m, nil
		}
	}
	return nil, tenant.ErrMembershipNotFound
}

func (s *memStore) ListActiveByUser(_ context.Context, userID string) ([]*tenant.Membership, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*tenant.Membership
	for _, m := range s.memberships {
		if m.UserID == userID && m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) member(id, tenantID, userID string, role tenant.Role, active bool) {
	s.memberships = append(s.memberships, &tenant.Membership{ID: id, TenantID: tenantID, UserID: userID, Role: role, Active: active})
}

type mapCache struct {
	entries map[string]string
	err     error
}

func (c *mapCache) Get(_ context.Context, domain string) (string, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	id, ok := c.entries[domain]
	return id, ok, nil
}

func (c *mapCache) Set(_ context.Context, domain, tenantID string) error {
	if c.err != nil {
		return c.err
	}
	c.entries[domain] = tenantID
	return nil
}

type outcome struct{ method, outcome string }

type recorder struct{ got []outcome }

func (r *recorder) RecordResolution(_ context.Context, method, o string) {
	r.got = append(r.got, outcome{method, o})
}
func (r *recorder) RecordInvitation(context.Context, string)                   {}
func (r *recorder) RecordJobRun(context.Context, string, time.Duration, error) {}

func newResolver(s *memStore) *Resolver {
	return New(s, s, s)
}

var alice = &tenant.Actor{UserID: "alice"}

// TestPurpose: Validates that an authorized X-Tenant-ID header wins over every other source.
// Scope: Unit Test
// Expected: Method "header", the header tenant, and no domain lookup.
// Test Case ID: RES-01
func TestResolve_HeaderAuthorized(t *testing.T) {
	s := newMemStore()
	s.member("m1", globexID, "alice", tenant.RoleUser, true)

	res, err := newResolver(s).Resolve(context.Background(), Request{TenantHeader: globexID, Host: "acme.example.com", Actor: alice})
	require.NoError(t, err)
	assert.Equal(t, MethodHeader, res.Method)
	assert.Equal(t, globexID, res.Tenant.ID)
	assert.Zero(t, s.domainCalls)
}

// TestPurpose: Validates that an unauthorized header is fatal and never falls back.
// Scope: Unit Test
// Security: A rejected header must not be downgraded to a domain or default tenant
// Expected: ErrResolutionRejected for non-members, inactive members and anonymous callers.
// Test Case ID: RES-02
func TestResolve_HeaderRejected(t *testing.T) {
	s := newMemStore()
	s.member("m1", acmeID, "alice", tenant.RoleAdmin, true)
	s.member("m2", globexID, "alice", tenant.RoleUser, false)
	r := newResolver(s)

	tests := []struct {
		name  string
		actor *tenant.Actor
	}{
		{"inactive membership", alice},
		{"no membership", &tenant.Actor{UserID: "bob"}},
		{"anonymous", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), Request{TenantHeader: globexID, Host: "acme.example.com", Actor: tt.actor})
			assert.ErrorIs(t, err, ErrResolutionRejected)
			assert.Nil(t, res)
		})
	}
	assert.Zero(t, s.domainCalls)
}

// TestPurpose: Validates superuser bypass of the header membership check.
// Scope: Unit Test
// Expected: Superuser resolves the header tenant without a membership.
// Test Case ID: RES-03
func TestResolve_HeaderSuperuser(t *testing.T) {
	s := newMemStore()
	res, err := newResolver(s).Resolve(context.Background(), Request{TenantHeader: acmeID, Actor: &tenant.Actor{UserID: "root", IsSuperuser: true}})
	require.NoError(t, err)
	assert.Equal(t, MethodHeader, res.Method)
	assert.Equal(t, acmeID, res.Tenant.ID)
}

// TestPurpose: Validates that malformed, unknown or inactive header values are skipped.
// Scope: Unit Test
// Expected: Resolution continues with the domain source.
// Test Case ID: RES-04
func TestResolve_HeaderSoftSkip(t *testing.T) {
	s := newMemStore()
	r := newResolver(s)

	for _, header := range []string{"not-a-uuid", "0192b3c4-0000-7000-8000-0000000000ff", idleID} {
		t.Run(header, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), Request{TenantHeader: header, Host: "globex.io", Actor: alice})
			require.NoError(t, err)
			assert.Equal(t, MethodDomain, res.Method)
			assert.Equal(t, globexID, res.Tenant.ID)
		})
	}
}

// TestPurpose: Validates exact domain matching.
// Scope: Unit Test
// Expected: Port and case are ignored; a domain of an inactive tenant does not resolve.
// Test Case ID: RES-05
func TestResolve_Domain(t *testing.T) {
	s := newMemStore()
	r := newResolver(s)

	res, err := r.Resolve(context.Background(), Request{Host: "ACME.example.com:8443"})
	require.NoError(t, err)
	assert.Equal(t, MethodDomain, res.Method)
	assert.Equal(t, acmeID, res.Tenant.ID)

	res, err = r.Resolve(context.Background(), Request{Host: "idle.example.com"})
	require.NoError(t, err)
	assert.Equal(t, MethodNone, res.Method)
	assert.Nil(t, res.Tenant)
}

// TestPurpose: Validates precedence when domain and default resolution agree.
// Scope: Unit Test
// Expected: alice, admin only in acme, on acme.example.com resolves via "domain", not "default".
// Test Case ID: RES-06
func TestResolve_DomainBeforeDefault(t *testing.T) {
	s := newMemStore()
	s.member("m1", acmeID, "alice", tenant.RoleAdmin, true)

	res, err := newResolver(s).Resolve(context.Background(), Request{Host: "acme.example.com", Actor: alice})
	require.NoError(t, err)
	assert.Equal(t, MethodDomain, res.Method)
	assert.Equal(t, acmeID, res.Tenant.ID)
}

// TestPurpose: Validates subdomain slug matching.
// Scope: Unit Test
// Expected: First label resolves by slug; www, IP literals and single labels do not.
// Test Case ID: RES-07
func TestResolve_Subdomain(t *testing.T) {
	s := newMemStore()
	r := newResolver(s)

	res, err := r.Resolve(context.Background(), Request{Host: "globex.saas.test"})
	require.NoError(t, err)
	assert.Equal(t, MethodSubdomain, res.Method)
	assert.Equal(t, globexID, res.Tenant.ID)

	for _, host := range []string{"www.acme.test", "127.0.0.1", "acme", "idle.saas.test", "[::1]:8080"} {
		res, err := r.Resolve(context.Background(), Request{Host: host})
		require.NoError(t, err, host)
		assert.Equal(t, MethodNone, res.Method, host)
	}
}

// TestPurpose: Validates default tenant selection by role precedence.
// Scope: Unit Test
// Expected: Highest role wins; inactive tenants are skipped; ties keep membership order.
// Test Case ID: RES-08
func TestResolve_Default(t *testing.T) {
	s := newMemStore()
	s.member("m1", globexID, "alice", tenant.RoleUser, true)
	s.member("m2", idleID, "alice", tenant.RoleOwner, true)
	s.member("m3", acmeID, "alice", tenant.RoleManager, true)
	r := newResolver(s)

	res, err := r.Resolve(context.Background(), Request{Host: "localhost:8080", Actor: alice})
	require.NoError(t, err)
	assert.Equal(t, MethodDefault, res.Method)
	assert.Equal(t, acmeID, res.Tenant.ID)

	s2 := newMemStore()
	s2.member("m1", globexID, "bob", tenant.RoleUser, true)
	s2.member("m2", acmeID, "bob", tenant.RoleUser, true)
	res, err = newResolver(s2).Resolve(context.Background(), Request{Actor: &tenant.Actor{UserID: "bob"}})
	require.NoError(t, err)
	assert.Equal(t, globexID, res.Tenant.ID)
}

// TestPurpose: Validates that no source yields a null tenant without error.
// Scope: Unit Test
// Expected: Method "none" and nil tenant for an anonymous request on an unknown host.
// Test Case ID: RES-09
func TestResolve_None(t *testing.T) {
	res, err := newResolver(newMemStore()).Resolve(context.Background(), Request{Host: "unknown.example.org"})
	require.NoError(t, err)
	assert.Equal(t, MethodNone, res.Method)
	assert.Nil(t, res.Tenant)
}

// TestPurpose: Validates that storage failures are propagated instead of treated as not found.
// Scope: Unit Test
// Security: A database outage must never produce an unscoped request
// Expected: Errors wrapping store.ErrUnavailable from the domain and membership lookups.
// Test Case ID: RES-10
func TestResolve_StorageErrors(t *testing.T) {
	unavailable := fmt.Errorf("%w: connection refused", store.ErrUnavailable)

	s := newMemStore()
	s.domainErr = unavailable
	res, err := newResolver(s).Resolve(context.Background(), Request{Host: "acme.example.com", Actor: alice})
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Nil(t, res)

	s = newMemStore()
	s.listErr = unavailable
	_, err = newResolver(s).Resolve(context.Background(), Request{Actor: alice})
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

// TestPurpose: Validates domain cache usage.
// Scope: Unit Test
// Expected: Misses populate the cache, hits skip the store, cache errors fall back to the store.
// Test Case ID: RES-11
func TestResolve_DomainCache(t *testing.T) {
	s := newMemStore()
	cache := &mapCache{entries: map[string]string{}}
	r := newResolver(s).WithCache(cache)

	_, err := r.Resolve(context.Background(), Request{Host: "globex.io"})
	require.NoError(t, err)
	assert.Equal(t, globexID, cache.entries["globex.io"])
	assert.Equal(t, 1, s.domainCalls)

	res, err := r.Resolve(context.Background(), Request{Host: "globex.io"})
	require.NoError(t, err)
	assert.Equal(t, globexID, res.Tenant.ID)
	assert.Equal(t, 1, s.domainCalls)

	cache.err = errors.New("redis: connection refused")
	res, err = r.Resolve(context.Background(), Request{Host: "acme.example.com"})
	require.NoError(t, err)
	assert.Equal(t, acmeID, res.Tenant.ID)
	assert.Equal(t, 2, s.domainCalls)
}

// TestPurpose: Validates resolution metrics.
// Scope: Unit Test
// Expected: One measurement per call labelled with method and outcome.
// Test Case ID: RES-12
func TestResolve_Metrics(t *testing.T) {
	s := newMemStore()
	rec := &recorder{}
	r := newResolver(s).WithRecorder(rec)

	_, _ = r.Resolve(context.Background(), Request{Host: "acme.example.com"})
	_, _ = r.Resolve(context.Background(), Request{TenantHeader: acmeID, Actor: &tenant.Actor{UserID: "bob"}})
	_, _ = r.Resolve(context.Background(), Request{})

	assert.Equal(t, []outcome{
		{"domain", metrics.OutcomeResolved},
		{"header", metrics.OutcomeRejected},
		{"none", metrics.OutcomeNone},
	}, rec.got)
}
