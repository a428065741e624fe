package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func securedTables() []tableInfo {
	tables := make([]tableInfo, 0, len(RowSecuredTables))
	for _, name := range RowSecuredTables {
		tables = append(tables, tableInfo{name: name, rowSecurity: true})
	}
	return tables
}

// TestPurpose: Validates the runtime role check that guards startup.
// Scope: Unit Test
// Security: A superuser, BYPASSRLS or owning role silently disables every tenant isolation policy.
// Expected: Only a plain role over fully secured, foreign-owned tables passes; each defect is named.
// Test Case ID: DB-01
func TestCheckRuntimeRole(t *testing.T) {
	app := roleInfo{name: "tenancy_app"}
	require.NoError(t, checkRuntimeRole(app, securedTables()))

	tests := []struct {
		name   string
		role   roleInfo
		tables func() []tableInfo
		want   string
	}{
		{
			name:   "superuser",
			role:   roleInfo{name: "postgres", superuser: true},
			tables: securedTables,
			want:   "is a superuser",
		},
		{
			name:   "bypassrls",
			role:   roleInfo{name: "etl", bypassRLS: true},
			tables: securedTables,
			want:   "has BYPASSRLS",
		},
		{
			name: "owner",
			role: roleInfo{name: "tenancy"},
			tables: func() []tableInfo {
				ts := securedTables()
				ts[1].owned = true
				return ts
			},
			want: "owns table tenant_domains",
		},
		{
			name: "row security disabled",
			role: app,
			tables: func() []tableInfo {
				ts := securedTables()
				ts[3].rowSecurity = false
				return ts
			},
			want: "disabled on tenant_users",
		},
		{
			name: "missing table",
			role: app,
			tables: func() []tableInfo {
				return securedTables()[:2]
			},
			want: "table tenant_invitations not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkRuntimeRole(tt.role, tt.tables())
			require.ErrorIs(t, err, ErrRowSecurityBypassed)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
