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

package tenant

import "fmt"

// Role is a tenant membership role from a closed set.
type Role string

// Tenant Roles, highest precedence first.
const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleUser     Role = "user"
	RoleReadonly Role = "readonly"
)

// AllRoles lists every role in precedence order.
var AllRoles = []Role{RoleOwner, RoleAdmin, RoleManager, RoleUser, RoleReadonly}

// AdminRoles may administer a tenant: members, domains, invitations.
var AdminRoles = []Role{RoleOwner, RoleAdmin}

var precedence = map[Role]int{
	RoleOwner:    0,
	RoleAdmin:    1,
	RoleManager:  2,
	RoleUser:     3,
	RoleReadonly: 4,
}

// elevating maps each role to the elevated-access flag it grants.
var elevating = map[Role]bool{
	RoleOwner:    true,
	RoleAdmin:    true,
	RoleManager:  true,
	RoleUser:     false,
	RoleReadonly: false,
}

// ParseRole validates s against the closed role set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := precedence[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	_, ok := precedence[r]
	return ok
}

// Precedence returns the rank of r; lower ranks win. Unknown roles rank last.
func (r Role) Precedence() int {
	if p, ok := precedence[r]; ok {
		return p
	}
	return len(precedence)
}

// Elevating reports whether r grants elevated (admin panel) access.
func (r Role) Elevating() bool {
	return elevating[r]
}

// In reports whether r is one of roles.
func (r Role) In(roles ...Role) bool {
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}

// GroupName returns the name of the group mirroring role r in the tenant
// identified by slug.
func GroupName(slug string, r Role) string {
	return slug + "_" + string(r)
}
