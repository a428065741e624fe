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

package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/tenancy/internal/tenant"
)

// CreateTenantRequest represents tenant creation data
type CreateTenantRequest struct {
	Name           string         `json:"name" example:"My Corporation"`
	Slug           string         `json:"slug,omitempty" example:"my-corporation"`
	Trial          bool           `json:"trial,omitempty"`
	TrialExpiresAt *time.Time     `json:"trial_expires_at,omitempty"`
	Settings       map[string]any `json:"settings,omitempty"`
	OwnerID        string         `json:"owner_id,omitempty"`
}

// CreateTenant handles tenant creation
// @Summary Create Tenant
// @Description Create a new tenant, optionally with its first owner (superuser only)
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateTenantRequest true "Tenant Data"
// @Success 201 {object} tenant.Tenant
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants [post]
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.tenants.CreateTenant(r.Context(), tenant.CreateTenantInput{
		Name:           req.Name,
		Slug:           req.Slug,
		Trial:          req.Trial,
		TrialExpiresAt: req.TrialExpiresAt,
		Settings:       req.Settings,
		OwnerID:        req.OwnerID,
	}, GetUserID(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, t)
}

// CurrentTenantResponse describes the resolved tenant
type CurrentTenantResponse struct {
	Tenant           *tenant.Tenant `json:"tenant"`
	ResolutionMethod string         `json:"resolution_method"`
}

// GetCurrentTenant returns the tenant resolved for the request
// @Summary Current Tenant
// @Tags Tenant
// @Produce json
// @Param X-Tenant-ID header string false "Explicit tenant"
// @Success 200 {object} CurrentTenantResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenant [get]
func (h *Handler) GetCurrentTenant(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CurrentTenantResponse{
		Tenant:           CurrentTenant(r.Context()),
		ResolutionMethod: string(GetResolutionMethod(r.Context())),
	})
}

// UpdateTenantRequest represents a partial tenant update
type UpdateTenantRequest struct {
	Name           *string        `json:"name,omitempty"`
	Trial          *bool          `json:"trial,omitempty"`
	TrialExpiresAt *time.Time     `json:"trial_expires_at,omitempty"`
	Settings       map[string]any `json:"settings,omitempty"`
}

// UpdateCurrentTenant changes attributes of the current tenant
// @Summary Update Tenant
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpdateTenantRequest true "Changes"
// @Success 200 {object} tenant.Tenant
// @Router /tenant [put]
func (h *Handler) UpdateCurrentTenant(w http.ResponseWriter, r *http.Request) {
	var req UpdateTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.tenants.UpdateTenant(r.Context(), GetTenantID(r.Context()), tenant.UpdateTenantInput{
		Name:           req.Name,
		Trial:          req.Trial,
		TrialExpiresAt: req.TrialExpiresAt,
		Settings:       req.Settings,
	}, GetUserID(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// AddDomainRequest represents a domain registration
type AddDomainRequest struct {
	Domain    string `json:"domain" example:"acme.example.com"`
	IsPrimary bool   `json:"is_primary,omitempty"`
}

// AddDomain maps a host name to the current tenant
// @Summary Add Domain
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AddDomainRequest true "Domain"
// @Success 201 {object} tenant.Domain
// @Failure 409 {object} map[string]string
// @Router /tenant/domains [post]
func (h *Handler) AddDomain(w http.ResponseWriter, r *http.Request) {
	var req AddDomainRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.tenants.AddDomain(r.Context(), GetTenantID(r.Context()), req.Domain, req.IsPrimary, GetUserID(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// ListDomains lists the domains of the current tenant
// @Summary List Domains
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Success 200 {array} tenant.Domain
// @Router /tenant/domains [get]
func (h *Handler) ListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.tenants.ListDomains(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if domains == nil {
		domains = []*tenant.Domain{}
	}
	respondJSON(w, http.StatusOK, domains)
}

// RemoveDomain deletes a domain mapping of the current tenant
// @Summary Remove Domain
// @Tags Tenant
// @Security BearerAuth
// @Param domain path string true "Domain"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /tenant/domains/{domain} [delete]
func (h *Handler) RemoveDomain(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if err := h.tenants.RemoveDomain(r.Context(), GetTenantID(r.Context()), domain, GetUserID(r.Context())); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddMemberRequest represents a direct membership grant
type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role" example:"user"`
}

// AddMember grants an existing user a role in the current tenant
// @Summary Add Member
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AddMemberRequest true "Membership"
// @Success 201 {object} tenant.Membership
// @Failure 409 {object} map[string]string
// @Router /tenant/members [post]
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	role := tenant.RoleUser
	if req.Role != "" {
		role = tenant.Role(req.Role)
	}

	actor, _ := GetActor(r.Context())
	m, err := h.tenants.AddMember(r.Context(), tenant.AddMemberInput{
		TenantID:  GetTenantID(r.Context()),
		UserID:    req.UserID,
		Role:      role,
		InvitedBy: actor.UserID,
		Actor:     &actor,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// UpdateMemberRequest represents a membership change
type UpdateMemberRequest struct {
	Role   *string `json:"role,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// UpdateMember changes the role or active state of a member
// @Summary Update Member
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Param request body UpdateMemberRequest true "Changes"
// @Success 200 {object} tenant.Membership
// @Router /tenant/members/{userID} [put]
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	var req UpdateMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := tenant.UpdateMemberInput{Active: req.Active}
	if req.Role != nil {
		role := tenant.Role(*req.Role)
		in.Role = &role
	}

	actor, _ := GetActor(r.Context())
	m, err := h.tenants.UpdateMember(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "userID"), in, actor)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// RemoveMember deletes a membership of the current tenant
// @Summary Remove Member
// @Tags Tenant
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 204
// @Router /tenant/members/{userID} [delete]
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	if err := h.tenants.RemoveMember(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "userID"), actor); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMembers lists the members of the current tenant
// @Summary List Members
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Success 200 {array} tenant.Membership
// @Router /tenant/members [get]
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.tenants.ListMembers(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []*tenant.Membership{}
	}
	respondJSON(w, http.StatusOK, members)
}
