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

	"github.com/opentrusty/tenancy/internal/invitation"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// IssueInvitationRequest represents a new invitation
type IssueInvitationRequest struct {
	Email          *string `json:"email,omitempty" example:"new.user@example.com"`
	Role           string  `json:"role" example:"user"`
	ExpiresInHours int     `json:"expires_in_hours,omitempty"`
	Reusable       bool    `json:"reusable,omitempty"`
	MaxUses        int     `json:"max_uses,omitempty"`
	Message        string  `json:"message,omitempty"`
}

// IssuedInvitationResponse carries the invitation and its signup link
type IssuedInvitationResponse struct {
	Invitation *invitation.Invitation `json:"invitation"`
	SignupURL  string                 `json:"signup_url"`
}

// IssueInvitation creates an invitation to the current tenant
// @Summary Issue Invitation
// @Tags Invitation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body IssueInvitationRequest true "Invitation"
// @Success 201 {object} IssuedInvitationResponse
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenant/invitations [post]
func (h *Handler) IssueInvitation(w http.ResponseWriter, r *http.Request) {
	var req IssueInvitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ExpiresInHours < 0 {
		respondError(w, http.StatusBadRequest, "expires_in_hours must not be negative")
		return
	}
	role := tenant.RoleUser
	if req.Role != "" {
		role = tenant.Role(req.Role)
	}

	actor, _ := GetActor(r.Context())
	inv, err := h.invitations.Issue(r.Context(), invitation.IssueRequest{
		TenantID:  GetTenantID(r.Context()),
		Issuer:    actor,
		Email:     req.Email,
		Role:      role,
		ExpiresIn: time.Duration(req.ExpiresInHours) * time.Hour,
		Reusable:  req.Reusable,
		MaxUses:   req.MaxUses,
		Message:   req.Message,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, IssuedInvitationResponse{
		Invitation: inv,
		SignupURL:  h.invitations.SignupURL(inv.Token),
	})
}

// ListInvitations lists invitations of the current tenant
// @Summary List Invitations
// @Tags Invitation
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, accepted, expired or revoked"
// @Success 200 {array} invitation.Invitation
// @Router /tenant/invitations [get]
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	status := invitation.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	invitations, err := h.invitations.List(r.Context(), GetTenantID(r.Context()), status)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if invitations == nil {
		invitations = []*invitation.Invitation{}
	}
	respondJSON(w, http.StatusOK, invitations)
}

// RevokeInvitation revokes a pending invitation of the current tenant
// @Summary Revoke Invitation
// @Tags Invitation
// @Security BearerAuth
// @Param token path string true "Invitation token"
// @Success 204
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenant/invitations/{token} [delete]
func (h *Handler) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	err := h.invitations.Revoke(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "token"), actor)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvitationValidationResponse describes a token without consuming it
type InvitationValidationResponse struct {
	Valid     bool        `json:"valid"`
	Reason    string      `json:"reason,omitempty"`
	TenantID  string      `json:"tenant_id,omitempty"`
	Email     *string     `json:"email,omitempty"`
	Role      tenant.Role `json:"role,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Reusable  bool        `json:"reusable,omitempty"`
}

// ValidateInvitation checks an invitation token
// @Summary Validate Invitation
// @Tags Invitation
// @Produce json
// @Param token path string true "Invitation token"
// @Success 200 {object} InvitationValidationResponse
// @Failure 404 {object} InvitationValidationResponse
// @Failure 410 {object} InvitationValidationResponse
// @Router /invitations/{token} [get]
func (h *Handler) ValidateInvitation(w http.ResponseWriter, r *http.Request) {
	v, err := h.invitations.Validate(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if !v.Valid {
		status := http.StatusGone
		if v.Reason == invitation.ReasonNotFound {
			status = http.StatusNotFound
		}
		respondJSON(w, status, InvitationValidationResponse{Reason: v.Reason})
		return
	}

	inv := v.Invitation
	respondJSON(w, http.StatusOK, InvitationValidationResponse{
		Valid:     true,
		TenantID:  inv.TenantID,
		Email:     inv.Email,
		Role:      inv.Role,
		ExpiresAt: &inv.ExpiresAt,
		Reusable:  inv.Reusable,
	})
}

// RedeemInvitationRequest carries signup data for anonymous callers
type RedeemInvitationRequest struct {
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Password string `json:"password,omitempty"`
}

// RedeemInvitation consumes an invitation token. An authenticated caller
// joins with their account; otherwise a new account is registered and a
// bearer token for it is returned.
// @Summary Redeem Invitation
// @Tags Invitation
// @Accept json
// @Produce json
// @Param token path string true "Invitation token"
// @Param request body RedeemInvitationRequest false "Signup data"
// @Success 201 {object} map[string]any
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 410 {object} map[string]string
// @Router /invitations/{token}/redeem [post]
func (h *Handler) RedeemInvitation(w http.ResponseWriter, r *http.Request) {
	var req RedeemInvitationRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	signup := invitation.Signup{
		Email:    strings.TrimSpace(req.Email),
		FullName: strings.TrimSpace(req.FullName),
		Password: req.Password,
	}
	actor, authenticated := GetActor(r.Context())
	if authenticated {
		signup = invitation.Signup{ExistingUserID: actor.UserID}
	}

	red, err := h.invitations.Redeem(r.Context(), chi.URLParam(r, "token"), signup)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	body := map[string]any{
		"tenant_id":  red.Membership.TenantID,
		"membership": red.Membership,
		"user":       red.User,
	}
	if authenticated {
		respondJSON(w, http.StatusCreated, body)
		return
	}
	h.respondWithToken(w, r, http.StatusCreated, red.User.ID, body)
}
