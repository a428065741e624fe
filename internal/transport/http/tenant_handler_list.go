package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/tenant"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListTenants handles listing all tenants
// @Summary List Tenants
// @Description List all tenants (superuser only)
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} tenant.Tenant
// @Failure 403 {object} map[string]string
// @Router /tenants [get]
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	tenants, err := h.tenants.ListTenants(r.Context(), limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []*tenant.Tenant{}
	}

	respondJSON(w, http.StatusOK, tenants)
}

// DeactivateTenant marks a tenant inactive. Its rows are kept and it stops
// resolving from every source.
// @Summary Deactivate Tenant
// @Tags Tenant
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Success 204
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/deactivate [post]
func (h *Handler) DeactivateTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.tenants.DeactivateTenant(r.Context(), chi.URLParam(r, "tenantID"), GetUserID(r.Context())); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResyncUser recomputes a user's elevated access and role groups
// @Summary Resync User Access
// @Tags Tenant
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 204
// @Failure 403 {object} map[string]string
// @Router /users/{userID}/resync [post]
func (h *Handler) ResyncUser(w http.ResponseWriter, r *http.Request) {
	if err := h.roleSync.Resync(r.Context(), chi.URLParam(r, "userID")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivityResponse is one activity entry
type ActivityResponse struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ListActivity lists the newest activity of the current tenant
// @Summary Tenant Activity
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size"
// @Success 200 {array} ActivityResponse
// @Router /tenant/activity [get]
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := pageParams(r)

	activities, err := h.activity.List(r.Context(), GetTenantID(r.Context()), limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp := make([]ActivityResponse, 0, len(activities))
	for _, a := range activities {
		resp = append(resp, activityResponse(a))
	}
	respondJSON(w, http.StatusOK, resp)
}

func activityResponse(a *audit.Activity) ActivityResponse {
	resp := ActivityResponse{
		ID:        a.ID,
		ActorID:   a.ActorID,
		Action:    a.Action,
		Metadata:  a.Metadata,
		CreatedAt: a.CreatedAt,
	}
	if a.Entity != nil {
		resp.EntityKind = string(a.Entity.Kind())
		resp.EntityID = a.Entity.ID()
	}
	return resp
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
