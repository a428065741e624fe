// @title OpenTrusty Tenancy API
// @version 1.0.0
// @description Multi-tenancy core: tenant resolution, memberships and invitations

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/invitation"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/resolver"
	"github.com/opentrusty/tenancy/internal/rls"
	"github.com/opentrusty/tenancy/internal/session"
	"github.com/opentrusty/tenancy/internal/store"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// UserService authenticates and loads users.
type UserService interface {
	Authenticate(ctx context.Context, email, password string) (*identity.User, error)
	GetUser(ctx context.Context, userID string) (*identity.User, error)
}

// TokenManager issues and verifies bearer tokens.
type TokenManager interface {
	Issue(userID string) (string, *session.Session, error)
	Parse(token string) (*session.Session, error)
}

// TenantService manages tenants, domains and memberships.
type TenantService interface {
	CreateTenant(ctx context.Context, in tenant.CreateTenantInput, createdBy string) (*tenant.Tenant, error)
	ListTenants(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error)
	DeactivateTenant(ctx context.Context, tenantID, actorID string) error
	UpdateTenant(ctx context.Context, tenantID string, in tenant.UpdateTenantInput, updatedBy string) (*tenant.Tenant, error)
	AddDomain(ctx context.Context, tenantID, domain string, primary bool, actorID string) (*tenant.Domain, error)
	ListDomains(ctx context.Context, tenantID string) ([]*tenant.Domain, error)
	RemoveDomain(ctx context.Context, tenantID, domain, actorID string) error
	AddMember(ctx context.Context, in tenant.AddMemberInput) (*tenant.Membership, error)
	UpdateMember(ctx context.Context, tenantID, userID string, in tenant.UpdateMemberInput, actor tenant.Actor) (*tenant.Membership, error)
	RemoveMember(ctx context.Context, tenantID, userID string, actor tenant.Actor) error
	ListMembers(ctx context.Context, tenantID string) ([]*tenant.Membership, error)
}

// InvitationLedger issues, validates, redeems and revokes invitations.
type InvitationLedger interface {
	Issue(ctx context.Context, req invitation.IssueRequest) (*invitation.Invitation, error)
	Validate(ctx context.Context, token string) (invitation.Validation, error)
	Redeem(ctx context.Context, token string, signup invitation.Signup) (*invitation.Redemption, error)
	Revoke(ctx context.Context, tenantID, token string, actor tenant.Actor) error
	List(ctx context.Context, tenantID string, status invitation.Status) ([]*invitation.Invitation, error)
	SignupURL(token string) string
}

// TenantResolver resolves the tenant of a request.
type TenantResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (*resolver.Resolution, error)
}

// Authorizer checks tenant roles.
type Authorizer interface {
	Authorize(ctx context.Context, actor tenant.Actor, tenantID string, required ...tenant.Role) (bool, error)
}

// ActivityLister reads the tenant activity log.
type ActivityLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]*audit.Activity, error)
}

// RoleSyncer recomputes a user's derived access from their memberships.
type RoleSyncer interface {
	Resync(ctx context.Context, userID string) error
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires a Handler. Binder, Health and Metrics are optional.
type Dependencies struct {
	Users          UserService
	Tokens         TokenManager
	Tenants        TenantService
	Invitations    InvitationLedger
	Resolver       TenantResolver
	Gate           Authorizer
	Activity       ActivityLister
	RoleSync       RoleSyncer
	Binder         rls.Binder
	Health         Pinger
	Metrics        http.Handler
	RequestTimeout time.Duration
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	users          UserService
	tokens         TokenManager
	tenants        TenantService
	invitations    InvitationLedger
	resolver       TenantResolver
	gate           Authorizer
	activity       ActivityLister
	roleSync       RoleSyncer
	binder         rls.Binder
	health         Pinger
	metrics        http.Handler
	requestTimeout time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies) *Handler {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		users:          deps.Users,
		tokens:         deps.Tokens,
		tenants:        deps.Tenants,
		invitations:    deps.Invitations,
		resolver:       deps.Resolver,
		gate:           deps.Gate,
		activity:       deps.Activity,
		roleSync:       deps.RoleSync,
		binder:         deps.Binder,
		health:         deps.Health,
		metrics:        deps.Metrics,
		requestTimeout: timeout,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if rateLimiter != nil {
		r.Use(RateLimitMiddleware(rateLimiter))
	}
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.requestTimeout))

	r.Get("/health", h.HealthCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Post("/auth/login", h.Login)

		// Public invitation endpoints; redeem accepts an optional bearer.
		r.Get("/invitations/{token}", h.ValidateInvitation)
		r.Post("/invitations/{token}/redeem", h.RedeemInvitation)

		// Platform administration
		r.Group(func(r chi.Router) {
			r.Use(RequireSuperuser)
			r.Post("/tenants", h.CreateTenant)
			r.Get("/tenants", h.ListTenants)
			r.Post("/tenants/{tenantID}/deactivate", h.DeactivateTenant)
			r.Post("/users/{userID}/resync", h.ResyncUser)
		})

		// Current tenant, resolved from header, host or default membership
		r.Route("/tenant", func(r chi.Router) {
			r.Use(h.ResolveTenant)
			r.Use(RequireTenant)

			r.Get("/", h.GetCurrentTenant)

			r.Group(func(r chi.Router) {
				r.Use(RequireAuth)

				r.Group(func(r chi.Router) {
					r.Use(h.RequireRole(tenant.AllRoles...))
					r.Get("/domains", h.ListDomains)
					r.Get("/members", h.ListMembers)
					r.Get("/activity", h.ListActivity)
				})

				r.Group(func(r chi.Router) {
					r.Use(h.RequireRole(tenant.AdminRoles...))
					r.Put("/", h.UpdateCurrentTenant)
					r.Post("/domains", h.AddDomain)
					r.Delete("/domains/{domain}", h.RemoveDomain)
					r.Post("/members", h.AddMember)
					r.Put("/members/{userID}", h.UpdateMember)
					r.Delete("/members/{userID}", h.RemoveMember)
					r.Get("/invitations", h.ListInvitations)
					r.Post("/invitations", h.IssueInvitation)
					r.Delete("/invitations/{token}", h.RevokeInvitation)
				})
			})
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service and its database are reachable
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "health check failed", logger.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unavailable",
				"service": "tenancy",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "tenancy",
	})
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
}

// Login authenticates a user and issues a bearer token
// @Summary User Login
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			h.respondServiceError(w, r, err)
			return
		}
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.respondWithToken(w, r, http.StatusOK, user.ID, nil)
}

func (h *Handler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, userID string, extra map[string]any) {
	token, sess, err := h.tokens.Issue(userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	resp := LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   sess.ExpiresAt,
		UserID:      userID,
	}
	if extra == nil {
		respondJSON(w, status, resp)
		return
	}
	extra["access_token"] = resp.AccessToken
	extra["token_type"] = resp.TokenType
	extra["expires_at"] = resp.ExpiresAt
	respondJSON(w, status, extra)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// errorStatus maps domain errors onto HTTP responses. Anything unknown is
// a 500 with a generic message.
func errorStatus(err error) (int, string) {
	var invalid *invitation.InvalidError
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	case errors.As(err, &invalid):
		if invalid.Reason == invitation.ReasonNotFound {
			return http.StatusNotFound, invalid.Reason
		}
		return http.StatusGone, invalid.Reason
	case errors.Is(err, invitation.ErrForbidden),
		errors.Is(err, resolver.ErrResolutionRejected),
		errors.Is(err, rls.ErrTenantMismatch):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, tenant.ErrTenantInactive),
		errors.Is(err, identity.ErrUserInactive),
		errors.Is(err, tenant.ErrOwnerRoleRequired):
		return http.StatusForbidden, rootMessage(err)
	case errors.Is(err, tenant.ErrSlugTaken),
		errors.Is(err, tenant.ErrDomainTaken),
		errors.Is(err, tenant.ErrMembershipConflict),
		errors.Is(err, tenant.ErrLastOwner),
		errors.Is(err, invitation.ErrDuplicatePendingInvitation),
		errors.Is(err, invitation.ErrCannotRevoke),
		errors.Is(err, identity.ErrUserAlreadyExists):
		return http.StatusConflict, rootMessage(err)
	case errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, tenant.ErrDomainNotFound),
		errors.Is(err, tenant.ErrMembershipNotFound),
		errors.Is(err, invitation.ErrInvitationNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		return http.StatusNotFound, rootMessage(err)
	case errors.Is(err, tenant.ErrInvalidRole),
		errors.Is(err, tenant.ErrInvalidSlug),
		errors.Is(err, tenant.ErrInvalidName),
		errors.Is(err, tenant.ErrInvalidDomain),
		errors.Is(err, invitation.ErrInvalidMaxUses),
		errors.Is(err, invitation.ErrInvalidEmail),
		errors.Is(err, invitation.ErrEmailMismatch),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword):
		return http.StatusBadRequest, rootMessage(err)
	}
	return http.StatusInternalServerError, "internal server error"
}

var publicErrors = []error{
	tenant.ErrTenantInactive, identity.ErrUserInactive,
	tenant.ErrSlugTaken, tenant.ErrDomainTaken, tenant.ErrMembershipConflict, tenant.ErrLastOwner, tenant.ErrOwnerRoleRequired,
	tenant.ErrTenantNotFound, tenant.ErrDomainNotFound, tenant.ErrMembershipNotFound,
	tenant.ErrInvalidRole, tenant.ErrInvalidSlug, tenant.ErrInvalidName, tenant.ErrInvalidDomain,
	invitation.ErrDuplicatePendingInvitation, invitation.ErrCannotRevoke, invitation.ErrInvitationNotFound,
	invitation.ErrInvalidMaxUses, invitation.ErrInvalidEmail, invitation.ErrEmailMismatch,
	identity.ErrUserAlreadyExists, identity.ErrUserNotFound, identity.ErrInvalidEmail, identity.ErrWeakPassword,
}

// rootMessage returns the message of the sentinel err wraps, hiding the
// wrapping context.
func rootMessage(err error) string {
	for _, target := range publicErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Path(r.URL.Path),
			logger.Error(err),
		)
	}
	respondError(w, status, message)
}
