package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/steadfast-intl/api/internal/platform/httpx"
	"github.com/steadfast-intl/api/internal/services"
)

const maxAuthBodySize = 8 * 1024

// AdminAuthHandlers exposes back-office account registration and login.
type AdminAuthHandlers struct {
	auth    services.AdminAuthService
	limiter rateLimiter
}

// NewAdminAuthHandlers constructs the admin authentication endpoints.
func NewAdminAuthHandlers(auth services.AdminAuthService, limiter rateLimiter) *AdminAuthHandlers {
	return &AdminAuthHandlers{
		auth:    auth,
		limiter: limiter,
	}
}

// Routes wires the unauthenticated login endpoint.
func (h *AdminAuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)
}

// AdminRoutes wires the endpoints any authenticated admin may call.
func (h *AdminAuthHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/me", h.me)
}

// SuperadminRoutes wires account registration, which the caller gates to
// superadmin sessions.
func (h *AdminAuthHandlers) SuperadminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/register", h.register)
}

func (h *AdminAuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "authentication service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxAuthBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	email := strings.TrimSpace(req.Email)
	if h.limiter != nil && !h.limiter.Allow(strings.ToLower(email)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many login attempts; retry later", http.StatusTooManyRequests))
		return
	}

	session, err := h.auth.Login(ctx, email, req.Password)
	if err != nil {
		h.writeAuthError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSessionResponse(session))
}

func (h *AdminAuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "authentication service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxAuthBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req registerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	session, err := h.auth.Register(ctx, services.RegisterAdminCommand{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Role:     services.AdminRole(strings.TrimSpace(req.Role)),
	})
	if err != nil {
		h.writeAuthError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildSessionResponse(session))
}

func (h *AdminAuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "authentication service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	admin, err := h.auth.GetAdmin(ctx, identity.UID)
	if err != nil {
		h.writeAuthError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, adminResponse{Admin: buildAdminPayload(admin)})
}

func (h *AdminAuthHandlers) writeAuthError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAdminInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAdminInvalidCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "email or password incorrect", http.StatusUnauthorized))
	case errors.Is(err, services.ErrAdminInactive):
		httpx.WriteError(ctx, w, httpx.NewError("account_inactive", "account is not active", http.StatusForbidden))
	case errors.Is(err, services.ErrAdminEmailTaken):
		httpx.WriteError(ctx, w, httpx.NewError("email_taken", "an account with this email already exists", http.StatusConflict))
	case errors.Is(err, services.ErrAdminNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("admin_not_found", "account not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAdminUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "authentication service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("auth_error", "authentication failed", http.StatusInternalServerError))
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type sessionResponse struct {
	Admin     adminPayload `json:"admin"`
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
}

type adminResponse struct {
	Admin adminPayload `json:"admin"`
}

type adminPayload struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

func buildSessionResponse(session services.AdminSession) sessionResponse {
	return sessionResponse{
		Admin:     buildAdminPayload(session.Admin),
		Token:     session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
	}
}

func buildAdminPayload(admin services.AdminUser) adminPayload {
	return adminPayload{
		ID:        admin.ID,
		Username:  admin.Username,
		Email:     admin.Email,
		Role:      string(admin.Role),
		Status:    string(admin.Status),
		CreatedAt: formatTime(admin.CreatedAt),
	}
}
