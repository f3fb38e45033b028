package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/platform/auth"
	"github.com/steadfast-intl/api/internal/services"
)

func sampleAdminSession() services.AdminSession {
	return services.AdminSession{
		Admin: services.AdminUser{
			ID:       "adm_1",
			Username: "kwame",
			Email:    "kwame@example.com",
			Role:     domain.AdminRoleAdmin,
			Status:   domain.AdminStatusActive,
		},
		Token:     "signed.token",
		ExpiresAt: time.Date(2024, 7, 1, 18, 0, 0, 0, time.UTC),
	}
}

func TestAdminAuthHandlersLoginSuccess(t *testing.T) {
	service := &stubAdminAuthService{
		loginFunc: func(ctx context.Context, email string, password string) (services.AdminSession, error) {
			if email != "kwame@example.com" || password != "correct horse" {
				t.Fatalf("unexpected credentials %q %q", email, password)
			}
			return sampleAdminSession(), nil
		},
	}

	handler := NewAdminAuthHandlers(service, nil)
	router := chi.NewRouter()
	router.Route("/admin/auth", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"email":"kwame@example.com","password":"correct horse"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp sessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token != "signed.token" {
		t.Fatalf("expected token in response, got %q", resp.Token)
	}
	if resp.Admin.Email != "kwame@example.com" || resp.Admin.Role != "admin" {
		t.Fatalf("unexpected admin payload %#v", resp.Admin)
	}
	if resp.ExpiresAt != "2024-07-01T18:00:00Z" {
		t.Fatalf("unexpected expiry %q", resp.ExpiresAt)
	}
}

func TestAdminAuthHandlersLoginInvalidCredentials(t *testing.T) {
	service := &stubAdminAuthService{
		loginFunc: func(ctx context.Context, email string, password string) (services.AdminSession, error) {
			return services.AdminSession{}, services.ErrAdminInvalidCredentials
		},
	}

	handler := NewAdminAuthHandlers(service, nil)
	router := chi.NewRouter()
	router.Route("/admin/auth", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"email":"kwame@example.com","password":"wrong"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestAdminAuthHandlersLoginRateLimited(t *testing.T) {
	service := &stubAdminAuthService{
		loginFunc: func(ctx context.Context, email string, password string) (services.AdminSession, error) {
			t.Fatalf("service must not be called when rate limited")
			return services.AdminSession{}, nil
		},
	}

	handler := NewAdminAuthHandlers(service, denyingLimiter{})
	router := chi.NewRouter()
	router.Route("/admin/auth", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"email":"kwame@example.com","password":"pw"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}

func TestAdminAuthHandlersLoginInactiveAccount(t *testing.T) {
	service := &stubAdminAuthService{
		loginFunc: func(ctx context.Context, email string, password string) (services.AdminSession, error) {
			return services.AdminSession{}, services.ErrAdminInactive
		},
	}

	handler := NewAdminAuthHandlers(service, nil)
	router := chi.NewRouter()
	router.Route("/admin/auth", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"email":"kwame@example.com","password":"pw"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminAuthHandlersRegisterSuccess(t *testing.T) {
	var captured services.RegisterAdminCommand
	service := &stubAdminAuthService{
		registerFunc: func(ctx context.Context, cmd services.RegisterAdminCommand) (services.AdminSession, error) {
			captured = cmd
			return sampleAdminSession(), nil
		},
	}

	handler := NewAdminAuthHandlers(service, nil)
	router := chi.NewRouter()
	router.Route("/admin/auth", handler.SuperadminRoutes)

	body := `{"username":"kwame","email":" kwame@example.com ","password":"long enough pw","role":"admin"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Email != "kwame@example.com" {
		t.Fatalf("expected trimmed email, got %q", captured.Email)
	}
	if captured.Role != domain.AdminRoleAdmin {
		t.Fatalf("expected admin role, got %q", captured.Role)
	}
}

func TestAdminAuthHandlersRegisterDuplicateEmail(t *testing.T) {
	service := &stubAdminAuthService{
		registerFunc: func(ctx context.Context, cmd services.RegisterAdminCommand) (services.AdminSession, error) {
			return services.AdminSession{}, services.ErrAdminEmailTaken
		},
	}

	handler := NewAdminAuthHandlers(service, nil)
	router := chi.NewRouter()
	router.Route("/admin/auth", handler.SuperadminRoutes)

	req := httptest.NewRequest(http.MethodPost, "/admin/auth/register", strings.NewReader(`{"username":"kwame","email":"kwame@example.com","password":"long enough pw"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminAuthHandlersMe(t *testing.T) {
	service := &stubAdminAuthService{
		getFunc: func(ctx context.Context, adminID string) (services.AdminUser, error) {
			if adminID != "adm_1" {
				t.Fatalf("unexpected admin id %q", adminID)
			}
			return sampleAdminSession().Admin, nil
		},
	}

	handler := NewAdminAuthHandlers(service, nil)
	router := chi.NewRouter()
	router.Route("/admin/auth", handler.AdminRoutes)

	req := httptest.NewRequest(http.MethodGet, "/admin/auth/me", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "adm_1", Roles: []string{"admin"}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp adminResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Admin.ID != "adm_1" || resp.Admin.Username != "kwame" {
		t.Fatalf("unexpected admin payload %#v", resp.Admin)
	}
}

func TestAdminAuthHandlersMeUnauthenticated(t *testing.T) {
	handler := NewAdminAuthHandlers(&stubAdminAuthService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/auth/me", nil)
	rr := httptest.NewRecorder()
	handler.me(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

type stubAdminAuthService struct {
	registerFunc func(ctx context.Context, cmd services.RegisterAdminCommand) (services.AdminSession, error)
	loginFunc    func(ctx context.Context, email string, password string) (services.AdminSession, error)
	getFunc      func(ctx context.Context, adminID string) (services.AdminUser, error)
}

func (s *stubAdminAuthService) Register(ctx context.Context, cmd services.RegisterAdminCommand) (services.AdminSession, error) {
	if s.registerFunc != nil {
		return s.registerFunc(ctx, cmd)
	}
	return services.AdminSession{}, errors.New("not implemented")
}

func (s *stubAdminAuthService) Login(ctx context.Context, email string, password string) (services.AdminSession, error) {
	if s.loginFunc != nil {
		return s.loginFunc(ctx, email, password)
	}
	return services.AdminSession{}, errors.New("not implemented")
}

func (s *stubAdminAuthService) GetAdmin(ctx context.Context, adminID string) (services.AdminUser, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, adminID)
	}
	return services.AdminUser{}, errors.New("not implemented")
}
