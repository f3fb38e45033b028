package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/repositories"
)

const minAdminPasswordLength = 8

var (
	// ErrAdminInvalidInput indicates the caller supplied invalid account fields.
	ErrAdminInvalidInput = errors.New("admins: invalid input")
	// ErrAdminNotFound indicates the account does not exist.
	ErrAdminNotFound = errors.New("admins: not found")
	// ErrAdminEmailTaken indicates an account with the email already exists.
	ErrAdminEmailTaken = errors.New("admins: email taken")
	// ErrAdminInvalidCredentials covers both unknown emails and wrong passwords.
	ErrAdminInvalidCredentials = errors.New("admins: invalid credentials")
	// ErrAdminInactive indicates the account exists but may not log in.
	ErrAdminInactive = errors.New("admins: account inactive")
	// ErrAdminUnavailable indicates admin dependencies are currently unavailable.
	ErrAdminUnavailable = errors.New("admins: unavailable")
)

type adminTokenIssuer interface {
	Issue(adminID, email, username, role string) (string, time.Time, error)
}

// AdminAuthServiceDeps wires the dependencies required by the admin auth service.
type AdminAuthServiceDeps struct {
	Admins repositories.AdminRepository
	Tokens adminTokenIssuer
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)

	// BcryptCost overrides the bcrypt work factor; defaults to bcrypt.DefaultCost.
	// Tests lower it to keep hashing fast.
	BcryptCost int
}

type adminAuthService struct {
	admins repositories.AdminRepository
	tokens adminTokenIssuer
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
	cost   int
}

// NewAdminAuthService constructs an AdminAuthService validating required dependencies.
func NewAdminAuthService(deps AdminAuthServiceDeps) (AdminAuthService, error) {
	if deps.Admins == nil {
		return nil, errors.New("admin auth service: admin repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("admin auth service: token issuer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &adminAuthService{
		admins: deps.Admins,
		tokens: deps.Tokens,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		cost:   cost,
	}, nil
}

// Register creates a back-office account and returns a signed session for it.
func (s *adminAuthService) Register(ctx context.Context, cmd RegisterAdminCommand) (AdminSession, error) {
	if s == nil || s.admins == nil {
		return AdminSession{}, ErrAdminUnavailable
	}
	username := strings.TrimSpace(cmd.Username)
	if username == "" {
		return AdminSession{}, fmt.Errorf("%w: username is required", ErrAdminInvalidInput)
	}
	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		return AdminSession{}, err
	}
	if len(cmd.Password) < minAdminPasswordLength {
		return AdminSession{}, fmt.Errorf("%w: password must be at least %d characters", ErrAdminInvalidInput, minAdminPasswordLength)
	}
	role := cmd.Role
	if role == "" {
		role = domain.AdminRoleAdmin
	}
	if role != domain.AdminRoleAdmin && role != domain.AdminRoleSuperadmin {
		return AdminSession{}, fmt.Errorf("%w: unknown role %q", ErrAdminInvalidInput, role)
	}

	if _, err := s.admins.FindByEmail(ctx, email); err == nil {
		return AdminSession{}, fmt.Errorf("%w: %s", ErrAdminEmailTaken, email)
	} else if !isNotFound(err) {
		return AdminSession{}, s.translateError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.cost)
	if err != nil {
		return AdminSession{}, fmt.Errorf("admin auth service: hash password: %w", err)
	}
	now := s.now()
	admin := domain.AdminUser{
		ID:           "adm_" + ulid.Make().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Status:       domain.AdminStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.admins.Insert(ctx, admin); err != nil {
		if isConflict(err) {
			return AdminSession{}, fmt.Errorf("%w: %s", ErrAdminEmailTaken, email)
		}
		return AdminSession{}, s.translateError(err)
	}
	s.logger(ctx, "admins.registered", map[string]any{
		"adminId": admin.ID,
		"role":    string(admin.Role),
	})
	return s.issueSession(admin)
}

// Login verifies credentials and returns a signed session.
func (s *adminAuthService) Login(ctx context.Context, email string, password string) (AdminSession, error) {
	if s == nil || s.admins == nil {
		return AdminSession{}, ErrAdminUnavailable
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return AdminSession{}, ErrAdminInvalidCredentials
	}
	admin, err := s.admins.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return AdminSession{}, ErrAdminInvalidCredentials
		}
		return AdminSession{}, s.translateError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		s.logger(ctx, "admins.login_rejected", map[string]any{"adminId": admin.ID})
		return AdminSession{}, ErrAdminInvalidCredentials
	}
	if admin.Status != domain.AdminStatusActive {
		return AdminSession{}, ErrAdminInactive
	}
	return s.issueSession(admin)
}

// GetAdmin fetches one back-office account.
func (s *adminAuthService) GetAdmin(ctx context.Context, adminID string) (AdminUser, error) {
	if s == nil || s.admins == nil {
		return AdminUser{}, ErrAdminUnavailable
	}
	if strings.TrimSpace(adminID) == "" {
		return AdminUser{}, fmt.Errorf("%w: admin id is required", ErrAdminInvalidInput)
	}
	admin, err := s.admins.FindByID(ctx, adminID)
	if err != nil {
		return AdminUser{}, s.translateError(err)
	}
	admin.PasswordHash = ""
	return admin, nil
}

func (s *adminAuthService) issueSession(admin domain.AdminUser) (AdminSession, error) {
	token, expiresAt, err := s.tokens.Issue(admin.ID, admin.Email, admin.Username, string(admin.Role))
	if err != nil {
		return AdminSession{}, fmt.Errorf("admin auth service: issue token: %w", err)
	}
	admin.PasswordHash = ""
	return AdminSession{Admin: admin, Token: token, ExpiresAt: expiresAt}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrAdminInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: malformed email", ErrAdminInvalidInput)
	}
	return email, nil
}

func (s *adminAuthService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrAdminNotFound
		case repoErr.IsConflict():
			return ErrAdminEmailTaken
		default:
			return ErrAdminUnavailable
		}
	}
	return ErrAdminUnavailable
}
