package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const defaultAdminTokenTTL = 12 * time.Hour

var (
	// ErrAdminTokenExpired signals that the admin session token has expired.
	ErrAdminTokenExpired = errors.New("auth: admin token expired")
	// ErrAdminTokenInvalid signals that the admin session token failed verification.
	ErrAdminTokenInvalid = errors.New("auth: admin token invalid")
)

// AdminClaims is the JWT claim set carried by back-office session tokens.
type AdminClaims struct {
	Role     string `json:"role"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// AdminTokenManager signs and verifies back-office session tokens with a
// shared HMAC secret. An optional JWKS cache accepts RS256 tokens minted by
// an external identity provider.
type AdminTokenManager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	jwks     *JWKSCache
	now      func() time.Time
}

// AdminTokenOption customises AdminTokenManager behaviour.
type AdminTokenOption func(*AdminTokenManager)

// WithAdminTokenTTL overrides the session token lifetime.
func WithAdminTokenTTL(ttl time.Duration) AdminTokenOption {
	return func(m *AdminTokenManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithAdminTokenAudience sets the audience claim stamped on issued tokens.
func WithAdminTokenAudience(audience string) AdminTokenOption {
	return func(m *AdminTokenManager) {
		audience = strings.TrimSpace(audience)
		if audience != "" {
			m.audience = audience
		}
	}
}

// WithAdminTokenJWKS enables verification of RS256 tokens against the given
// key set when HMAC verification fails. Issued tokens stay HS256.
func WithAdminTokenJWKS(cache *JWKSCache) AdminTokenOption {
	return func(m *AdminTokenManager) {
		m.jwks = cache
	}
}

// WithAdminTokenClock injects the clock used for issuance and validation.
func WithAdminTokenClock(now func() time.Time) AdminTokenOption {
	return func(m *AdminTokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewAdminTokenManager constructs a token manager for the given signing secret.
func NewAdminTokenManager(secret string, issuer string, opts ...AdminTokenOption) (*AdminTokenManager, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("auth: admin token secret is required")
	}
	manager := &AdminTokenManager{
		secret: []byte(trimmed),
		issuer: strings.TrimSpace(issuer),
		ttl:    defaultAdminTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager, nil
}

// Issue signs a session token for the admin account.
func (m *AdminTokenManager) Issue(adminID, email, username, role string) (string, time.Time, error) {
	if m == nil || len(m.secret) == 0 {
		return "", time.Time{}, errors.New("auth: admin token manager not initialised")
	}
	subject := strings.TrimSpace(adminID)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: admin id is required")
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	claims := AdminClaims{
		Role:     normaliseRole(role),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Username: strings.TrimSpace(username),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign admin token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a session token, returning its claims.
func (m *AdminTokenManager) Verify(tokenStr string) (*AdminClaims, error) {
	if m == nil || len(m.secret) == 0 {
		return nil, errors.New("auth: admin token manager not initialised")
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrAdminTokenInvalid
	}

	claims, err := m.parseHS256(tokenStr)
	if err != nil {
		if errors.Is(err, ErrAdminTokenExpired) || m.jwks == nil {
			return nil, err
		}
		claims, err = m.parseRS256(tokenStr)
		if err != nil {
			return nil, err
		}
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrAdminTokenInvalid)
	}
	if m.audience != "" && !containsAudience(claims.Audience, m.audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrAdminTokenInvalid)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrAdminTokenInvalid)
	}
	return claims, nil
}

// Parsing disables the library's wall-clock claim validation so the injected
// clock stays authoritative; checkTokenTimes runs the expiry and not-before
// checks afterwards.

func (m *AdminTokenManager) parseHS256(tokenStr string) (*AdminClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &AdminClaims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdminTokenInvalid, err)
	}
	if err := m.checkTokenTimes(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *AdminTokenManager) parseRS256(tokenStr string) (*AdminClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &AdminClaims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, m.jwks.Keyfunc(context.Background()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdminTokenInvalid, err)
	}
	if err := m.checkTokenTimes(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *AdminTokenManager) checkTokenTimes(claims *AdminClaims) error {
	now := m.now().UTC()
	if claims.ExpiresAt == nil {
		return fmt.Errorf("%w: missing expiry", ErrAdminTokenInvalid)
	}
	if !now.Before(claims.ExpiresAt.Time) {
		return ErrAdminTokenExpired
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return fmt.Errorf("%w: token not yet valid", ErrAdminTokenInvalid)
	}
	return nil
}

// RequireAdmin verifies the bearer token and ensures one of the allowed roles.
// With no roles listed, any valid admin token passes.
func (m *AdminTokenManager) RequireAdmin(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}

			claims, err := m.Verify(tokenStr)
			if err != nil {
				switch {
				case errors.Is(err, ErrAdminTokenExpired):
					respondAuthError(w, http.StatusUnauthorized, "token_expired", "admin token expired")
				default:
					respondAuthError(w, http.StatusUnauthorized, "invalid_token", "admin token invalid")
				}
				return
			}

			role := normaliseRole(claims.Role)
			if role == "" {
				respondAuthError(w, http.StatusUnauthorized, "missing_role", "no role associated with admin token")
				return
			}
			if len(allowed) > 0 {
				if _, ok := allowed[role]; !ok {
					respondAuthError(w, http.StatusUnauthorized, "insufficient_role", "admin token does not have required role")
					return
				}
			}

			identity := &Identity{
				UID:   claims.Subject,
				Email: claims.Email,
				Roles: []string{role},
			}
			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func containsAudience(audiences jwt.ClaimStrings, expected string) bool {
	for _, audience := range audiences {
		if audience == expected {
			return true
		}
	}
	return false
}
