package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/erazemk/tansu/internal/model"
)

// SessionLifetime is the fixed lifetime of a session token.
const SessionLifetime = 8 * time.Hour

// SessionToken is a signed session JWT.
type SessionToken string

// SessionClaims is the verified content of a session token.
type SessionClaims struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	TenantID   string `json:"tid"`
	TenantSlug string `json:"tslug"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and verifies session tokens with HS256.
type SessionIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewSessionIssuer returns an issuer keyed with secret. A nil now uses time.Now.
func NewSessionIssuer(secret string, now func() time.Time) *SessionIssuer {
	if now == nil {
		now = time.Now
	}
	return &SessionIssuer{secret: []byte(secret), now: now}
}

// Issue mints a session for an identity of tenant, valid for SessionLifetime.
func (s *SessionIssuer) Issue(tenant *model.Tenant, code, name, role string) (SessionToken, *SessionClaims, error) {
	issued := s.now().Truncate(time.Second)

	claims := &SessionClaims{
		Code:       code,
		Name:       name,
		Role:       role,
		TenantID:   tenant.ID,
		TenantSlug: tenant.Slug,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(SessionLifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing session: %w", err)
	}
	return SessionToken(signed), claims, nil
}

// Verify checks signature, expiry and tenant, in that order. tenantSlug is the
// tenant resolved for the current request.
func (s *SessionIssuer) Verify(token SessionToken, tenantSlug string) (*SessionClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &SessionClaims{}
	_, err := parser.ParseWithClaims(string(token), claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if claims.ExpiresAt == nil || claims.TenantID == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidSignature)
	}
	if !s.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}
	if claims.TenantSlug != tenantSlug {
		return nil, ErrTenantMismatch
	}

	return claims, nil
}
