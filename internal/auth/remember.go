package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/tansu/internal/model"
)

// RememberLifetime is how long a remember token can be redeemed.
const RememberLifetime = 30 * 24 * time.Hour

// RememberToken is a signed remember-me token: base64url(payload) "." base64url(mac).
type RememberToken string

// RememberClaims is the verified content of a remember token. It carries no
// role and no expiry; both are derived again at redemption.
type RememberClaims struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	TenantID   string `json:"tid"`
	TenantSlug string `json:"tslug"`
	CreatedAt  int64  `json:"created_at"`
}

// Created returns the issuance time.
func (c *RememberClaims) Created() time.Time {
	return time.Unix(c.CreatedAt, 0)
}

// RememberIssuer signs and verifies remember tokens with HMAC-SHA512, keyed
// separately from sessions.
type RememberIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewRememberIssuer returns an issuer keyed with secret. A nil now uses time.Now.
func NewRememberIssuer(secret string, now func() time.Time) *RememberIssuer {
	if now == nil {
		now = time.Now
	}
	return &RememberIssuer{secret: []byte(secret), now: now}
}

// Issue mints a remember token for an identity of tenant.
func (r *RememberIssuer) Issue(tenant *model.Tenant, code, name string) (RememberToken, error) {
	payload, err := json.Marshal(RememberClaims{
		Code:       code,
		Name:       name,
		TenantID:   tenant.ID,
		TenantSlug: tenant.Slug,
		CreatedAt:  r.now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding remember token: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString(r.sign(encoded))
	return RememberToken(encoded + "." + sig), nil
}

// Verify checks the signature and the 30 day lifetime.
func (r *RememberIssuer) Verify(token RememberToken) (*RememberClaims, error) {
	encoded, sig, ok := strings.Cut(string(token), ".")
	if !ok || encoded == "" || sig == "" {
		return nil, fmt.Errorf("%w: malformed token", ErrInvalidSignature)
	}

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	if !hmac.Equal(got, r.sign(encoded)) {
		return nil, ErrInvalidSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidSignature)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	claims := &RememberClaims{}
	if err := dec.Decode(claims); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidSignature)
	}
	if claims.TenantID == "" || claims.Code == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidSignature)
	}

	if r.now().Sub(claims.Created()) > RememberLifetime {
		return nil, ErrExpired
	}

	return claims, nil
}

func (r *RememberIssuer) sign(encoded string) []byte {
	mac := hmac.New(sha512.New, r.secret)
	mac.Write([]byte(encoded))
	return mac.Sum(nil)
}
