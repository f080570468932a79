package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/erazemk/tansu/internal/auth"
	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/store"
)

const (
	// SessionCookie carries the session token.
	SessionCookie = "tansu_session"
	// RememberHeader carries a remember token presented by a client without a
	// live session.
	RememberHeader = "X-Remember-Token"
)

var errTenantInactive = errors.New("tenant is not active")

// sessions mints sessions and redeems remember tokens. It is shared by the
// gate and the auth handlers.
type sessions struct {
	db           *sql.DB
	issuer       *auth.SessionIssuer
	remember     *auth.RememberIssuer
	cookieSecure bool
}

// start issues a session for ident and sets the session cookie.
func (s *sessions) start(w http.ResponseWriter, tenant *model.Tenant, ident *model.Identity) (*auth.SessionClaims, error) {
	token, claims, err := s.issuer.Issue(tenant, ident.Code, ident.Name, ident.Role)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    string(token),
		Path:     "/",
		MaxAge:   int(auth.SessionLifetime / time.Second),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	return claims, nil
}

// clear expires the session cookie.
func (s *sessions) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// redeem verifies a remember token presented on the tenant slug and reloads
// its identity. Role and active flag come from storage, never from the token.
func (s *sessions) redeem(ctx context.Context, slug string, token auth.RememberToken) (*model.Tenant, *model.Identity, error) {
	claims, err := s.remember.Verify(token)
	if err != nil {
		return nil, nil, err
	}
	if claims.TenantSlug != slug {
		return nil, nil, auth.ErrTenantMismatch
	}

	tenant, err := store.GetTenant(ctx, s.db, claims.TenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading tenant: %w", err)
	}
	if tenant == nil || tenant.Slug != slug {
		return nil, nil, auth.ErrTenantMismatch
	}
	if tenant.Status != model.TenantStatusActive {
		return nil, nil, errTenantInactive
	}

	ident, err := store.GetIdentityByCode(ctx, s.db, tenant.ID, claims.Code)
	if err != nil {
		return nil, nil, fmt.Errorf("loading identity: %w", err)
	}
	if ident == nil || !ident.Active {
		return nil, nil, auth.ErrInvalidCredential
	}
	return tenant, ident, nil
}

// rejectionReason maps a token error to the metrics label used for it.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return "expired"
	case errors.Is(err, auth.ErrTenantMismatch):
		return "tenant_mismatch"
	case errors.Is(err, errTenantInactive):
		return "tenant_inactive"
	default:
		return "invalid"
	}
}
