package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/tansu/internal/auth"
	"github.com/erazemk/tansu/internal/metrics"
	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/store"
	"github.com/erazemk/tansu/internal/throttle"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	DB         *sql.DB
	PINs       *auth.PINVerifier
	Throttle   *throttle.Throttle
	Metrics    *metrics.Metrics
	TrustProxy bool

	sessions *sessions
}

type loginRequest struct {
	PIN        string `json:"pin"`
	TenantSlug string `json:"tenant_slug"`
	Remember   bool   `json:"remember"`
}

type rememberRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	ExpiresAt     time.Time `json:"expires_at"`
	RememberToken string    `json:"remember_token,omitempty"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	slug := TenantSlug(r.Context())
	if req.TenantSlug != "" && req.TenantSlug != slug {
		jsonError(w, http.StatusBadRequest, "tenant does not match request host")
		return
	}

	origin := clientIP(r, h.TrustProxy)
	if err := h.Throttle.Allow(origin); err != nil {
		h.Metrics.LoginAttempts.WithLabelValues("locked").Inc()
		writeLocked(w, err)
		return
	}

	tenant, err := store.GetTenantBySlug(r.Context(), h.DB, slug)
	if err != nil {
		h.Throttle.Release(origin)
		slog.Error("failed to load tenant", "tenant", slug, "error", err)
		h.Metrics.LoginAttempts.WithLabelValues("error").Inc()
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tenant != nil && tenant.Status != model.TenantStatusActive {
		h.Throttle.Release(origin)
		h.Metrics.LoginAttempts.WithLabelValues("tenant_inactive").Inc()
		jsonError(w, http.StatusForbidden, "tenant is not active")
		return
	}

	// An unknown tenant is verified against no identities so that it costs
	// the same as a wrong PIN.
	tenantID := ""
	if tenant != nil {
		tenantID = tenant.ID
	}
	ident, err := h.PINs.Verify(r.Context(), tenantID, req.PIN)
	if errors.Is(err, auth.ErrInvalidCredential) {
		res := h.Throttle.Fail(origin)
		h.Metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		slog.Warn("login failed", "tenant", slug, "remote", origin, "remaining", res.Remaining)
		if res.LockedFor > 0 {
			if res.Locked {
				h.Metrics.Lockouts.Inc()
				slog.Warn("origin locked", "remote", origin, "duration", res.LockedFor)
			}
			writeLocked(w, &throttle.LockedError{Remaining: res.LockedFor})
			return
		}
		jsonResponse(w, http.StatusUnauthorized, map[string]any{
			"error":              "invalid credentials",
			"remaining_attempts": res.Remaining,
		})
		return
	}
	if err != nil {
		h.Throttle.Release(origin)
		slog.Error("pin verification failed", "tenant", slug, "error", err)
		h.Metrics.LoginAttempts.WithLabelValues("error").Inc()
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.Throttle.Succeed(origin)
	claims, err := h.sessions.start(w, tenant, ident)
	if err != nil {
		slog.Error("failed to issue session", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	resp := loginResponse{
		Code:      ident.Code,
		Name:      ident.Name,
		Role:      ident.Role,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if req.Remember {
		token, err := h.sessions.remember.Issue(tenant, ident.Code, ident.Name)
		if err != nil {
			slog.Error("failed to issue remember token", "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to start session")
			return
		}
		resp.RememberToken = string(token)
	}

	h.Metrics.LoginAttempts.WithLabelValues("success").Inc()
	slog.Info("identity logged in", "tenant", slug, "identity", ident.Code, "role", ident.Role)
	jsonResponse(w, http.StatusOK, resp)
}

// Remember handles POST /api/auth/remember. A valid remember token yields a
// fresh session each time it is presented. Rejected tokens count against the
// origin like wrong PINs.
func (h *AuthHandler) Remember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		jsonError(w, http.StatusBadRequest, "token required")
		return
	}

	origin := clientIP(r, h.TrustProxy)
	if err := h.Throttle.Allow(origin); err != nil {
		h.Metrics.RememberRedemptions.WithLabelValues("locked").Inc()
		writeLocked(w, err)
		return
	}

	slug := TenantSlug(r.Context())
	tenant, ident, err := h.sessions.redeem(r.Context(), slug, auth.RememberToken(req.Token))
	if err != nil {
		outcome := rejectionReason(err)
		h.Metrics.RememberRedemptions.WithLabelValues(outcome).Inc()
		switch {
		case errors.Is(err, errTenantInactive):
			h.Throttle.Release(origin)
			jsonError(w, http.StatusForbidden, "tenant is not active")
		case errors.Is(err, auth.ErrExpired):
			h.Throttle.Release(origin)
			jsonError(w, http.StatusUnauthorized, "remember token expired")
		case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrTenantMismatch),
			errors.Is(err, auth.ErrInvalidCredential):
			res := h.Throttle.Fail(origin)
			if res.Locked {
				h.Metrics.Lockouts.Inc()
			}
			slog.Warn("remember token rejected", "reason", outcome, "tenant", slug, "remote", origin)
			jsonError(w, http.StatusUnauthorized, "invalid token")
		default:
			h.Throttle.Release(origin)
			slog.Error("remember redemption failed", "tenant", slug, "error", err)
			jsonError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	h.Throttle.Release(origin)

	claims, err := h.sessions.start(w, tenant, ident)
	if err != nil {
		slog.Error("failed to issue session", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	h.Metrics.RememberRedemptions.WithLabelValues("ok").Inc()
	slog.Info("session restored from remember token", "tenant", slug, "identity", ident.Code)
	jsonResponse(w, http.StatusOK, loginResponse{
		Code:      ident.Code,
		Name:      ident.Name,
		Role:      ident.Role,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.clear(w)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	if p == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

func writeLocked(w http.ResponseWriter, err error) {
	var locked *throttle.LockedError
	if !errors.As(err, &locked) {
		jsonError(w, http.StatusTooManyRequests, "too many attempts")
		return
	}
	retry := locked.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	jsonResponse(w, http.StatusTooManyRequests, map[string]any{
		"error":               "too many attempts",
		"retry_after_seconds": retry,
	})
}
