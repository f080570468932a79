package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"

	"github.com/erazemk/tansu/internal/auth"
	"github.com/erazemk/tansu/internal/metrics"
	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/store"
	"github.com/erazemk/tansu/internal/tenant"
	"github.com/erazemk/tansu/internal/throttle"
)

// LoginPath is where unauthenticated page requests are sent.
const LoginPath = "/login"

// publicPaths are reachable without a session. Any method is accepted; the
// mux decides which ones are routed.
var publicPaths = map[string]bool{
	"/api/auth/login":    true,
	"/api/auth/remember": true,
	"/api/auth/logout":   true,
	LoginPath:            true,
}

const publicTenantPrefix = "/api/tenants/"

func isPublic(path string) bool {
	if publicPaths[path] {
		return true
	}
	rest, ok := strings.CutPrefix(path, publicTenantPrefix)
	return ok && rest != "" && !strings.Contains(rest, "/")
}

func isAPI(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// Gate resolves the tenant of every request and authenticates protected ones.
type Gate struct {
	db         *sql.DB
	resolver   tenant.Resolver
	sessions   *sessions
	metrics    *metrics.Metrics
	throttle   *throttle.Throttle
	trustProxy bool
}

// Wrap returns next behind the gate.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug, err := g.resolver.Resolve(r)
		if err != nil {
			if isAPI(r.URL.Path) {
				jsonError(w, http.StatusBadRequest, "tenant could not be resolved")
			} else {
				http.Error(w, "Unknown shop. Open the address of your shop.", http.StatusBadRequest)
			}
			return
		}
		ctx := withTenantSlug(r.Context(), slug)

		if isPublic(r.URL.Path) {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, reason := g.authenticate(w, r, slug)
		if claims == nil {
			g.reject(w, r, reason)
			return
		}

		t, err := store.GetTenantBySlug(ctx, g.db, slug)
		if err != nil {
			slog.Error("failed to load tenant", "tenant", slug, "error", err)
			jsonError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if t == nil || t.ID != claims.TenantID {
			slog.Warn("session for unknown tenant", "tenant", slug, "claimed", claims.TenantID, "identity", claims.Code)
			g.reject(w, r, "tenant_mismatch")
			return
		}
		if t.Status != model.TenantStatusActive {
			g.sessions.clear(w)
			g.metrics.SessionRejections.WithLabelValues("tenant_inactive").Inc()
			if isAPI(r.URL.Path) {
				jsonError(w, http.StatusForbidden, "tenant is not active")
			} else {
				http.Error(w, "This shop is not active.", http.StatusForbidden)
			}
			return
		}

		p := &Principal{
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Code:       claims.Code,
			Name:       claims.Name,
			Role:       claims.Role,
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, p)))
	})
}

// authenticate verifies the session cookie. When it is missing or expired, a
// remember token header mints a fresh session instead. It returns the reason
// for rejection when no session could be established.
func (g *Gate) authenticate(w http.ResponseWriter, r *http.Request, slug string) (*auth.SessionClaims, string) {
	reason := "missing"
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		claims, err := g.sessions.issuer.Verify(auth.SessionToken(c.Value), slug)
		if err == nil {
			return claims, ""
		}
		reason = rejectionReason(err)
		if reason != "expired" {
			slog.Warn("session rejected", "reason", reason, "tenant", slug, "path", r.URL.Path, "remote", r.RemoteAddr)
			return nil, reason
		}
	}

	token := r.Header.Get(RememberHeader)
	if token == "" {
		return nil, reason
	}
	origin := clientIP(r, g.trustProxy)
	if err := g.throttle.Allow(origin); err != nil {
		g.metrics.RememberRedemptions.WithLabelValues("locked").Inc()
		return nil, "locked"
	}
	t, ident, err := g.sessions.redeem(r.Context(), slug, auth.RememberToken(token))
	if err != nil {
		outcome := rejectionReason(err)
		g.metrics.RememberRedemptions.WithLabelValues(outcome).Inc()
		if outcome == "invalid" || outcome == "tenant_mismatch" {
			if res := g.throttle.Fail(origin); res.Locked {
				g.metrics.Lockouts.Inc()
			}
		} else {
			g.throttle.Release(origin)
		}
		slog.Warn("remember token rejected", "reason", outcome, "tenant", slug, "remote", origin)
		return nil, outcome
	}
	g.throttle.Release(origin)
	claims, err := g.sessions.start(w, t, ident)
	if err != nil {
		slog.Error("failed to start session", "error", err)
		return nil, "invalid"
	}
	g.metrics.RememberRedemptions.WithLabelValues("ok").Inc()
	slog.Info("session restored from remember token", "tenant", slug, "identity", ident.Code)
	return claims, ""
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, reason string) {
	g.metrics.SessionRejections.WithLabelValues(reason).Inc()
	if reason != "missing" {
		g.sessions.clear(w)
	}
	if isAPI(r.URL.Path) {
		msg := "not authenticated"
		if reason == "expired" {
			msg = "session expired"
		}
		jsonError(w, http.StatusUnauthorized, msg)
		return
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}
