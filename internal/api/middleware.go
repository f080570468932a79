package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/erazemk/tansu/internal/metrics"
	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/workflow"
)

type contextKey string

const (
	principalKey  contextKey = "principal"
	tenantSlugKey contextKey = "tenant_slug"
)

// Principal is the authenticated identity of a request together with its tenant.
type Principal struct {
	TenantID   string `json:"tenant_id"`
	TenantSlug string `json:"tenant_slug"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Role       string `json:"role"`
}

// Actor returns the principal as a workflow actor.
func (p *Principal) Actor() workflow.Actor {
	return workflow.Actor{TenantID: p.TenantID, Code: p.Code, Role: p.Role}
}

// GetPrincipal retrieves the principal attached by the gate.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func withTenantSlug(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, tenantSlugKey, slug)
}

// TenantSlug retrieves the tenant slug resolved for the request.
func TenantSlug(ctx context.Context) string {
	slug, _ := ctx.Value(tenantSlugKey).(string)
	return slug
}

// RequireRole returns middleware that checks if the principal has at least the given role.
func RequireRole(minimum string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil {
				jsonError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !model.RoleAtLeast(p.Role, minimum) {
				jsonError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs HTTP requests with method, path, status, and duration,
// and records them in m.
func LoggingMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)
			if m != nil {
				m.ObserveRequest(r.Method, rec.status, elapsed)
			}
			slog.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
				"duration", elapsed.Round(time.Millisecond))
		})
	}
}

// clientIP returns the origin address used for attempt throttling.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
