package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/erazemk/tansu/internal/auth"
	"github.com/erazemk/tansu/internal/metrics"
	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/store"
	"github.com/erazemk/tansu/internal/tenant"
	"github.com/erazemk/tansu/internal/throttle"
	"github.com/erazemk/tansu/internal/workflow"
)

// Deps are the collaborators of the router. Nil Metrics, Throttle, PINs and
// Workflow are replaced with defaults built on DB; a nil Now uses time.Now.
type Deps struct {
	DB       *sql.DB
	Sessions *auth.SessionIssuer
	Remember *auth.RememberIssuer
	PINs     *auth.PINVerifier
	Throttle *throttle.Throttle
	Workflow *workflow.Engine
	Metrics  *metrics.Metrics
	Resolver tenant.Resolver

	CookieSecure bool
	TrustProxy   bool
	BcryptCost   int
	Now          func() time.Time
}

// NewRouter creates the HTTP handler with all endpoints registered. Metrics
// and health checks sit outside the request gate; everything else is behind it.
func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Throttle == nil {
		d.Throttle = throttle.New(nil, throttle.WithClock(d.Now))
	}
	if d.PINs == nil {
		d.PINs = auth.NewPINVerifier(store.Identities{DB: d.DB}, d.BcryptCost, d.Now)
	}
	if d.Workflow == nil {
		d.Workflow = workflow.NewEngine(store.Items{DB: d.DB}, d.Now)
	}

	s := &sessions{db: d.DB, issuer: d.Sessions, remember: d.Remember, cookieSecure: d.CookieSecure}

	authHandler := &AuthHandler{DB: d.DB, PINs: d.PINs, Throttle: d.Throttle, Metrics: d.Metrics, TrustProxy: d.TrustProxy, sessions: s}
	tenantsHandler := &TenantsHandler{DB: d.DB}
	pagesHandler := &PagesHandler{DB: d.DB}
	itemsHandler := &ItemsHandler{DB: d.DB, Workflow: d.Workflow, Metrics: d.Metrics, Now: d.Now}
	identitiesHandler := &IdentitiesHandler{DB: d.DB, PINs: d.PINs, BcryptCost: d.BcryptCost}

	requireAdmin := RequireRole(model.RoleAdmin)

	mux := http.NewServeMux()

	// Public.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/remember", authHandler.Remember)
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /api/tenants/{slug}", tenantsHandler.Get)
	mux.HandleFunc("GET "+LoginPath, pagesHandler.Login)

	// Authenticated.
	mux.HandleFunc("GET /api/auth/me", authHandler.Me)
	mux.HandleFunc("GET /api/workflow", itemsHandler.WorkflowTable)

	// Items (all roles; override is checked again by the engine).
	mux.HandleFunc("GET /api/items", itemsHandler.List)
	mux.HandleFunc("POST /api/items", itemsHandler.Create)
	mux.HandleFunc("GET /api/items/{id}", itemsHandler.Get)
	mux.HandleFunc("PUT /api/items/{id}", itemsHandler.Update)
	mux.HandleFunc("POST /api/items/{id}/status", itemsHandler.Transition)
	mux.Handle("POST /api/items/{id}/override", requireAdmin(http.HandlerFunc(itemsHandler.Override)))
	mux.HandleFunc("GET /api/items/{id}/history", itemsHandler.GetHistory)

	// Identities (admin only).
	mux.Handle("GET /api/identities", requireAdmin(http.HandlerFunc(identitiesHandler.List)))
	mux.Handle("POST /api/identities", requireAdmin(http.HandlerFunc(identitiesHandler.Create)))
	mux.Handle("PUT /api/identities/{id}", requireAdmin(http.HandlerFunc(identitiesHandler.Update)))
	mux.Handle("PUT /api/identities/{id}/pin", requireAdmin(http.HandlerFunc(identitiesHandler.ResetPIN)))

	gate := &Gate{db: d.DB, resolver: d.Resolver, sessions: s, metrics: d.Metrics, throttle: d.Throttle, trustProxy: d.TrustProxy}

	root := http.NewServeMux()
	root.Handle("GET /metrics", d.Metrics.Handler())
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.DB.PingContext(r.Context()); err != nil {
			jsonError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("/", gate.Wrap(mux))

	return LoggingMiddleware(d.Metrics)(root)
}
