package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/tansu/internal/store"
)

// TenantsHandler serves the public tenant lookup used by the login screen.
type TenantsHandler struct {
	DB *sql.DB
}

type tenantResponse struct {
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
}

// Get handles GET /api/tenants/{slug}.
func (h *TenantsHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	t, err := store.GetTenantBySlug(r.Context(), h.DB, slug)
	if err != nil {
		slog.Error("failed to get tenant", "tenant", slug, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get tenant")
		return
	}
	if t == nil {
		jsonError(w, http.StatusNotFound, "tenant not found")
		return
	}
	jsonResponse(w, http.StatusOK, tenantResponse{Name: t.Name, Slug: t.Slug, Status: t.Status})
}
