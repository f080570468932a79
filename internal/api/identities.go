package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/erazemk/tansu/internal/auth"
	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/store"
)

// IdentitiesHandler handles identity management endpoints (admin only).
type IdentitiesHandler struct {
	DB         *sql.DB
	PINs       *auth.PINVerifier
	BcryptCost int
}

type createIdentityRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Role string `json:"role"`
	PIN  string `json:"pin"`
}

type updateIdentityRequest struct {
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active *bool  `json:"active"`
}

type resetPINRequest struct {
	PIN string `json:"pin"`
}

// identityWithPIN is returned when a PIN is set, so an administrator can hand
// it over. The PIN is not retrievable afterwards.
type identityWithPIN struct {
	*model.Identity
	PIN string `json:"pin"`
}

// List handles GET /api/identities.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	identities, err := store.ListIdentities(r.Context(), h.DB, p.TenantID, false)
	if err != nil {
		slog.Error("failed to list identities", "tenant", p.TenantSlug, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}
	if identities == nil {
		identities = []model.Identity{}
	}
	jsonResponse(w, http.StatusOK, identities)
}

// Create handles POST /api/identities. A PIN is generated when none is given.
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	var req createIdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" || strings.TrimSpace(req.Name) == "" || req.Role == "" {
		jsonError(w, http.StatusBadRequest, "code, name, and role required")
		return
	}
	if !model.ValidRole(req.Role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}

	pin, hash, ok := h.preparePIN(w, r, p.TenantID, req.PIN, 0)
	if !ok {
		return
	}

	ident, err := store.CreateIdentity(r.Context(), h.DB, p.TenantID, req.Code, req.Name, hash, req.Role)
	if errors.Is(err, store.ErrDuplicate) {
		jsonError(w, http.StatusConflict, "code already exists")
		return
	}
	if err != nil {
		slog.Error("failed to create identity", "tenant", p.TenantSlug, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create identity")
		return
	}

	slog.Info("identity created", "tenant", p.TenantSlug, "identity", p.Code, "new_identity", ident.Code, "role", ident.Role)
	jsonResponse(w, http.StatusCreated, identityWithPIN{Identity: ident, PIN: pin})
}

// Update handles PUT /api/identities/{id}.
func (h *IdentitiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	ident, ok := h.load(w, r)
	if !ok {
		return
	}

	var req updateIdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name, role, active := ident.Name, ident.Role, ident.Active
	if strings.TrimSpace(req.Name) != "" {
		name = req.Name
	}
	if req.Role != "" {
		if !model.ValidRole(req.Role) {
			jsonError(w, http.StatusBadRequest, "invalid role")
			return
		}
		role = req.Role
	}
	if req.Active != nil {
		active = *req.Active
	}

	// Prevent an administrator from locking themselves out.
	if ident.Code == p.Code && (!active || role != model.RoleAdmin) {
		jsonError(w, http.StatusBadRequest, "cannot demote or deactivate yourself")
		return
	}

	if err := store.UpdateIdentity(r.Context(), h.DB, p.TenantID, ident.ID, name, role, active); err != nil {
		slog.Error("failed to update identity", "tenant", p.TenantSlug, "id", ident.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update identity")
		return
	}

	updated, err := store.GetIdentity(r.Context(), h.DB, p.TenantID, ident.ID)
	if err != nil || updated == nil {
		jsonError(w, http.StatusInternalServerError, "failed to get identity")
		return
	}

	slog.Info("identity updated", "tenant", p.TenantSlug, "identity", p.Code, "target", updated.Code,
		"role", updated.Role, "active", updated.Active)
	jsonResponse(w, http.StatusOK, updated)
}

// ResetPIN handles PUT /api/identities/{id}/pin.
func (h *IdentitiesHandler) ResetPIN(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	ident, ok := h.load(w, r)
	if !ok {
		return
	}

	var req resetPINRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pin, hash, ok := h.preparePIN(w, r, p.TenantID, req.PIN, ident.ID)
	if !ok {
		return
	}

	if err := store.UpdateIdentityPIN(r.Context(), h.DB, p.TenantID, ident.ID, hash); err != nil {
		slog.Error("failed to update pin", "tenant", p.TenantSlug, "id", ident.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update pin")
		return
	}

	slog.Info("identity pin reset", "tenant", p.TenantSlug, "identity", p.Code, "target", ident.Code)
	jsonResponse(w, http.StatusOK, identityWithPIN{Identity: ident, PIN: pin})
}

// preparePIN validates or generates a PIN, checks that no other active
// identity of the tenant already uses it, and hashes it.
func (h *IdentitiesHandler) preparePIN(w http.ResponseWriter, r *http.Request, tenantID, pin string, exceptID int64) (string, string, bool) {
	if pin == "" {
		generated, err := auth.GeneratePIN()
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "failed to generate pin")
			return "", "", false
		}
		pin = generated
	} else if err := model.ValidatePIN(pin); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}

	inUse, err := h.PINs.InUse(r.Context(), tenantID, pin, exceptID)
	if err != nil {
		slog.Error("failed to check pin", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return "", "", false
	}
	if inUse {
		jsonError(w, http.StatusConflict, "pin already in use")
		return "", "", false
	}

	hash, err := auth.HashPIN(pin, h.BcryptCost)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash pin")
		return "", "", false
	}
	return pin, hash, true
}

func (h *IdentitiesHandler) load(w http.ResponseWriter, r *http.Request) (*model.Identity, bool) {
	p := GetPrincipal(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid identity id")
		return nil, false
	}

	ident, err := store.GetIdentity(r.Context(), h.DB, p.TenantID, id)
	if err != nil {
		slog.Error("failed to get identity", "tenant", p.TenantSlug, "id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get identity")
		return nil, false
	}
	if ident == nil {
		jsonError(w, http.StatusNotFound, "identity not found")
		return nil, false
	}
	return ident, true
}
