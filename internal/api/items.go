package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/erazemk/tansu/internal/metrics"
	"github.com/erazemk/tansu/internal/model"
	"github.com/erazemk/tansu/internal/store"
	"github.com/erazemk/tansu/internal/workflow"
)

// ItemsHandler handles item endpoints. Every query is scoped to the tenant of
// the authenticated principal.
type ItemsHandler struct {
	DB       *sql.DB
	Workflow *workflow.Engine
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type createItemRequest struct {
	Ticket       string `json:"ticket"`
	CustomerName string `json:"customer_name"`
	Description  string `json:"description"`
}

type updateItemRequest struct {
	CustomerName        string     `json:"customer_name"`
	Description         string     `json:"description"`
	ScheduledShipDate   *time.Time `json:"scheduled_ship_date"`
	ScheduledReturnDate *time.Time `json:"scheduled_return_date"`
	IsPaidStorage       bool       `json:"is_paid_storage"`
	IsClaimActive       bool       `json:"is_claim_active"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type overrideRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	status := model.ItemStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		jsonError(w, http.StatusBadRequest, "unknown status")
		return
	}

	items, err := store.ListItems(r.Context(), h.DB, p.TenantID, status)
	if err != nil {
		slog.Error("failed to list items", "tenant", p.TenantSlug, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Ticket = strings.TrimSpace(req.Ticket)
	if req.Ticket == "" || strings.TrimSpace(req.CustomerName) == "" {
		jsonError(w, http.StatusBadRequest, "ticket and customer_name required")
		return
	}

	item, err := store.CreateItem(r.Context(), h.DB, p.TenantID, req.Ticket, req.CustomerName, req.Description, h.Now())
	if errors.Is(err, store.ErrDuplicate) {
		jsonError(w, http.StatusConflict, "ticket already exists")
		return
	}
	if err != nil {
		slog.Error("failed to create item", "tenant", p.TenantSlug, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create item")
		return
	}

	slog.Info("item created", "tenant", p.TenantSlug, "identity", p.Code, "item", item.ID, "ticket", item.Ticket)
	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/items/{id}. Status is not writable here.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	item, ok := h.load(w, r)
	if !ok {
		return
	}

	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		jsonError(w, http.StatusBadRequest, "customer_name required")
		return
	}

	err := store.UpdateItemDetails(r.Context(), h.DB, p.TenantID, item.ID, store.ItemDetails{
		CustomerName:        req.CustomerName,
		Description:         req.Description,
		ScheduledShipDate:   req.ScheduledShipDate,
		ScheduledReturnDate: req.ScheduledReturnDate,
		IsPaidStorage:       req.IsPaidStorage,
		IsClaimActive:       req.IsClaimActive,
	}, h.Now())
	if err != nil {
		slog.Error("failed to update item", "tenant", p.TenantSlug, "item", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update item")
		return
	}

	updated, err := store.GetItem(r.Context(), h.DB, p.TenantID, item.ID)
	if err != nil || updated == nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// Transition handles POST /api/items/{id}/status.
func (h *ItemsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Workflow.Apply(r.Context(), p.Actor(), id, model.ItemStatus(req.Status), req.Note)
	h.Metrics.Transitions.WithLabelValues("apply", transitionOutcome(err)).Inc()
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	slog.Info("item status changed", "tenant", p.TenantSlug, "identity", p.Code, "item", id, "status", item.Status)
	jsonResponse(w, http.StatusOK, item)
}

// Override handles POST /api/items/{id}/override.
func (h *ItemsHandler) Override(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Workflow.Override(r.Context(), p.Actor(), id, model.ItemStatus(req.Status), strings.TrimSpace(req.Reason))
	h.Metrics.Transitions.WithLabelValues("override", transitionOutcome(err)).Inc()
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// GetHistory handles GET /api/items/{id}/history.
func (h *ItemsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	p := GetPrincipal(r.Context())
	item, ok := h.load(w, r)
	if !ok {
		return
	}

	history, err := store.GetItemHistory(r.Context(), h.DB, p.TenantID, item.ID)
	if err != nil {
		slog.Error("failed to get item history", "tenant", p.TenantSlug, "item", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get history")
		return
	}
	if history == nil {
		history = []model.History{}
	}
	jsonResponse(w, http.StatusOK, history)
}

// WorkflowTable handles GET /api/workflow: the permitted next statuses of every status.
func (h *ItemsHandler) WorkflowTable(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, workflow.Table())
}

func (h *ItemsHandler) load(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	p := GetPrincipal(r.Context())
	id, ok := itemID(w, r)
	if !ok {
		return nil, false
	}

	item, err := store.GetItem(r.Context(), h.DB, p.TenantID, id)
	if err != nil {
		slog.Error("failed to get item", "tenant", p.TenantSlug, "item", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return nil, false
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return nil, false
	}
	return item, true
}

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

func transitionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, workflow.ErrIllegalTransition):
		return "illegal"
	case errors.Is(err, workflow.ErrConflict):
		return "conflict"
	case errors.Is(err, workflow.ErrItemNotFound):
		return "not_found"
	case errors.Is(err, workflow.ErrInvalidStatus), errors.Is(err, workflow.ErrReasonRequired),
		errors.Is(err, workflow.ErrForbidden):
		return "rejected"
	default:
		return "error"
	}
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	var illegal *workflow.IllegalTransitionError
	switch {
	case errors.As(err, &illegal):
		jsonResponse(w, http.StatusConflict, map[string]any{
			"error":   "illegal transition",
			"from":    illegal.From,
			"to":      illegal.To,
			"allowed": workflow.Allowed(illegal.From),
		})
	case errors.Is(err, workflow.ErrConflict):
		jsonError(w, http.StatusConflict, "item was changed concurrently, reload and retry")
	case errors.Is(err, workflow.ErrItemNotFound):
		jsonError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, workflow.ErrInvalidStatus):
		jsonError(w, http.StatusBadRequest, "unknown status")
	case errors.Is(err, workflow.ErrReasonRequired):
		jsonError(w, http.StatusBadRequest, "reason required")
	case errors.Is(err, workflow.ErrForbidden):
		jsonError(w, http.StatusForbidden, "insufficient permissions")
	default:
		slog.Error("workflow operation failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}
