package assembly

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/bom"
	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/platform/httpx"
	"github.com/nexus-ims/nexus/internal/shared"
)

// Handler wires HTTP endpoints for assembly orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the assembly handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers assembly routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/assembly-orders", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/availability", h.handleAvailability)
		r.Post("/{id}/start", h.handleStart)
		r.Post("/{id}/complete", h.handleComplete)
		r.Post("/{id}/cancel", h.handleCancel)
	})
}

type createRequest struct {
	AssemblySKUID string `json:"assembly_sku_id" validate:"required,uuid"`
	WarehouseID   string `json:"warehouse_id" validate:"required,uuid"`
	PlannedQty    string `json:"planned_qty" validate:"required"`
	LandedCost    string `json:"landed_cost"`
	Notes         string `json:"notes" validate:"max=2000"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	planned, err := decimal.NewFromString(req.PlannedQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "planned_qty must be a decimal string")
		return
	}
	landed := decimal.Zero
	if req.LandedCost != "" {
		landed, err = decimal.NewFromString(req.LandedCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "landed_cost must be a decimal string")
			return
		}
	}
	o, err := h.service.Create(r.Context(), CreateInput{
		TenantID:      identity.TenantID,
		ActorID:       identity.ActorID,
		AssemblySKUID: uuid.MustParse(req.AssemblySKUID),
		WarehouseID:   uuid.MustParse(req.WarehouseID),
		PlannedQty:    planned,
		LandedCost:    landed,
		Notes:         req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	orders, pagination, err := h.service.List(r.Context(), identity.TenantID, Status(q.Get("status")), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"pagination": map[string]int{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, func(identity shared.Identity, id uuid.UUID) (any, int, error) {
		o, err := h.service.GetByID(r.Context(), identity.TenantID, id)
		return o, http.StatusOK, err
	})
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, func(identity shared.Identity, id uuid.UUID) (any, int, error) {
		report, err := h.service.CheckAvailability(r.Context(), identity.TenantID, id)
		return report, http.StatusOK, err
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, func(identity shared.Identity, id uuid.UUID) (any, int, error) {
		o, err := h.service.Start(r.Context(), identity.TenantID, id, identity.ActorID)
		return o, http.StatusOK, err
	})
}

type completeRequest struct {
	ProducedQty string `json:"produced_qty" validate:"required"`
	WastedQty   string `json:"wasted_qty"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a uuid")
		return
	}
	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	produced, err := decimal.NewFromString(req.ProducedQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "produced_qty must be a decimal string")
		return
	}
	wasted := decimal.Zero
	if req.WastedQty != "" {
		wasted, err = decimal.NewFromString(req.WastedQty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "wasted_qty must be a decimal string")
			return
		}
	}
	o, err := h.service.Complete(r.Context(), CompleteInput{
		TenantID:    identity.TenantID,
		ActorID:     identity.ActorID,
		OrderID:     id,
		ProducedQty: produced,
		WastedQty:   wasted,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, func(identity shared.Identity, id uuid.UUID) (any, int, error) {
		o, err := h.service.Cancel(r.Context(), identity.TenantID, id, identity.ActorID)
		return o, http.StatusOK, err
	})
}

func (h *Handler) withOrder(w http.ResponseWriter, r *http.Request, fn func(identity shared.Identity, id uuid.UUID) (any, int, error)) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a uuid")
		return
	}
	body, status, err := fn(identity, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, status, body)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var nbe *ledger.NegativeBalanceError
	switch {
	case errors.As(err, &nbe):
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", nbe.Error(), map[string]any{
			"sku_id":       nbe.SKUID,
			"warehouse_id": nbe.WarehouseID,
			"available":    nbe.Available,
			"requested":    nbe.Requested,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, bom.ErrNotFound), errors.Is(err, bom.ErrNoActiveBOM):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrOverproduced):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("assembly request failed", "error", err)
		httpx.RespondError(w, err)
	}
}
