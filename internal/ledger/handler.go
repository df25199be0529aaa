package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/platform/httpx"
	"github.com/nexus-ims/nexus/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock/events", h.handlePostEvent)
	r.Get("/stock/levels", h.handleGetStockLevel)
	r.Get("/stock/history", h.handleHistory)
}

type postEventRequest struct {
	SKUID            string  `json:"sku_id" validate:"required,uuid"`
	WarehouseID      string  `json:"warehouse_id" validate:"required,uuid"`
	LocationID       *string `json:"location_id" validate:"omitempty,uuid"`
	EventType        string  `json:"event_type" validate:"required"`
	QuantityDelta    string  `json:"quantity_delta" validate:"required"`
	ReferenceID      *string `json:"reference_id" validate:"omitempty,uuid"`
	Notes            string  `json:"notes" validate:"max=2000"`
	ReasonCode       string  `json:"reason_code" validate:"max=64"`
	UnitCostSnapshot *string `json:"unit_cost_snapshot"`
	RequestID        string  `json:"request_id" validate:"max=128"`
}

func (h *Handler) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req postEventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	in, err := h.toInput(identity, req)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	event, err := h.service.PostEvent(r.Context(), in)
	if err != nil {
		h.respondPostError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, event)
}

func (h *Handler) toInput(identity shared.Identity, req postEventRequest) (EventInput, error) {
	eventType, err := ParseEventType(req.EventType)
	if err != nil {
		return EventInput{}, err
	}
	delta, err := decimal.NewFromString(req.QuantityDelta)
	if err != nil {
		return EventInput{}, errors.New("quantity_delta must be a decimal string")
	}
	in := EventInput{
		TenantID:      identity.TenantID,
		SKUID:         uuid.MustParse(req.SKUID),
		WarehouseID:   uuid.MustParse(req.WarehouseID),
		EventType:     eventType,
		QuantityDelta: delta,
		Notes:         req.Notes,
		ReasonCode:    req.ReasonCode,
		RequestID:     req.RequestID,
	}
	if identity.ActorID != uuid.Nil {
		actor := identity.ActorID
		in.ActorID = &actor
	}
	if req.LocationID != nil {
		loc := uuid.MustParse(*req.LocationID)
		in.LocationID = &loc
	}
	if req.ReferenceID != nil {
		ref := uuid.MustParse(*req.ReferenceID)
		in.ReferenceID = &ref
	}
	if req.UnitCostSnapshot != nil {
		cost, err := decimal.NewFromString(*req.UnitCostSnapshot)
		if err != nil {
			return EventInput{}, errors.New("unit_cost_snapshot must be a decimal string")
		}
		in.UnitCostSnapshot = &cost
	}
	return in, nil
}

func (h *Handler) respondPostError(w http.ResponseWriter, err error) {
	var nbe *NegativeBalanceError
	switch {
	case errors.As(err, &nbe):
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", nbe.Error(), map[string]any{
			"sku_id":       nbe.SKUID,
			"warehouse_id": nbe.WarehouseID,
			"available":    nbe.Available,
			"requested":    nbe.Requested,
			"would_be":     nbe.WouldBe,
		})
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, ErrWarehouseNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnknownEventType), errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("post event failed", "error", err)
		httpx.RespondError(w, err)
	}
}

func (h *Handler) handleGetStockLevel(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	skuID, err := uuid.Parse(r.URL.Query().Get("sku_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sku_id must be a uuid")
		return
	}
	warehouseID, err := uuid.Parse(r.URL.Query().Get("warehouse_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id must be a uuid")
		return
	}

	balance, err := h.service.GetStockLevel(r.Context(), StockKey{
		TenantID:    identity.TenantID,
		SKUID:       skuID,
		WarehouseID: warehouseID,
	})
	if err != nil {
		h.logger.Error("get stock level failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sku_id":       skuID,
		"warehouse_id": warehouseID,
		"quantity":     balance,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	var f HistoryFilter
	if v := q.Get("sku_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sku_id must be a uuid")
			return
		}
		f.SKUID = id
	}
	if v := q.Get("warehouse_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id must be a uuid")
			return
		}
		f.WarehouseID = id
	}
	if v := q.Get("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "actor_id must be a uuid")
			return
		}
		f.ActorID = id
	}
	if v := q.Get("event_type"); v != "" {
		et, err := ParseEventType(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		f.EventType = et
	}
	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date_from must be RFC3339")
			return
		}
		f.DateFrom = t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date_to must be RFC3339")
			return
		}
		f.DateTo = t
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	events, pagination, err := h.service.GetTransactionHistory(r.Context(), identity.TenantID, f, page, perPage)
	if err != nil {
		if errors.Is(err, ErrUnknownEventType) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("get history failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"events": events,
		"pagination": map[string]int{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
		},
	})
}
