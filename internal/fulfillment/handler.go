package fulfillment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/platform/httpx"
	"github.com/nexus-ims/nexus/internal/shared"
)

// Handler wires HTTP endpoints for sales orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the fulfillment handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers sales order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sales-orders", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/allocate", h.handleAllocate)
		r.Post("/{id}/ship", h.handleShip)
		r.Post("/{id}/cancel", h.handleCancel)
	})
}

type createRequest struct {
	CustomerRef string              `json:"customer_ref" validate:"required,max=128"`
	WarehouseID string              `json:"warehouse_id" validate:"required,uuid"`
	Notes       string              `json:"notes" validate:"max=2000"`
	Lines       []createLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createLineRequest struct {
	SKUID    string `json:"sku_id" validate:"required,uuid"`
	Quantity string `json:"quantity" validate:"required"`
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
	in := CreateInput{
		TenantID:    identity.TenantID,
		ActorID:     identity.ActorID,
		CustomerRef: req.CustomerRef,
		WarehouseID: uuid.MustParse(req.WarehouseID),
		Notes:       req.Notes,
	}
	for _, line := range req.Lines {
		qty, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line quantity must be a decimal string")
			return
		}
		in.Lines = append(in.Lines, LineInput{SKUID: uuid.MustParse(line.SKUID), Quantity: qty})
	}
	o, err := h.service.Create(r.Context(), in)
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
	h.withOrder(w, r, func(identity shared.Identity, id uuid.UUID, _ string) (*Order, error) {
		return h.service.GetByID(r.Context(), identity.TenantID, id)
	})
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, func(identity shared.Identity, id uuid.UUID, requestID string) (*Order, error) {
		return h.service.Allocate(r.Context(), identity.TenantID, id, identity.ActorID, requestID)
	})
}

func (h *Handler) handleShip(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, func(identity shared.Identity, id uuid.UUID, requestID string) (*Order, error) {
		return h.service.Ship(r.Context(), identity.TenantID, id, identity.ActorID, requestID)
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, func(identity shared.Identity, id uuid.UUID, _ string) (*Order, error) {
		return h.service.Cancel(r.Context(), identity.TenantID, id, identity.ActorID)
	})
}

func (h *Handler) withOrder(w http.ResponseWriter, r *http.Request, fn func(identity shared.Identity, id uuid.UUID, requestID string) (*Order, error)) {
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
	o, err := fn(identity, id, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		shortage *ShortageError
		nbe      *ledger.NegativeBalanceError
	)
	switch {
	case errors.As(err, &shortage):
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", shortage.Error(),
			map[string]any{"shortages": shortage.Shortages})
	case errors.As(err, &nbe):
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", nbe.Error(), map[string]any{
			"sku_id":       nbe.SKUID,
			"warehouse_id": nbe.WarehouseID,
			"available":    nbe.Available,
			"requested":    nbe.Requested,
		})
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrEmptyOrder), errors.Is(err, ErrInvalidLine):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("sales order request failed", "error", err)
		httpx.RespondError(w, err)
	}
}
