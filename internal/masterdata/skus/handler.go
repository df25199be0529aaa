package skus

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/platform/httpx"
	"github.com/nexus-ims/nexus/internal/shared"
)

// Handler wires HTTP endpoints for the SKU catalogue.
type Handler struct {
	logger   *slog.Logger
	repo     *Repository
	validate *validator.Validate
}

// NewHandler constructs the SKU handler.
func NewHandler(logger *slog.Logger, repo *Repository, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, repo: repo, validate: validate}
}

// MountRoutes registers SKU routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/skus", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}", h.handleUpdate)
	})
}

type createRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	Barcode     string `json:"barcode" validate:"max=128"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	UOM         string `json:"uom" validate:"required,max=16"`
	UnitCost    string `json:"unit_cost"`
	IsAssembly  bool   `json:"is_assembly"`
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
	unitCost := decimal.Zero
	if req.UnitCost != "" {
		var err error
		unitCost, err = decimal.NewFromString(req.UnitCost)
		if err != nil || unitCost.IsNegative() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a non-negative decimal string")
			return
		}
	}
	sku, err := h.repo.Create(r.Context(), CreateInput{
		TenantID:    identity.TenantID,
		Code:        req.Code,
		Barcode:     req.Barcode,
		Name:        req.Name,
		Description: req.Description,
		UOM:         req.UOM,
		UnitCost:    unitCost,
		IsAssembly:  req.IsAssembly,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sku)
}

type updateRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Barcode     *string `json:"barcode" validate:"omitempty,max=128"`
	UnitCost    *string `json:"unit_cost"`
	IsActive    *bool   `json:"is_active"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
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
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Barcode:     req.Barcode,
		IsActive:    req.IsActive,
	}
	if req.UnitCost != nil {
		cost, err := decimal.NewFromString(*req.UnitCost)
		if err != nil || cost.IsNegative() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a non-negative decimal string")
			return
		}
		in.UnitCost = &cost
	}
	sku, err := h.repo.Update(r.Context(), identity.TenantID, id, in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sku)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
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
	sku, err := h.repo.GetByID(r.Context(), identity.TenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sku)
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
	p := shared.NewPagination(page, perPage, 0)

	list, total, err := h.repo.List(r.Context(), identity.TenantID, q.Get("search"), p)
	if err != nil {
		h.respondError(w, err)
		return
	}
	pagination := shared.NewPagination(p.Page, p.PerPage, total)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"skus": list,
		"pagination": map[string]int{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
		},
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("sku request failed", "error", err)
		httpx.RespondError(w, err)
	}
}
