package bom

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/platform/httpx"
	"github.com/nexus-ims/nexus/internal/shared"
)

// Handler wires HTTP endpoints for BOM management.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the BOM handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers BOM routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/boms", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
	})
	r.Get("/skus/{skuID}/bom", h.handleGetActive)
	r.Get("/skus/{skuID}/bom/versions", h.handleListVersions)
}

type createRequest struct {
	AssemblySKUID string              `json:"assembly_sku_id" validate:"required,uuid"`
	Notes         string              `json:"notes" validate:"max=2000"`
	Lines         []createLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createLineRequest struct {
	ComponentSKUID string `json:"component_sku_id" validate:"required,uuid"`
	Quantity       string `json:"quantity" validate:"required"`
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
		TenantID:      identity.TenantID,
		AssemblySKUID: uuid.MustParse(req.AssemblySKUID),
		Notes:         req.Notes,
	}
	for _, line := range req.Lines {
		qty, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line quantity must be a decimal string")
			return
		}
		in.Lines = append(in.Lines, LineInput{
			ComponentSKUID: uuid.MustParse(line.ComponentSKUID),
			Quantity:       qty,
		})
	}
	b, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
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
	b, err := h.service.GetByID(r.Context(), identity.TenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleGetActive(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	skuID, err := uuid.Parse(chi.URLParam(r, "skuID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "skuID must be a uuid")
		return
	}
	b, err := h.service.GetActive(r.Context(), identity.TenantID, skuID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	skuID, err := uuid.Parse(chi.URLParam(r, "skuID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "skuID must be a uuid")
		return
	}
	versions, err := h.service.ListVersions(r.Context(), identity.TenantID, skuID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoActiveBOM):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrEmptyBOM), errors.Is(err, ErrInvalidLine),
		errors.Is(err, ErrCircular), errors.Is(err, ErrNotAssembly):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("bom request failed", "error", err)
		httpx.RespondError(w, err)
	}
}
