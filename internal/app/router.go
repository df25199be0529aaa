package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nexus-ims/nexus/internal/assembly"
	"github.com/nexus-ims/nexus/internal/auth/apikeys"
	"github.com/nexus-ims/nexus/internal/bom"
	"github.com/nexus-ims/nexus/internal/fulfillment"
	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/masterdata/skus"
	"github.com/nexus-ims/nexus/internal/masterdata/warehouses"
	"github.com/nexus-ims/nexus/internal/procurement"
	"github.com/nexus-ims/nexus/internal/scanner"
	"github.com/nexus-ims/nexus/internal/transfers"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	APIKeyService *apikeys.Service

	APIKeyHandler      *apikeys.Handler
	LedgerHandler      *ledger.Handler
	WarehouseHandler   *warehouses.Handler
	SKUHandler         *skus.Handler
	BOMHandler         *bom.Handler
	AssemblyHandler    *assembly.Handler
	FulfillmentHandler *fulfillment.Handler
	TransferHandler    *transfers.Handler
	ProcurementHandler *procurement.Handler
	ScannerHandler     *scanner.Handler
}

// NewRouter constructs the chi router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	timeout := 30 * time.Second
	if params.Config != nil && params.Config.AppRequestTimeout > 0 {
		timeout = params.Config.AppRequestTimeout
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(timeout))
		r.Use(params.APIKeyService.Middleware)

		params.APIKeyHandler.MountRoutes(r)
		params.LedgerHandler.MountRoutes(r)
		params.WarehouseHandler.MountRoutes(r)
		params.SKUHandler.MountRoutes(r)
		params.BOMHandler.MountRoutes(r)
		params.AssemblyHandler.MountRoutes(r)
		params.FulfillmentHandler.MountRoutes(r)
		params.TransferHandler.MountRoutes(r)
		params.ProcurementHandler.MountRoutes(r)
	})

	// The scanner endpoint does its own key handshake and must not sit
	// behind the request timeout: connections stay open for a whole shift.
	r.Route("/ws", func(r chi.Router) {
		params.ScannerHandler.MountRoutes(r)
	})

	return r
}
