package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"

	"github.com/nexus-ims/nexus/internal/app"
	"github.com/nexus-ims/nexus/internal/assembly"
	"github.com/nexus-ims/nexus/internal/auth/apikeys"
	"github.com/nexus-ims/nexus/internal/bom"
	"github.com/nexus-ims/nexus/internal/fulfillment"
	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/masterdata/skus"
	"github.com/nexus-ims/nexus/internal/masterdata/warehouses"
	"github.com/nexus-ims/nexus/internal/platform/cache"
	"github.com/nexus-ims/nexus/internal/platform/db"
	"github.com/nexus-ims/nexus/internal/procurement"
	"github.com/nexus-ims/nexus/internal/scanner"
	"github.com/nexus-ims/nexus/internal/shared"
	"github.com/nexus-ims/nexus/internal/transfers"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balances read uncached", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	validate := validator.New()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	warehouseRepo := warehouses.NewRepository(pool)
	warehouseHandler := warehouses.NewHandler(logger, warehouseRepo, validate)

	skuRepo := skus.NewRepository(pool)
	skuHandler := skus.NewHandler(logger, skuRepo, validate)

	var balanceCache ledger.BalanceCache = ledger.NoopBalanceCache{}
	if redisClient != nil {
		balanceCache = ledger.NewRedisBalanceCache(redisClient, cfg.StockCacheTTL, logger)
	}
	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, balanceCache, warehouseRepo, idempotencyStore, auditLogger, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, validate)

	bomRepo := bom.NewRepository(pool)
	bomService := bom.NewService(bomRepo, skuRepo, auditLogger, logger)
	bomHandler := bom.NewHandler(logger, bomService, validate)

	assemblyRepo := assembly.NewRepository(pool)
	assemblyService := assembly.NewService(assemblyRepo, ledgerService, bomRepo, skuRepo, logger)
	assemblyHandler := assembly.NewHandler(logger, assemblyService, validate)

	fulfillmentRepo := fulfillment.NewRepository(pool)
	fulfillmentService := fulfillment.NewService(fulfillmentRepo, ledgerService, idempotencyStore, logger)
	fulfillmentHandler := fulfillment.NewHandler(logger, fulfillmentService, validate)

	transferRepo := transfers.NewRepository(pool)
	transferService := transfers.NewService(transferRepo, ledgerService, logger)
	transferHandler := transfers.NewHandler(logger, transferService, validate)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, ledgerService, idempotencyStore, logger)
	procurementHandler := procurement.NewHandler(logger, procurementService, validate)

	apiKeyRepo := apikeys.NewRepository(pool)
	apiKeyService := apikeys.NewService(apiKeyRepo, logger)
	apiKeyHandler := apikeys.NewHandler(logger, apiKeyService, validate)

	scannerService := scanner.NewService(skuRepo, ledgerService, logger)
	scannerHandler := scanner.NewHandler(logger, scannerService, apiKeyService)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		APIKeyService:      apiKeyService,
		APIKeyHandler:      apiKeyHandler,
		LedgerHandler:      ledgerHandler,
		WarehouseHandler:   warehouseHandler,
		SKUHandler:         skuHandler,
		BOMHandler:         bomHandler,
		AssemblyHandler:    assemblyHandler,
		FulfillmentHandler: fulfillmentHandler,
		TransferHandler:    transferHandler,
		ProcurementHandler: procurementHandler,
		ScannerHandler:     scannerHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppRequestTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("nexus listening", slog.String("addr", cfg.AppAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
