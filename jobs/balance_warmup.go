package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexus-ims/nexus/internal/ledger"
)

// BalanceWarmupJob walks recently active stock keys and reads each balance
// through the ledger service, which fills the cache as a side effect.
type BalanceWarmupJob struct {
	ledger *ledger.Service
	keys   *ledger.Repository
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewBalanceWarmupJob constructs the job.
func NewBalanceWarmupJob(ledgerService *ledger.Service, keys *ledger.Repository, pool *pgxpool.Pool, logger *slog.Logger) *BalanceWarmupJob {
	return &BalanceWarmupJob{ledger: ledgerService, keys: keys, pool: pool, logger: logger}
}

// Handle processes one warmup task.
func (j *BalanceWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload BalanceWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	maxKeys := payload.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 500
	}

	tenants, err := j.activeTenants(ctx)
	if err != nil {
		j.logger.Error("warmup tenant scan failed", slog.Any("error", err))
		return err
	}

	warmed := 0
	for _, tenantID := range tenants {
		keys, err := j.keys.ActiveKeys(ctx, tenantID, maxKeys)
		if err != nil {
			j.logger.Warn("warmup key scan failed", slog.Any("tenant_id", tenantID), slog.Any("error", err))
			continue
		}
		for _, key := range keys {
			if _, err := j.ledger.GetStockLevel(ctx, key); err != nil {
				j.logger.Warn("warmup balance read failed",
					slog.Any("sku_id", key.SKUID), slog.Any("error", err))
				continue
			}
			warmed++
		}
	}
	j.logger.Info("balance warmup done", slog.Int("tenants", len(tenants)), slog.Int("keys", warmed))
	return nil
}

// activeTenants lists tenants with ledger movement in the last day.
func (j *BalanceWarmupJob) activeTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM stock_ledger
		WHERE created_at > NOW() - INTERVAL '24 hours'`)
	if err != nil {
		return nil, fmt.Errorf("jobs: scan tenants: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("jobs: scan tenant id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
