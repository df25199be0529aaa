package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/platform/db"
	"github.com/nexus-ims/nexus/internal/shared"
)

// balanceConstraint is the name raised by the stock_ledger trigger when an
// append would drive a key's balance negative.
const balanceConstraint = "stock_ledger_nonnegative"

// StoreTx is the transactional surface available while a ledger transaction is
// open. Callers that bundle order-row updates with event appends reach the
// underlying pgx.Tx through Tx.
type StoreTx interface {
	Append(ctx context.Context, e *Event) error
	SumBalance(ctx context.Context, tenantID, skuID, warehouseID uuid.UUID) (decimal.Decimal, error)
	Tx() pgx.Tx
}

// Repository persists ledger events in the stock_ledger table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InTx runs fn inside a read-committed transaction. Ledger appends deliberately
// run below repeatable read: the storage backstop serializes writers on the
// same stock key, and a writer that waited on the advisory lock must see the
// rows committed by the writer it waited on.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	return db.WithReadCommittedTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

// SumBalance folds the full event stream for one stock key. Used on cache miss
// and by read-only balance queries.
func (r *Repository) SumBalance(ctx context.Context, tenantID, skuID, warehouseID uuid.UUID) (decimal.Decimal, error) {
	return sumBalance(ctx, r.pool, tenantID, skuID, warehouseID)
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) Tx() pgx.Tx { return s.tx }

// Append inserts one immutable event row. The table trigger re-checks the
// balance under a per-key advisory lock; when it fires, the returned error is
// a *NegativeBalanceError carrying the requested delta only, since the losing
// transaction cannot observe the winning writer's final balance.
func (s *txStore) Append(ctx context.Context, e *Event) error {
	row := s.tx.QueryRow(ctx, `
		INSERT INTO stock_ledger
			(id, tenant_id, sku_id, warehouse_id, location_id, event_type, quantity_delta,
			 reference_id, actor_id, notes, reason_code, unit_cost_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`,
		e.ID, e.TenantID, e.SKUID, e.WarehouseID, e.LocationID, e.EventType, e.QuantityDelta,
		e.ReferenceID, e.ActorID, e.Notes, e.ReasonCode, e.UnitCostSnapshot, e.CreatedAt)
	if err := row.Scan(&e.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" && pgErr.ConstraintName == balanceConstraint {
			return &NegativeBalanceError{
				SKUID:       e.SKUID,
				WarehouseID: e.WarehouseID,
				Requested:   e.QuantityDelta,
				WouldBe:     e.QuantityDelta,
			}
		}
		return fmt.Errorf("ledger: append event: %w", err)
	}
	return nil
}

func (s *txStore) SumBalance(ctx context.Context, tenantID, skuID, warehouseID uuid.UUID) (decimal.Decimal, error) {
	return sumBalance(ctx, s.tx, tenantID, skuID, warehouseID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumBalance(ctx context.Context, q querier, tenantID, skuID, warehouseID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity_delta), 0)
		FROM stock_ledger
		WHERE tenant_id = $1 AND sku_id = $2 AND warehouse_id = $3`,
		tenantID, skuID, warehouseID).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum balance: %w", err)
	}
	return balance, nil
}

// History returns filtered events newest first, each annotated with the running
// balance of its (sku, warehouse) key as of that event. The window is computed
// over the unfiltered stream so that filtering by event type or actor does not
// distort the balances.
func (r *Repository) History(ctx context.Context, tenantID uuid.UUID, f HistoryFilter, p shared.Pagination) ([]EventWithBalance, int, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.SKUID != uuid.Nil {
		add("sku_id = $%d", f.SKUID)
	}
	if f.WarehouseID != uuid.Nil {
		add("warehouse_id = $%d", f.WarehouseID)
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.ActorID != uuid.Nil {
		add("actor_id = $%d", f.ActorID)
	}
	if !f.DateFrom.IsZero() {
		add("created_at >= $%d", f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		add("created_at <= $%d", f.DateTo)
	}
	where := strings.Join(conds, " AND ")

	var total int
	countSQL := "SELECT COUNT(*) FROM stock_ledger WHERE " + where
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count history: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, sku_id, warehouse_id, location_id, event_type, quantity_delta,
		       reference_id, actor_id, notes, reason_code, unit_cost_snapshot, created_at,
		       running_balance
		FROM (
			SELECT *, SUM(quantity_delta) OVER (
				PARTITION BY sku_id, warehouse_id ORDER BY created_at, id
			) AS running_balance
			FROM stock_ledger
			WHERE tenant_id = $1
		) windowed
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, p.PerPage, p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: query history: %w", err)
	}
	defer rows.Close()

	events := make([]EventWithBalance, 0, p.PerPage)
	for rows.Next() {
		var e EventWithBalance
		if err := rows.Scan(&e.ID, &e.TenantID, &e.SKUID, &e.WarehouseID, &e.LocationID,
			&e.EventType, &e.QuantityDelta, &e.ReferenceID, &e.ActorID, &e.Notes,
			&e.ReasonCode, &e.UnitCostSnapshot, &e.CreatedAt, &e.RunningBalance); err != nil {
			return nil, 0, fmt.Errorf("ledger: scan history row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ledger: iterate history: %w", err)
	}
	return events, total, nil
}

// LastEventAt returns the timestamp of the newest event for a tenant, used by
// the cache warmup job to bound its scan.
func (r *Repository) LastEventAt(ctx context.Context, tenantID uuid.UUID) (time.Time, error) {
	var at *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(created_at) FROM stock_ledger WHERE tenant_id = $1`, tenantID).Scan(&at)
	if err != nil {
		return time.Time{}, fmt.Errorf("ledger: last event at: %w", err)
	}
	if at == nil {
		return time.Time{}, nil
	}
	return *at, nil
}

// ActiveKeys lists the distinct stock keys a tenant has events for, most
// recently touched first. The warmup job primes the cache from this list.
func (r *Repository) ActiveKeys(ctx context.Context, tenantID uuid.UUID, limit int) ([]StockKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sku_id, warehouse_id
		FROM stock_ledger
		WHERE tenant_id = $1
		GROUP BY sku_id, warehouse_id
		ORDER BY MAX(created_at) DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: active keys: %w", err)
	}
	defer rows.Close()

	var keys []StockKey
	for rows.Next() {
		k := StockKey{TenantID: tenantID}
		if err := rows.Scan(&k.SKUID, &k.WarehouseID); err != nil {
			return nil, fmt.Errorf("ledger: scan active key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// StockKey identifies one balance: a SKU in a warehouse for a tenant.
type StockKey struct {
	TenantID    uuid.UUID
	SKUID       uuid.UUID
	WarehouseID uuid.UUID
}
