package assembly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexus-ims/nexus/internal/shared"
)

// Repository persists assembly orders. Status transitions that must commit
// with ledger events run against the open transaction via the tx-taking
// methods.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, tenant_id, assembly_sku_id, bom_id, warehouse_id, planned_qty, produced_qty,
	wasted_qty, landed_cost, cogs_per_unit, status, notes, started_at, completed_at, created_at, updated_at`

// Create inserts a pending order.
func (r *Repository) Create(ctx context.Context, o *Order) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO assembly_orders
			(id, tenant_id, assembly_sku_id, bom_id, warehouse_id, planned_qty, produced_qty,
			 wasted_qty, landed_cost, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at`,
		o.ID, o.TenantID, o.AssemblySKUID, o.BOMID, o.WarehouseID, o.PlannedQty,
		o.LandedCost, o.Status, o.Notes).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("assembly: create order: %w", err)
	}
	return nil
}

// GetByID fetches one order for a tenant.
func (r *Repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM assembly_orders WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

// GetForUpdate locks and fetches one order inside the open transaction so a
// concurrent transition on the same order waits instead of double-posting.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*Order, error) {
	return scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM assembly_orders WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
}

// List pages through a tenant's orders, optionally by status.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, status Status, p shared.Pagination) ([]Order, int, error) {
	where := "tenant_id = $1"
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM assembly_orders WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("assembly: count orders: %w", err)
	}

	query := fmt.Sprintf("SELECT "+orderColumns+" FROM assembly_orders WHERE "+where+
		" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, p.PerPage, p.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("assembly: list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

// MarkStarted flips the order to IN_PROGRESS inside the open transaction.
func (r *Repository) MarkStarted(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, tx, `
		UPDATE assembly_orders SET status = $3, started_at = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, StatusInProgress, at)
}

// MarkCompleted records the production result inside the open transaction.
func (r *Repository) MarkCompleted(ctx context.Context, tx pgx.Tx, o *Order) error {
	return r.exec(ctx, tx, `
		UPDATE assembly_orders
		SET status = $3, produced_qty = $4, wasted_qty = $5, cogs_per_unit = $6,
		    completed_at = $7, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		o.TenantID, o.ID, StatusCompleted, o.ProducedQty, o.WastedQty, o.COGSPerUnit, o.CompletedAt)
}

// MarkCancelled flips the order to CANCELLED inside the open transaction.
func (r *Repository) MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error {
	return r.exec(ctx, tx, `
		UPDATE assembly_orders SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, StatusCancelled)
}

func (r *Repository) exec(ctx context.Context, tx pgx.Tx, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("assembly: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.TenantID, &o.AssemblySKUID, &o.BOMID, &o.WarehouseID,
		&o.PlannedQty, &o.ProducedQty, &o.WastedQty, &o.LandedCost, &o.COGSPerUnit,
		&o.Status, &o.Notes, &o.StartedAt, &o.CompletedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("assembly: scan order: %w", err)
	}
	return &o, nil
}
