package procurement

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

// Repository persists purchase orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the order and its lines in one transaction.
func (r *Repository) Create(ctx context.Context, o *Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("procurement: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (id, tenant_id, supplier_ref, warehouse_id, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`,
		o.ID, o.TenantID, o.SupplierRef, o.WarehouseID, o.Status, o.Notes).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("procurement: insert order: %w", err)
	}
	for _, line := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO purchase_order_lines (id, order_id, sku_id, quantity, received_qty, unit_cost)
			VALUES ($1, $2, $3, $4, 0, $5)`,
			line.ID, o.ID, line.SKUID, line.Quantity, line.UnitCost); err != nil {
			return fmt.Errorf("procurement: insert line: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("procurement: commit: %w", err)
	}
	return nil
}

// GetByID fetches one order with lines.
func (r *Repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error) {
	return r.get(ctx, r.pool, tenantID, id, false)
}

// GetForUpdate locks and fetches one order inside the open transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*Order, error) {
	return r.get(ctx, tx, tenantID, id, true)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) get(ctx context.Context, q querier, tenantID, id uuid.UUID, lock bool) (*Order, error) {
	query := `SELECT id, tenant_id, supplier_ref, warehouse_id, status, notes, closed_at, created_at, updated_at
		FROM purchase_orders WHERE tenant_id = $1 AND id = $2`
	if lock {
		query += " FOR UPDATE"
	}
	var o Order
	err := q.QueryRow(ctx, query, tenantID, id).Scan(&o.ID, &o.TenantID, &o.SupplierRef,
		&o.WarehouseID, &o.Status, &o.Notes, &o.ClosedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("procurement: get order: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, sku_id, quantity, received_qty, unit_cost FROM purchase_order_lines WHERE order_id = $1 ORDER BY sku_id`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("procurement: load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SKUID, &l.Quantity, &l.ReceivedQty, &l.UnitCost); err != nil {
			return nil, fmt.Errorf("procurement: scan line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	return &o, rows.Err()
}

// List pages through a tenant's orders without lines.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, status Status, p shared.Pagination) ([]Order, int, error) {
	where := "tenant_id = $1"
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM purchase_orders WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("procurement: count orders: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, tenant_id, supplier_ref, warehouse_id, status, notes, closed_at, created_at, updated_at
		FROM purchase_orders WHERE `+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, p.PerPage, p.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("procurement: list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.TenantID, &o.SupplierRef, &o.WarehouseID, &o.Status,
			&o.Notes, &o.ClosedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("procurement: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// ApplyReceipt updates received quantities and the order status inside the
// open transaction.
func (r *Repository) ApplyReceipt(ctx context.Context, tx pgx.Tx, o *Order, closedAt *time.Time) error {
	for _, line := range o.Lines {
		if _, err := tx.Exec(ctx,
			`UPDATE purchase_order_lines SET received_qty = $2 WHERE id = $1`,
			line.ID, line.ReceivedQty); err != nil {
			return fmt.Errorf("procurement: update line: %w", err)
		}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE purchase_orders SET status = $3, closed_at = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, o.TenantID, o.ID, o.Status, closedAt)
	if err != nil {
		return fmt.Errorf("procurement: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCancelled flips an order to CANCELLED.
func (r *Repository) MarkCancelled(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchase_orders SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, StatusCancelled)
	if err != nil {
		return fmt.Errorf("procurement: cancel order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
