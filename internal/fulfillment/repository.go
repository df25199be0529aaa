package fulfillment

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

// Repository persists sales orders and their lines.
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
		return fmt.Errorf("fulfillment: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO sales_orders (id, tenant_id, customer_ref, warehouse_id, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`,
		o.ID, o.TenantID, o.CustomerRef, o.WarehouseID, o.Status, o.Notes).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("fulfillment: insert order: %w", err)
	}
	for _, line := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sales_order_lines (id, order_id, sku_id, quantity, fulfilled_qty)
			VALUES ($1, $2, $3, $4, 0)`,
			line.ID, o.ID, line.SKUID, line.Quantity); err != nil {
			return fmt.Errorf("fulfillment: insert line: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("fulfillment: commit: %w", err)
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
	query := `SELECT id, tenant_id, customer_ref, warehouse_id, status, notes, allocated_at, shipped_at, created_at, updated_at
		FROM sales_orders WHERE tenant_id = $1 AND id = $2`
	if lock {
		query += " FOR UPDATE"
	}
	var o Order
	err := q.QueryRow(ctx, query, tenantID, id).Scan(&o.ID, &o.TenantID, &o.CustomerRef,
		&o.WarehouseID, &o.Status, &o.Notes, &o.AllocatedAt, &o.ShippedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fulfillment: get order: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, sku_id, quantity, fulfilled_qty FROM sales_order_lines WHERE order_id = $1 ORDER BY sku_id`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("fulfillment: load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SKUID, &l.Quantity, &l.FulfilledQty); err != nil {
			return nil, fmt.Errorf("fulfillment: scan line: %w", err)
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
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sales_orders WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("fulfillment: count orders: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, tenant_id, customer_ref, warehouse_id, status, notes, allocated_at, shipped_at, created_at, updated_at
		FROM sales_orders WHERE `+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, p.PerPage, p.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("fulfillment: list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.TenantID, &o.CustomerRef, &o.WarehouseID, &o.Status,
			&o.Notes, &o.AllocatedAt, &o.ShippedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("fulfillment: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// MarkAllocated flips the order to PROCESSING inside the open transaction.
func (r *Repository) MarkAllocated(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, tx, `
		UPDATE sales_orders SET status = $3, allocated_at = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, StatusProcessing, at)
}

// MarkShipped flips the order to SHIPPED and records full fulfilment on every
// line, inside the open transaction.
func (r *Repository) MarkShipped(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, at time.Time) error {
	if _, err := tx.Exec(ctx,
		`UPDATE sales_order_lines SET fulfilled_qty = quantity WHERE order_id = $1`, id); err != nil {
		return fmt.Errorf("fulfillment: mark lines fulfilled: %w", err)
	}
	return r.exec(ctx, tx, `
		UPDATE sales_orders SET status = $3, shipped_at = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, StatusShipped, at)
}

// MarkCancelled flips the order to CANCELLED inside the open transaction.
func (r *Repository) MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error {
	return r.exec(ctx, tx, `
		UPDATE sales_orders SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, StatusCancelled)
}

func (r *Repository) exec(ctx context.Context, tx pgx.Tx, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("fulfillment: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
