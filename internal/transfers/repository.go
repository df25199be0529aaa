package transfers

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

// Repository persists transfer orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateInTx inserts the order and lines inside the open ledger transaction so
// the TRANSFER_OUT events and the order row commit together.
func (r *Repository) CreateInTx(ctx context.Context, tx pgx.Tx, o *Order) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO transfer_orders
			(id, tenant_id, source_warehouse_id, dest_warehouse_id, status, notes, dispatched_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at`,
		o.ID, o.TenantID, o.SourceWarehouseID, o.DestWarehouseID, o.Status, o.Notes, o.DispatchedAt).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("transfers: insert order: %w", err)
	}
	for _, line := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO transfer_order_lines (id, order_id, sku_id, quantity, received_qty)
			VALUES ($1, $2, $3, $4, 0)`,
			line.ID, o.ID, line.SKUID, line.Quantity); err != nil {
			return fmt.Errorf("transfers: insert line: %w", err)
		}
	}
	return nil
}

// GetByID fetches one transfer with lines.
func (r *Repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error) {
	return r.get(ctx, r.pool, tenantID, id, false)
}

// GetForUpdate locks and fetches one transfer inside the open transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*Order, error) {
	return r.get(ctx, tx, tenantID, id, true)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) get(ctx context.Context, q querier, tenantID, id uuid.UUID, lock bool) (*Order, error) {
	query := `SELECT id, tenant_id, source_warehouse_id, dest_warehouse_id, status, notes,
		dispatched_at, confirmed_at, created_at, updated_at
		FROM transfer_orders WHERE tenant_id = $1 AND id = $2`
	if lock {
		query += " FOR UPDATE"
	}
	var o Order
	err := q.QueryRow(ctx, query, tenantID, id).Scan(&o.ID, &o.TenantID, &o.SourceWarehouseID,
		&o.DestWarehouseID, &o.Status, &o.Notes, &o.DispatchedAt, &o.ConfirmedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transfers: get order: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, sku_id, quantity, received_qty FROM transfer_order_lines WHERE order_id = $1 ORDER BY sku_id`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("transfers: load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SKUID, &l.Quantity, &l.ReceivedQty); err != nil {
			return nil, fmt.Errorf("transfers: scan line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	return &o, rows.Err()
}

// List pages through a tenant's transfers without lines.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, status Status, p shared.Pagination) ([]Order, int, error) {
	where := "tenant_id = $1"
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transfer_orders WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("transfers: count orders: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, tenant_id, source_warehouse_id, dest_warehouse_id, status, notes,
		dispatched_at, confirmed_at, created_at, updated_at
		FROM transfer_orders WHERE `+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, p.PerPage, p.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("transfers: list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.TenantID, &o.SourceWarehouseID, &o.DestWarehouseID, &o.Status,
			&o.Notes, &o.DispatchedAt, &o.ConfirmedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("transfers: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// MarkConfirmed records per-line receipts and completes the transfer inside
// the open transaction.
func (r *Repository) MarkConfirmed(ctx context.Context, tx pgx.Tx, o *Order, at time.Time) error {
	for _, line := range o.Lines {
		if _, err := tx.Exec(ctx,
			`UPDATE transfer_order_lines SET received_qty = $2 WHERE id = $1`,
			line.ID, line.ReceivedQty); err != nil {
			return fmt.Errorf("transfers: update line: %w", err)
		}
	}
	return r.exec(ctx, tx, `
		UPDATE transfer_orders SET status = $3, confirmed_at = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, o.TenantID, o.ID, StatusCompleted, at)
}

// MarkCancelled flips the transfer to CANCELLED inside the open transaction.
func (r *Repository) MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error {
	return r.exec(ctx, tx, `
		UPDATE transfer_orders SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, StatusCancelled)
}

func (r *Repository) exec(ctx context.Context, tx pgx.Tx, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transfers: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
