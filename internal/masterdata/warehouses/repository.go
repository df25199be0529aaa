package warehouses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists warehouses and locations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const warehouseColumns = "id, tenant_id, code, name, address, is_active, created_at, updated_at"

// Create inserts a new active warehouse.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*Warehouse, error) {
	w := &Warehouse{
		ID:       uuid.New(),
		TenantID: in.TenantID,
		Code:     in.Code,
		Name:     in.Name,
		Address:  in.Address,
		IsActive: true,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO warehouses (id, tenant_id, code, name, address, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		RETURNING created_at, updated_at`,
		w.ID, w.TenantID, w.Code, w.Name, w.Address).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateCode
		}
		return nil, fmt.Errorf("warehouses: create: %w", err)
	}
	return w, nil
}

// GetByID fetches one warehouse for a tenant.
func (r *Repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Warehouse, error) {
	var w Warehouse
	err := r.pool.QueryRow(ctx,
		`SELECT `+warehouseColumns+` FROM warehouses WHERE tenant_id = $1 AND id = $2`,
		tenantID, id).Scan(&w.ID, &w.TenantID, &w.Code, &w.Name, &w.Address, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("warehouses: get: %w", err)
	}
	return &w, nil
}

// List returns all warehouses for a tenant, active first.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+warehouseColumns+` FROM warehouses WHERE tenant_id = $1 ORDER BY is_active DESC, code`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("warehouses: list: %w", err)
	}
	defer rows.Close()

	var out []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Code, &w.Name, &w.Address, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("warehouses: scan: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SetActive toggles a warehouse. Deactivation blocks new events but leaves the
// historical ledger untouched.
func (r *Repository) SetActive(ctx context.Context, tenantID, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE warehouses SET is_active = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, active)
	if err != nil {
		return fmt.Errorf("warehouses: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveExists reports whether the warehouse exists and is active for the
// tenant. The ledger calls this before every append.
func (r *Repository) ActiveExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM warehouses WHERE tenant_id = $1 AND id = $2 AND is_active)`,
		tenantID, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("warehouses: active exists: %w", err)
	}
	return exists, nil
}

// CreateLocation adds a bin or shelf inside a warehouse.
func (r *Repository) CreateLocation(ctx context.Context, tenantID, warehouseID uuid.UUID, code, description string) (*Location, error) {
	loc := &Location{
		ID:          uuid.New(),
		TenantID:    tenantID,
		WarehouseID: warehouseID,
		Code:        code,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO warehouse_locations (id, tenant_id, warehouse_id, code, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		loc.ID, loc.TenantID, loc.WarehouseID, loc.Code, loc.Description, loc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return nil, ErrDuplicateCode
			case "23503":
				return nil, ErrNotFound
			}
		}
		return nil, fmt.Errorf("warehouses: create location: %w", err)
	}
	return loc, nil
}

// ListLocations returns the locations of one warehouse.
func (r *Repository) ListLocations(ctx context.Context, tenantID, warehouseID uuid.UUID) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, warehouse_id, code, description, created_at
		FROM warehouse_locations
		WHERE tenant_id = $1 AND warehouse_id = $2
		ORDER BY code`, tenantID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("warehouses: list locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.TenantID, &l.WarehouseID, &l.Code, &l.Description, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("warehouses: scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
