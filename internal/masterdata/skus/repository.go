package skus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/shared"
)

// Repository persists SKUs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const skuColumns = "id, tenant_id, code, barcode, name, description, uom, unit_cost, is_assembly, is_active, created_at, updated_at"

// Create inserts a new active SKU.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*SKU, error) {
	s := &SKU{
		ID:          uuid.New(),
		TenantID:    in.TenantID,
		Code:        in.Code,
		Barcode:     in.Barcode,
		Name:        in.Name,
		Description: in.Description,
		UOM:         in.UOM,
		UnitCost:    in.UnitCost,
		IsAssembly:  in.IsAssembly,
		IsActive:    true,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO skus (id, tenant_id, code, barcode, name, description, uom, unit_cost, is_assembly, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, TRUE, NOW(), NOW())
		RETURNING created_at, updated_at`,
		s.ID, s.TenantID, s.Code, s.Barcode, s.Name, s.Description, s.UOM, s.UnitCost, s.IsAssembly).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("skus: create: %w", err)
	}
	return s, nil
}

// Update applies the non-nil fields of in.
func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, in UpdateInput) (*SKU, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{tenantID, id}
	set := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if in.Name != nil {
		set("name = $%d", *in.Name)
	}
	if in.Description != nil {
		set("description = $%d", *in.Description)
	}
	if in.Barcode != nil {
		set("barcode = NULLIF($%d, '')", *in.Barcode)
	}
	if in.UnitCost != nil {
		set("unit_cost = $%d", *in.UnitCost)
	}
	if in.IsActive != nil {
		set("is_active = $%d", *in.IsActive)
	}

	query := "UPDATE skus SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE tenant_id = $1 AND id = $2 RETURNING " + skuColumns

	s, err := scanSKU(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("skus: update: %w", err)
	}
	return s, nil
}

// GetByID fetches one SKU for a tenant.
func (r *Repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*SKU, error) {
	s, err := scanSKU(r.pool.QueryRow(ctx,
		`SELECT `+skuColumns+` FROM skus WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("skus: get: %w", err)
	}
	return s, nil
}

// GetByCode fetches one SKU by its catalogue code.
func (r *Repository) GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*SKU, error) {
	s, err := scanSKU(r.pool.QueryRow(ctx,
		`SELECT `+skuColumns+` FROM skus WHERE tenant_id = $1 AND code = $2`, tenantID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("skus: get by code: %w", err)
	}
	return s, nil
}

// GetByBarcode resolves a scanned barcode, falling back to the catalogue code
// when no barcode matches. Scanner guns send whichever the label carries.
func (r *Repository) GetByBarcode(ctx context.Context, tenantID uuid.UUID, barcode string) (*SKU, error) {
	s, err := scanSKU(r.pool.QueryRow(ctx,
		`SELECT `+skuColumns+` FROM skus WHERE tenant_id = $1 AND (barcode = $2 OR code = $2) AND is_active
		 ORDER BY barcode = $2 DESC LIMIT 1`, tenantID, barcode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("skus: get by barcode: %w", err)
	}
	return s, nil
}

// List pages through the catalogue, optionally filtered by a search term over
// code and name.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, search string, p shared.Pagination) ([]SKU, int, error) {
	where := "tenant_id = $1"
	args := []any{tenantID}
	if search != "" {
		args = append(args, "%"+search+"%")
		where += fmt.Sprintf(" AND (code ILIKE $%d OR name ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM skus WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("skus: count: %w", err)
	}

	query := fmt.Sprintf("SELECT "+skuColumns+" FROM skus WHERE "+where+" ORDER BY code LIMIT $%d OFFSET $%d",
		len(args)+1, len(args)+2)
	args = append(args, p.PerPage, p.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("skus: list: %w", err)
	}
	defer rows.Close()

	var out []SKU
	for rows.Next() {
		s, err := scanSKU(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("skus: scan: %w", err)
		}
		out = append(out, *s)
	}
	return out, total, rows.Err()
}

// UnitCost returns the current cost of a SKU, used for COGS snapshots.
func (r *Repository) UnitCost(ctx context.Context, tenantID, id uuid.UUID) (decimal.Decimal, error) {
	var cost decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT unit_cost FROM skus WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("skus: unit cost: %w", err)
	}
	return cost, nil
}

// IsAssembly reports whether a SKU is flagged as an assembled product.
func (r *Repository) IsAssembly(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	var isAssembly bool
	err := r.pool.QueryRow(ctx,
		`SELECT is_assembly FROM skus WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&isAssembly)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("skus: is assembly: %w", err)
	}
	return isAssembly, nil
}

func scanSKU(row pgx.Row) (*SKU, error) {
	var (
		s       SKU
		barcode *string
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.Code, &barcode, &s.Name, &s.Description, &s.UOM,
		&s.UnitCost, &s.IsAssembly, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if barcode != nil {
		s.Barcode = *barcode
	}
	return &s, nil
}
