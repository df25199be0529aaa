package bom

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexus-ims/nexus/internal/platform/db"
)

// Repository persists BOM versions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateVersion inserts a new BOM version and deactivates the previous active
// one in the same transaction.
func (r *Repository) CreateVersion(ctx context.Context, in CreateInput) (*BOM, error) {
	b := &BOM{
		ID:            uuid.New(),
		TenantID:      in.TenantID,
		AssemblySKUID: in.AssemblySKUID,
		IsActive:      true,
		Notes:         in.Notes,
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE boms SET is_active = FALSE WHERE tenant_id = $1 AND assembly_sku_id = $2 AND is_active`,
			in.TenantID, in.AssemblySKUID); err != nil {
			return fmt.Errorf("bom: deactivate previous: %w", err)
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO boms (id, tenant_id, assembly_sku_id, version, is_active, notes, created_at)
			VALUES ($1, $2, $3,
				(SELECT COALESCE(MAX(version), 0) + 1 FROM boms WHERE tenant_id = $2 AND assembly_sku_id = $3),
				TRUE, $4, NOW())
			RETURNING version, created_at`,
			b.ID, b.TenantID, b.AssemblySKUID, b.Notes).Scan(&b.Version, &b.CreatedAt)
		if err != nil {
			return fmt.Errorf("bom: insert version: %w", err)
		}
		for _, line := range in.Lines {
			l := Line{ID: uuid.New(), ComponentSKUID: line.ComponentSKUID, Quantity: line.Quantity}
			if _, err := tx.Exec(ctx, `
				INSERT INTO bom_lines (id, bom_id, component_sku_id, quantity)
				VALUES ($1, $2, $3, $4)`,
				l.ID, b.ID, l.ComponentSKUID, l.Quantity); err != nil {
				return fmt.Errorf("bom: insert line: %w", err)
			}
			b.Lines = append(b.Lines, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetActive returns the active BOM version for an assembly SKU, with lines.
func (r *Repository) GetActive(ctx context.Context, tenantID, assemblySKUID uuid.UUID) (*BOM, error) {
	b, err := r.getBy(ctx,
		`SELECT id, tenant_id, assembly_sku_id, version, is_active, notes, created_at
		 FROM boms WHERE tenant_id = $1 AND assembly_sku_id = $2 AND is_active`,
		tenantID, assemblySKUID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveBOM
	}
	return b, err
}

// GetByID returns one BOM version for a tenant, with lines.
func (r *Repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*BOM, error) {
	return r.getBy(ctx,
		`SELECT id, tenant_id, assembly_sku_id, version, is_active, notes, created_at
		 FROM boms WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
}

func (r *Repository) getBy(ctx context.Context, query string, args ...any) (*BOM, error) {
	var b BOM
	err := r.pool.QueryRow(ctx, query, args...).
		Scan(&b.ID, &b.TenantID, &b.AssemblySKUID, &b.Version, &b.IsActive, &b.Notes, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bom: get: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, component_sku_id, quantity FROM bom_lines WHERE bom_id = $1 ORDER BY component_sku_id`, b.ID)
	if err != nil {
		return nil, fmt.Errorf("bom: load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.ComponentSKUID, &l.Quantity); err != nil {
			return nil, fmt.Errorf("bom: scan line: %w", err)
		}
		b.Lines = append(b.Lines, l)
	}
	return &b, rows.Err()
}

// ListVersions returns all versions for an assembly SKU, newest first, without
// lines.
func (r *Repository) ListVersions(ctx context.Context, tenantID, assemblySKUID uuid.UUID) ([]BOM, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, assembly_sku_id, version, is_active, notes, created_at
		 FROM boms WHERE tenant_id = $1 AND assembly_sku_id = $2 ORDER BY version DESC`,
		tenantID, assemblySKUID)
	if err != nil {
		return nil, fmt.Errorf("bom: list versions: %w", err)
	}
	defer rows.Close()

	var out []BOM
	for rows.Next() {
		var b BOM
		if err := rows.Scan(&b.ID, &b.TenantID, &b.AssemblySKUID, &b.Version, &b.IsActive, &b.Notes, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("bom: scan version: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ReachesComponent walks active BOMs downward from start and reports whether
// target appears anywhere in the component tree. Used to reject circular
// recipes before a new version is written.
func (r *Repository) ReachesComponent(ctx context.Context, tenantID, start, target uuid.UUID) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx, `
		WITH RECURSIVE tree AS (
			SELECT bl.component_sku_id
			FROM boms b
			JOIN bom_lines bl ON bl.bom_id = b.id
			WHERE b.tenant_id = $1 AND b.assembly_sku_id = $2 AND b.is_active
			UNION
			SELECT bl.component_sku_id
			FROM tree t
			JOIN boms b ON b.tenant_id = $1 AND b.assembly_sku_id = t.component_sku_id AND b.is_active
			JOIN bom_lines bl ON bl.bom_id = b.id
		)
		SELECT EXISTS (SELECT 1 FROM tree WHERE component_sku_id = $3)`,
		tenantID, start, target).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("bom: reaches component: %w", err)
	}
	return found, nil
}
