package apikeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store defines persistence for API keys.
type Store interface {
	Create(ctx context.Context, k *Key) error
	FindByLookup(ctx context.Context, lookup string) (*Key, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]Key, error)
	Revoke(ctx context.Context, tenantID, id uuid.UUID) error
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new key record.
func (r *Repository) Create(ctx context.Context, k *Key) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, tenant_id, actor_id, name, lookup, secret_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at`,
		k.ID, k.TenantID, k.ActorID, k.Name, k.Lookup, k.SecretHash).Scan(&k.CreatedAt)
	if err != nil {
		return fmt.Errorf("apikeys: insert key: %w", err)
	}
	return nil
}

// FindByLookup fetches the active key for the lookup fragment. The fragment is
// indexed and unique, so the bcrypt comparison runs against a single row.
func (r *Repository) FindByLookup(ctx context.Context, lookup string) (*Key, error) {
	var k Key
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, actor_id, name, lookup, secret_hash, last_used_at, revoked_at, created_at
		FROM api_keys WHERE lookup = $1`, lookup).
		Scan(&k.ID, &k.TenantID, &k.ActorID, &k.Name, &k.Lookup, &k.SecretHash,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("apikeys: find key: %w", err)
	}
	return &k, nil
}

// List returns all keys for a tenant, newest first.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID) ([]Key, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, actor_id, name, lookup, last_used_at, revoked_at, created_at
		FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("apikeys: list keys: %w", err)
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ID, &k.TenantID, &k.ActorID, &k.Name, &k.Lookup,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("apikeys: scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Revoke marks a key revoked. Revocation is permanent.
func (r *Repository) Revoke(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND revoked_at IS NULL`, tenantID, id)
	if err != nil {
		return fmt.Errorf("apikeys: revoke key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUsed records key usage. Best effort; callers ignore failures.
func (r *Repository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

var _ Store = (*Repository)(nil)
