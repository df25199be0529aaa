// Package apikeys issues and verifies the per-tenant API keys that
// authenticate ledger clients and warehouse scanner devices.
package apikeys

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix marks every issued key so leaked keys are greppable.
const KeyPrefix = "nxs_"

// Key is an issued API key. SecretHash never leaves the service.
type Key struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	ActorID    uuid.UUID  `json:"actor_id"`
	Name       string     `json:"name"`
	Lookup     string     `json:"-"`
	SecretHash string     `json:"-"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Revoked reports whether the key has been revoked.
func (k *Key) Revoked() bool {
	return k.RevokedAt != nil
}

// IssuedKey pairs the stored record with the plaintext key. The plaintext is
// returned exactly once at creation.
type IssuedKey struct {
	Key
	Plaintext string `json:"key"`
}

var (
	// ErrInvalidKey covers malformed, unknown and revoked keys alike so
	// callers cannot probe which one it was.
	ErrInvalidKey = errors.New("apikeys: invalid api key")
	// ErrNotFound indicates the key record does not exist for the tenant.
	ErrNotFound = errors.New("apikeys: key not found")
)
