package apikeys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// lookupLen is the number of token characters stored in clear for indexed
// lookup. The remainder is only ever stored as a bcrypt hash.
const lookupLen = 12

// Service issues and verifies API keys.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService constructs the service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Issue mints a new key for the tenant. The plaintext in the result is shown
// once and cannot be recovered later.
func (s *Service) Issue(ctx context.Context, tenantID, actorID uuid.UUID, name string) (*IssuedKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("apikeys: generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(token[lookupLen:]), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("apikeys: hash token: %w", err)
	}

	k := &Key{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ActorID:    actorID,
		Name:       name,
		Lookup:     token[:lookupLen],
		SecretHash: string(hash),
	}
	if err := s.store.Create(ctx, k); err != nil {
		return nil, err
	}
	return &IssuedKey{Key: *k, Plaintext: KeyPrefix + token}, nil
}

// Verify resolves a presented key to its record. Malformed, unknown and
// revoked keys all come back as ErrInvalidKey.
func (s *Service) Verify(ctx context.Context, presented string) (*Key, error) {
	token, ok := strings.CutPrefix(presented, KeyPrefix)
	if !ok || len(token) <= lookupLen {
		return nil, ErrInvalidKey
	}
	k, err := s.store.FindByLookup(ctx, token[:lookupLen])
	if err != nil {
		return nil, ErrInvalidKey
	}
	if k.Revoked() {
		return nil, ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(token[lookupLen:])); err != nil {
		return nil, ErrInvalidKey
	}
	if err := s.store.TouchLastUsed(ctx, k.ID); err != nil {
		s.logger.Warn("touch last_used failed", "key_id", k.ID, "error", err)
	}
	return k, nil
}

// List returns the tenant's keys without secrets.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]Key, error) {
	return s.store.List(ctx, tenantID)
}

// Revoke permanently disables a key.
func (s *Service) Revoke(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.store.Revoke(ctx, tenantID, id)
}
