package apikeys

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	keys map[string]*Key
}

func newMemoryStore() *memoryStore { return &memoryStore{keys: map[string]*Key{}} }

func (m *memoryStore) Create(ctx context.Context, k *Key) error {
	k.CreatedAt = time.Now().UTC()
	cp := *k
	m.keys[k.Lookup] = &cp
	return nil
}

func (m *memoryStore) FindByLookup(ctx context.Context, lookup string) (*Key, error) {
	k, ok := m.keys[lookup]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memoryStore) List(ctx context.Context, tenantID uuid.UUID) ([]Key, error) {
	var out []Key
	for _, k := range m.keys {
		if k.TenantID == tenantID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (m *memoryStore) Revoke(ctx context.Context, tenantID, id uuid.UUID) error {
	for _, k := range m.keys {
		if k.TenantID == tenantID && k.ID == id && k.RevokedAt == nil {
			now := time.Now().UTC()
			k.RevokedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (m *memoryStore) TouchLastUsed(ctx context.Context, id uuid.UUID) error { return nil }

func newTestService() (*Service, *memoryStore) {
	store := newMemoryStore()
	return NewService(store, slog.New(slog.DiscardHandler)), store
}

func TestIssueAndVerifyRoundtrip(t *testing.T) {
	svc, _ := newTestService()
	tenant, actor := uuid.New(), uuid.New()

	issued, err := svc.Issue(context.Background(), tenant, actor, "scanner-dock-3")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(issued.Plaintext, KeyPrefix))
	require.NotContains(t, issued.SecretHash, issued.Plaintext)

	k, err := svc.Verify(context.Background(), issued.Plaintext)
	require.NoError(t, err)
	require.Equal(t, tenant, k.TenantID)
	require.Equal(t, actor, k.ActorID)
}

func TestVerifyRejectsTamperedKey(t *testing.T) {
	svc, _ := newTestService()
	issued, err := svc.Issue(context.Background(), uuid.New(), uuid.New(), "k")
	require.NoError(t, err)

	flipped := issued.Plaintext[:len(issued.Plaintext)-1] + flip(issued.Plaintext[len(issued.Plaintext)-1])
	_, err = svc.Verify(context.Background(), flipped)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func flip(b byte) string {
	if b == 'a' {
		return "b"
	}
	return "a"
}

func TestVerifyRejectsMalformedKeys(t *testing.T) {
	svc, _ := newTestService()
	for _, presented := range []string{"", "nxs_", "nxs_short", "wrongprefix_0123456789abcdef0123456789abcdef"} {
		_, err := svc.Verify(context.Background(), presented)
		require.ErrorIs(t, err, ErrInvalidKey, presented)
	}
}

func TestVerifyRejectsRevokedKey(t *testing.T) {
	svc, _ := newTestService()
	tenant := uuid.New()
	issued, err := svc.Issue(context.Background(), tenant, uuid.New(), "k")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), tenant, issued.ID))
	_, err = svc.Verify(context.Background(), issued.Plaintext)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestRevokeUnknownKey(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Revoke(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
