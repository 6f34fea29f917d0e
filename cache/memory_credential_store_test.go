package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
)

func newTestCredential(id, token string, ttl time.Duration) *domain.Credential {
	now := time.Now().UTC()
	return &domain.Credential{
		ID:         id,
		TokenValue: token,
		UserID:     "user-1",
		OrgID:      "org-1",
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
}

func TestMemoryCredentialStoreRoundTrip(t *testing.T) {
	store := NewMemoryCredentialStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	cred := newTestCredential("cred-1", "token-1", time.Hour)
	require.NoError(t, store.Set(ctx, cred))

	byToken, err := store.GetByToken(ctx, "token-1")
	require.NoError(t, err)
	assert.Equal(t, "cred-1", byToken.ID)

	byID, err := store.GetByID(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "token-1", byID.TokenValue)

	assert.Equal(t, 1, store.Count(ctx))
}

func TestMemoryCredentialStoreRejectsExpired(t *testing.T) {
	store := NewMemoryCredentialStore()
	t.Cleanup(func() { _ = store.Close() })

	err := store.Set(context.Background(), newTestCredential("cred-1", "token-1", -time.Minute))
	assert.ErrorIs(t, err, serrors.ErrCredentialExpired)
}

func TestMemoryCredentialStoreUnknownLookups(t *testing.T) {
	store := NewMemoryCredentialStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	_, err := store.GetByToken(ctx, "nope")
	assert.ErrorIs(t, err, serrors.ErrCredentialNotFound)

	_, err = store.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, serrors.ErrCredentialNotFound)
}

func TestMemoryCredentialStoreDelete(t *testing.T) {
	store := NewMemoryCredentialStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, newTestCredential("cred-1", "token-1", time.Hour)))
	require.NoError(t, store.Delete(ctx, "token-1"))

	_, err := store.GetByToken(ctx, "token-1")
	assert.ErrorIs(t, err, serrors.ErrCredentialNotFound)

	// Both indexes are cleaned up.
	_, err = store.GetByID(ctx, "cred-1")
	assert.ErrorIs(t, err, serrors.ErrCredentialNotFound)
	assert.Zero(t, store.Count(ctx))
}

func TestMemoryCredentialStoreRevokedFlag(t *testing.T) {
	store := NewMemoryCredentialStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	cred := newTestCredential("cred-1", "token-1", time.Hour)
	cred.IsRevoked = true
	require.NoError(t, store.Set(ctx, cred))

	_, err := store.GetByID(ctx, "cred-1")
	assert.ErrorIs(t, err, serrors.ErrCredentialExpired)
}

func TestHashTokenIsStableAndOpaque(t *testing.T) {
	a := HashToken("token-1")
	b := HashToken("token-1")
	c := HashToken("token-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "token-1")
	assert.Len(t, a, 64) // sha256 hex
}
