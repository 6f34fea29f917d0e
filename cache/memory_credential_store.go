package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
)

// MemoryCredentialStore implements CredentialStore using ttlcache. Entries
// evict themselves at credential expiry; a secondary cache maps token hashes
// onto credential IDs for bearer-token lookups.
type MemoryCredentialStore struct {
	byID    *ttlcache.Cache[string, *domain.Credential]
	byToken *ttlcache.Cache[string, string]
}

// NewMemoryCredentialStore creates a new in-memory credential store with
// automatic cleanup.
//
//nolint:ireturn
func NewMemoryCredentialStore() CredentialStore {
	byID := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.Credential](),
	)
	byToken := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	// Start the cleanup processes
	go byID.Start()
	go byToken.Start()

	return &MemoryCredentialStore{
		byID:    byID,
		byToken: byToken,
	}
}

// Set implements CredentialStore.Set.
func (s *MemoryCredentialStore) Set(_ context.Context, cred *domain.Credential) error {
	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return serrors.ErrCredentialExpired
	}

	s.byID.Set(cred.ID, cred, ttl)
	s.byToken.Set(HashToken(cred.TokenValue), cred.ID, ttl)

	return nil
}

// GetByToken implements CredentialStore.GetByToken.
func (s *MemoryCredentialStore) GetByToken(ctx context.Context, token string) (*domain.Credential, error) {
	item := s.byToken.Get(HashToken(token))
	if item == nil {
		return nil, serrors.ErrCredentialNotFound
	}

	return s.GetByID(ctx, item.Value())
}

// GetByID implements CredentialStore.GetByID.
func (s *MemoryCredentialStore) GetByID(_ context.Context, id string) (*domain.Credential, error) {
	item := s.byID.Get(id)
	if item == nil {
		return nil, serrors.ErrCredentialNotFound
	}

	cred := item.Value()
	if cred.IsRevoked {
		return nil, serrors.ErrCredentialExpired
	}

	return cred, nil
}

// Delete removes a credential from the cache.
func (s *MemoryCredentialStore) Delete(_ context.Context, token string) error {
	hash := HashToken(token)
	if item := s.byToken.Get(hash); item != nil {
		s.byID.Delete(item.Value())
	}
	s.byToken.Delete(hash)

	return nil
}

// DeleteExpired removes all expired credentials from the cache.
func (s *MemoryCredentialStore) DeleteExpired(_ context.Context) error {
	// ttlcache handles expiration automatically
	s.byID.DeleteExpired()
	s.byToken.DeleteExpired()

	return nil
}

// Count counts the number of credentials in the cache.
func (s *MemoryCredentialStore) Count(_ context.Context) int {
	return s.byID.Len()
}

// Close stops the cleanup goroutines.
func (s *MemoryCredentialStore) Close() error {
	s.byID.Stop()
	s.byToken.Stop()

	return nil
}
