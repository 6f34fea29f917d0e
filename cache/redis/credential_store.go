// Package redis implements the credential store on Redis, for deployments
// where issued credentials must survive a server restart and be shared
// between replicas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sonomandeep/deviceauth/cache"
	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
)

// CredentialStore implements the cache.CredentialStore interface using Redis.
type CredentialStore struct {
	client *redis.Client
	prefix string // Optional prefix for keys
}

// NewCredentialStore creates a new [CredentialStore] instance.
func NewCredentialStore(client *redis.Client, prefix string) *CredentialStore {
	return &CredentialStore{
		client: client,
		prefix: prefix,
	}
}

func (r *CredentialStore) idKey(id string) string {
	return fmt.Sprintf("%s:cred:id:%s", r.prefix, id)
}

func (r *CredentialStore) tokenKey(tokenHash string) string {
	return fmt.Sprintf("%s:cred:tok:%s", r.prefix, tokenHash)
}

// Set stores a credential as a JSON blob keyed by ID, plus a token-hash index
// pointing at the ID. Both keys expire with the credential.
func (r *CredentialStore) Set(ctx context.Context, cred *domain.Credential) error {
	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return serrors.ErrCredentialExpired
	}

	blob, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	if err := r.client.Set(ctx, r.idKey(cred.ID), blob, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set credential in Redis: %w", err)
	}

	if err := r.client.Set(ctx, r.tokenKey(cache.HashToken(cred.TokenValue)), cred.ID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set credential token index in Redis: %w", err)
	}

	return nil
}

// GetByToken implements cache.CredentialStore.
func (r *CredentialStore) GetByToken(ctx context.Context, token string) (*domain.Credential, error) {
	id, err := r.client.Get(ctx, r.tokenKey(cache.HashToken(token))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, serrors.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential token index from Redis: %w", err)
	}

	return r.GetByID(ctx, id)
}

// GetByID implements cache.CredentialStore.
func (r *CredentialStore) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	blob, err := r.client.Get(ctx, r.idKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, serrors.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential from Redis: %w", err)
	}

	var cred domain.Credential
	if err := json.Unmarshal(blob, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	if cred.IsRevoked {
		return nil, serrors.ErrCredentialExpired
	}

	return &cred, nil
}

// Delete removes a credential and its token index.
func (r *CredentialStore) Delete(ctx context.Context, token string) error {
	tokenKey := r.tokenKey(cache.HashToken(token))

	id, err := r.client.Get(ctx, tokenKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get credential token index from Redis: %w", err)
	}

	keys := []string{tokenKey}
	if id != "" {
		keys = append(keys, r.idKey(id))
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete credential from Redis: %w", err)
	}

	return nil
}

// DeleteExpired is a no-op: Redis evicts expired keys itself.
func (r *CredentialStore) DeleteExpired(_ context.Context) error {
	return nil
}

// Count returns the number of stored credentials.
func (r *CredentialStore) Count(ctx context.Context) int {
	var count int

	iter := r.client.Scan(ctx, 0, r.idKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		count++
	}

	return count
}

// Close closes the underlying Redis client.
func (r *CredentialStore) Close() error {
	return r.client.Close()
}
