package cache

import (
	"context"

	"github.com/sonomandeep/deviceauth/domain"
)

// CredentialStore holds issued device credentials. Lookups by raw token serve
// request authentication and revocation; lookups by ID serve the idempotent
// redeem path, where a retried poll must receive the credential that was
// already issued for its request.
type CredentialStore interface {
	Set(ctx context.Context, cred *domain.Credential) error
	GetByToken(ctx context.Context, token string) (*domain.Credential, error)
	GetByID(ctx context.Context, id string) (*domain.Credential, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) error
	Count(ctx context.Context) int
	Close() error
}
