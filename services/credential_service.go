package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sonomandeep/deviceauth/cache"
	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
)

const credentialTokenBytes = 32

// CredentialService mints and validates the API credentials handed to agents
// after a successful device authorization. Tokens are opaque bearer values;
// validation is a store lookup by token hash, revocation deletes the entry
// ("sign out this device").
type CredentialService struct {
	store cache.CredentialStore
	ttl   time.Duration

	nowFunc func() time.Time
}

// NewCredentialService creates a CredentialService issuing credentials with
// the given lifetime.
func NewCredentialService(store cache.CredentialStore, ttl time.Duration) *CredentialService {
	return &CredentialService{
		store:   store,
		ttl:     ttl,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Mint builds a credential for the approver of the given request without
// persisting it. The caller claims the authorization record with the
// credential ID first, then calls Persist, so the record and the credential
// can never reference each other half-way.
func (s *CredentialService) Mint(auth *domain.DeviceAuthorization) (*domain.Credential, error) {
	if auth.ApprovedBy == nil {
		return nil, serrors.ErrCannotClaim
	}

	b := make([]byte, credentialTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate credential token: %w", err)
	}

	now := s.nowFunc()

	return &domain.Credential{
		ID:                    uuid.NewString(),
		TokenValue:            base64.RawURLEncoding.EncodeToString(b),
		UserID:                auth.ApprovedBy.UserID,
		OrgID:                 auth.ApprovedBy.OrgID,
		ClientID:              auth.ClientID,
		ClientName:            auth.ClientMetadata.Name,
		ClientVersion:         auth.ClientMetadata.Version,
		Hostname:              auth.ClientMetadata.Hostname,
		Scope:                 "device",
		DeviceAuthorizationID: auth.ID,
		ExpiresAt:             now.Add(s.ttl),
		CreatedAt:             now,
	}, nil
}

// Persist stores a minted credential.
func (s *CredentialService) Persist(ctx context.Context, cred *domain.Credential) error {
	if err := s.store.Set(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	return nil
}

// GetByID returns a previously issued credential, used to answer retried
// polls with the identical token.
func (s *CredentialService) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	cred, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.nowFunc().Before(cred.ExpiresAt) {
		return nil, serrors.ErrCredentialExpired
	}

	return cred, nil
}

// Validate resolves a raw bearer token to its credential.
func (s *CredentialService) Validate(ctx context.Context, token string) (*domain.Credential, error) {
	cred, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if !s.nowFunc().Before(cred.ExpiresAt) {
		return nil, serrors.ErrCredentialExpired
	}

	return cred, nil
}

// Revoke invalidates a credential by its raw token value.
func (s *CredentialService) Revoke(ctx context.Context, token string) error {
	if _, err := s.store.GetByToken(ctx, token); err != nil {
		return err
	}

	return s.store.Delete(ctx, token)
}

// RemainingSeconds returns the credential lifetime left at the current
// instant, for expires_in fields.
func (s *CredentialService) RemainingSeconds(cred *domain.Credential) int {
	remaining := cred.ExpiresAt.Sub(s.nowFunc())
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds())
}
