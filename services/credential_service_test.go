package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonomandeep/deviceauth/cache"
	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
)

func newCredentialFixture(t *testing.T) *CredentialService {
	t.Helper()

	store := cache.NewMemoryCredentialStore()
	t.Cleanup(func() { _ = store.Close() })

	return NewCredentialService(store, time.Hour)
}

func approvedAuthorization() *domain.DeviceAuthorization {
	return &domain.DeviceAuthorization{
		ID:         "auth-1",
		DeviceCode: "dev-1",
		UserCode:   "ABCD-EFGH",
		ClientID:   "devicectl",
		ClientMetadata: domain.ClientMetadata{
			Name:     "devicectl",
			Version:  "1.2.0",
			Hostname: "workstation",
		},
		Status: domain.DeviceAuthorizationStatusApproved,
		ApprovedBy: &domain.Approver{
			UserID: "user-1",
			Email:  "user@example.com",
			OrgID:  "org-1",
		},
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	}
}

func TestMintCarriesApproverAndClient(t *testing.T) {
	svc := newCredentialFixture(t)

	cred, err := svc.Mint(approvedAuthorization())
	require.NoError(t, err)

	assert.NotEmpty(t, cred.ID)
	assert.NotEmpty(t, cred.TokenValue)
	assert.Equal(t, "user-1", cred.UserID)
	assert.Equal(t, "org-1", cred.OrgID)
	assert.Equal(t, "devicectl", cred.ClientName)
	assert.Equal(t, "workstation", cred.Hostname)
	assert.Equal(t, "auth-1", cred.DeviceAuthorizationID)
	assert.Equal(t, "device", cred.Scope)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), cred.ExpiresAt, time.Minute)
}

func TestMintRequiresApprover(t *testing.T) {
	svc := newCredentialFixture(t)

	auth := approvedAuthorization()
	auth.ApprovedBy = nil

	_, err := svc.Mint(auth)
	assert.Error(t, err)
}

func TestMintedTokensAreUnique(t *testing.T) {
	svc := newCredentialFixture(t)

	a, err := svc.Mint(approvedAuthorization())
	require.NoError(t, err)
	b, err := svc.Mint(approvedAuthorization())
	require.NoError(t, err)

	assert.NotEqual(t, a.TokenValue, b.TokenValue)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestValidateRoundTrip(t *testing.T) {
	svc := newCredentialFixture(t)
	ctx := context.Background()

	cred, err := svc.Mint(approvedAuthorization())
	require.NoError(t, err)
	require.NoError(t, svc.Persist(ctx, cred))

	got, err := svc.Validate(ctx, cred.TokenValue)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)

	byID, err := svc.GetByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, cred.TokenValue, byID.TokenValue)
}

func TestValidateUnknownToken(t *testing.T) {
	svc := newCredentialFixture(t)

	_, err := svc.Validate(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, serrors.ErrCredentialNotFound)
}

func TestValidateExpiredCredential(t *testing.T) {
	svc := newCredentialFixture(t)
	ctx := context.Background()

	cred, err := svc.Mint(approvedAuthorization())
	require.NoError(t, err)
	require.NoError(t, svc.Persist(ctx, cred))

	svc.nowFunc = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	_, err = svc.Validate(ctx, cred.TokenValue)
	assert.ErrorIs(t, err, serrors.ErrCredentialExpired)
}

func TestRevoke(t *testing.T) {
	svc := newCredentialFixture(t)
	ctx := context.Background()

	cred, err := svc.Mint(approvedAuthorization())
	require.NoError(t, err)
	require.NoError(t, svc.Persist(ctx, cred))

	require.NoError(t, svc.Revoke(ctx, cred.TokenValue))

	_, err = svc.Validate(ctx, cred.TokenValue)
	assert.ErrorIs(t, err, serrors.ErrCredentialNotFound)

	// Revoking again reports the missing credential.
	err = svc.Revoke(ctx, cred.TokenValue)
	assert.ErrorIs(t, err, serrors.ErrCredentialNotFound)
}

func TestRemainingSeconds(t *testing.T) {
	svc := newCredentialFixture(t)

	cred, err := svc.Mint(approvedAuthorization())
	require.NoError(t, err)

	remaining := svc.RemainingSeconds(cred)
	assert.InDelta(t, 3600, remaining, 5)

	svc.nowFunc = func() time.Time { return cred.ExpiresAt.Add(time.Minute) }
	assert.Zero(t, svc.RemainingSeconds(cred))
}
