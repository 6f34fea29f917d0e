package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
	applog "github.com/sonomandeep/deviceauth/log"
	"github.com/sonomandeep/deviceauth/store"
)

func TestSweepMarksAndPurges(t *testing.T) {
	repo := store.NewMemoryAuthorizationStore()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := &domain.DeviceAuthorization{
		ID:         "auth-stale",
		DeviceCode: "dev-stale",
		UserCode:   "AAAA-BBBB",
		Status:     domain.DeviceAuthorizationStatusPending,
		ExpiresAt:  now.Add(-time.Minute),
		CreatedAt:  now.Add(-11 * time.Minute),
	}
	ancient := &domain.DeviceAuthorization{
		ID:         "auth-ancient",
		DeviceCode: "dev-ancient",
		UserCode:   "CCCC-DDDD",
		Status:     domain.DeviceAuthorizationStatusExpired,
		ExpiresAt:  now.Add(-48 * time.Hour),
		CreatedAt:  now.Add(-49 * time.Hour),
	}
	live := &domain.DeviceAuthorization{
		ID:         "auth-live",
		DeviceCode: "dev-live",
		UserCode:   "EEEE-FFFF",
		Status:     domain.DeviceAuthorizationStatusPending,
		ExpiresAt:  now.Add(10 * time.Minute),
		CreatedAt:  now,
	}
	for _, a := range []*domain.DeviceAuthorization{stale, ancient, live} {
		require.NoError(t, repo.Save(ctx, a))
	}

	sweeper := NewSweeper(repo, time.Minute, 24*time.Hour, applog.NewZerologAdapter(zerolog.Disabled, false))
	sweeper.Sweep(ctx)

	got, err := repo.GetByDeviceCode(ctx, "dev-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceAuthorizationStatusExpired, got.Status)

	_, err = repo.GetByDeviceCode(ctx, "dev-ancient")
	assert.ErrorIs(t, err, serrors.ErrDeviceCodeNotFound)

	got, err = repo.GetByDeviceCode(ctx, "dev-live")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceAuthorizationStatusPending, got.Status)
}

func TestSweepToleratesStoreErrors(t *testing.T) {
	repo := new(MockAuthorizationRepository)
	repo.On("MarkExpired", mock.Anything, mock.Anything).Return(int64(0), serrors.ErrStoreUnavailable)
	repo.On("PurgeExpiredBefore", mock.Anything, mock.Anything).Return(int64(0), serrors.ErrStoreUnavailable)

	sweeper := NewSweeper(repo, time.Minute, 24*time.Hour, applog.NewZerologAdapter(zerolog.Disabled, false))

	// Both failures are logged, neither panics nor aborts the pass.
	sweeper.Sweep(context.Background())
	repo.AssertExpectations(t)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	repo := store.NewMemoryAuthorizationStore()
	sweeper := NewSweeper(repo, 5*time.Millisecond, 24*time.Hour, applog.NewZerologAdapter(zerolog.Disabled, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
