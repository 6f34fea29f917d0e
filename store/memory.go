// Package store provides the in-memory authorization store used in dev mode
// and tests. It implements the same guarded conditional updates as the
// MongoDB repository, with a mutex standing in for FindOneAndUpdate.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
)

// MemoryAuthorizationStore keeps authorization records in process memory,
// keyed by device code with a secondary user-code index. All transitions run
// under one lock, which makes every update trivially atomic.
type MemoryAuthorizationStore struct {
	mu         sync.Mutex
	byDevice   map[string]*domain.DeviceAuthorization
	byUserCode map[string]string // user code -> device code of the most recent record

	nowFunc func() time.Time
}

// NewMemoryAuthorizationStore creates an empty in-memory store.
func NewMemoryAuthorizationStore() *MemoryAuthorizationStore {
	return &MemoryAuthorizationStore{
		byDevice:   make(map[string]*domain.DeviceAuthorization),
		byUserCode: make(map[string]string),
		nowFunc:    func() time.Time { return time.Now().UTC() },
	}
}

func clone(auth *domain.DeviceAuthorization) *domain.DeviceAuthorization {
	cp := *auth
	if auth.ApprovedBy != nil {
		by := *auth.ApprovedBy
		cp.ApprovedBy = &by
	}
	return &cp
}

// Save implements domain.AuthorizationRepository.
func (s *MemoryAuthorizationStore) Save(_ context.Context, auth *domain.DeviceAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deviceCode, ok := s.byUserCode[auth.UserCode]; ok {
		if existing, ok := s.byDevice[deviceCode]; ok &&
			existing.Status == domain.DeviceAuthorizationStatusPending &&
			!existing.ExpiredAt(s.nowFunc()) {
			return serrors.ErrUserCodeAlreadyExists
		}
	}

	if auth.ID == "" {
		auth.ID = uuid.NewString()
	}
	if auth.CreatedAt.IsZero() {
		auth.CreatedAt = s.nowFunc()
	}

	s.byDevice[auth.DeviceCode] = clone(auth)
	s.byUserCode[auth.UserCode] = auth.DeviceCode

	return nil
}

// GetByDeviceCode implements domain.AuthorizationRepository.
func (s *MemoryAuthorizationStore) GetByDeviceCode(_ context.Context, deviceCode string) (*domain.DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.byDevice[deviceCode]
	if !ok {
		return nil, serrors.ErrDeviceCodeNotFound
	}

	return clone(auth), nil
}

// GetByUserCode implements domain.AuthorizationRepository.
func (s *MemoryAuthorizationStore) GetByUserCode(_ context.Context, userCode string) (*domain.DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.lookupByUserCode(userCode)
	if err != nil {
		return nil, err
	}

	return clone(auth), nil
}

func (s *MemoryAuthorizationStore) lookupByUserCode(userCode string) (*domain.DeviceAuthorization, error) {
	deviceCode, ok := s.byUserCode[userCode]
	if !ok {
		return nil, serrors.ErrUserCodeNotFound
	}

	auth, ok := s.byDevice[deviceCode]
	if !ok {
		return nil, serrors.ErrUserCodeNotFound
	}

	return auth, nil
}

// Approve implements the guarded pending -> approved transition.
func (s *MemoryAuthorizationStore) Approve(_ context.Context, userCode string, by domain.Approver) (*domain.DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.lookupByUserCode(userCode)
	if err != nil {
		return nil, err
	}

	if auth.Status != domain.DeviceAuthorizationStatusPending || auth.ExpiredAt(s.nowFunc()) {
		return nil, serrors.ErrCannotApprove
	}

	auth.Status = domain.DeviceAuthorizationStatusApproved
	approver := by
	auth.ApprovedBy = &approver

	return clone(auth), nil
}

// Deny implements the guarded pending -> denied transition.
func (s *MemoryAuthorizationStore) Deny(_ context.Context, userCode string) (*domain.DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.lookupByUserCode(userCode)
	if err != nil {
		return nil, err
	}

	if auth.Status != domain.DeviceAuthorizationStatusPending || auth.ExpiredAt(s.nowFunc()) {
		return nil, serrors.ErrCannotApprove
	}

	auth.Status = domain.DeviceAuthorizationStatusDenied

	return clone(auth), nil
}

// RecordPoll implements domain.AuthorizationRepository.
func (s *MemoryAuthorizationStore) RecordPoll(_ context.Context, deviceCode string, polledAt time.Time, newInterval int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.byDevice[deviceCode]
	if !ok {
		return serrors.ErrDeviceCodeNotFound
	}

	auth.LastPolledAt = polledAt
	if newInterval > 0 {
		auth.Interval = newInterval
	}

	return nil
}

// Claim implements the guarded approved -> consumed transition. The credential
// ID is write-once: a record that already carries one cannot be claimed again.
func (s *MemoryAuthorizationStore) Claim(_ context.Context, deviceCode, credentialID string) (*domain.DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.byDevice[deviceCode]
	if !ok {
		return nil, serrors.ErrDeviceCodeNotFound
	}

	if auth.Status != domain.DeviceAuthorizationStatusApproved || auth.IssuedCredentialID != "" {
		return nil, serrors.ErrCannotClaim
	}

	auth.Status = domain.DeviceAuthorizationStatusConsumed
	auth.IssuedCredentialID = credentialID

	return clone(auth), nil
}

// Expire implements domain.AuthorizationRepository.
func (s *MemoryAuthorizationStore) Expire(_ context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.byDevice[deviceCode]
	if !ok {
		return serrors.ErrDeviceCodeNotFound
	}

	if auth.Status == domain.DeviceAuthorizationStatusPending ||
		auth.Status == domain.DeviceAuthorizationStatusApproved {
		auth.Status = domain.DeviceAuthorizationStatusExpired
	}

	return nil
}

// MarkExpired implements domain.AuthorizationRepository.
func (s *MemoryAuthorizationStore) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var marked int64
	for _, auth := range s.byDevice {
		if !auth.ExpiredAt(now) {
			continue
		}
		if auth.Status == domain.DeviceAuthorizationStatusPending ||
			auth.Status == domain.DeviceAuthorizationStatusApproved {
			auth.Status = domain.DeviceAuthorizationStatusExpired
			marked++
		}
	}

	return marked, nil
}

// PurgeExpiredBefore implements domain.AuthorizationRepository.
func (s *MemoryAuthorizationStore) PurgeExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for deviceCode, auth := range s.byDevice {
		if auth.ExpiresAt.After(cutoff) {
			continue
		}

		delete(s.byDevice, deviceCode)
		if s.byUserCode[auth.UserCode] == deviceCode {
			delete(s.byUserCode, auth.UserCode)
		}
		purged++
	}

	return purged, nil
}

// Count returns the number of records currently held. Used by tests and the
// dev-mode health endpoint.
func (s *MemoryAuthorizationStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.byDevice)
}
