package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sonomandeep/deviceauth/api"
	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
	"github.com/sonomandeep/deviceauth/internal/metrics"
	"github.com/sonomandeep/deviceauth/internal/securecode"
	applog "github.com/sonomandeep/deviceauth/log"
)

// Defaults for the device flow.
const (
	DefaultCodeLifetime      = 10 * time.Minute
	DefaultPollInterval      = 5 // seconds
	DefaultSlowDownIncrement = 5 // seconds added per premature poll
	maxUserCodeAttempts      = 5
)

// Decision is the human's answer on the approval page.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// FlowOptions tunes the device authorization flow.
type FlowOptions struct {
	CodeLifetime        time.Duration
	PollInterval        int // seconds
	SlowDownIncrement   int // seconds
	VerificationBaseURI string
}

// DeviceAuthService orchestrates the device authorization grant: code
// issuance, human approval, and the polling exchange. All state lives in the
// AuthorizationRepository; every transition is one of its guarded conditional
// updates, so the service itself holds no locks.
type DeviceAuthService struct {
	repo        domain.AuthorizationRepository
	credentials *CredentialService
	opts        FlowOptions
	logger      applog.Logger

	nowFunc func() time.Time
}

// NewDeviceAuthService creates a DeviceAuthService. Zero-valued options fall
// back to the flow defaults.
func NewDeviceAuthService(
	repo domain.AuthorizationRepository,
	credentials *CredentialService,
	opts FlowOptions,
	logger applog.Logger,
) *DeviceAuthService {
	if opts.CodeLifetime <= 0 {
		opts.CodeLifetime = DefaultCodeLifetime
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SlowDownIncrement <= 0 {
		opts.SlowDownIncrement = DefaultSlowDownIncrement
	}

	return &DeviceAuthService{
		repo:        repo,
		credentials: credentials,
		opts:        opts,
		logger:      logger,
		nowFunc:     func() time.Time { return time.Now().UTC() },
	}
}

// Initiate creates a new device authorization request and persists it before
// returning, so a poll arriving immediately after issuance finds the record.
func (s *DeviceAuthService) Initiate(ctx context.Context, req api.DeviceCodeRequest, meta domain.ClientMetadata) (*api.DeviceCodeResponse, error) {
	deviceCode, err := securecode.DeviceCode()
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	expiresAt := now.Add(s.opts.CodeLifetime)

	// User codes are only unique among pending requests, so collisions are
	// resolved by regenerating. The store's partial unique index closes the
	// check-then-save race.
	for attempt := 0; attempt < maxUserCodeAttempts; attempt++ {
		userCode, err := securecode.UserCode()
		if err != nil {
			return nil, err
		}

		auth := &domain.DeviceAuthorization{
			DeviceCode:     deviceCode,
			UserCode:       userCode,
			ClientID:       req.ClientID,
			ClientMetadata: meta,
			Status:         domain.DeviceAuthorizationStatusPending,
			ExpiresAt:      expiresAt,
			Interval:       s.opts.PollInterval,
			CreatedAt:      now,
		}

		err = s.repo.Save(ctx, auth)
		if errors.Is(err, serrors.ErrUserCodeAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save device authorization request: %w", err)
		}

		metrics.CodesIssuedTotal.Inc()
		s.logger.Info(ctx, "device authorization issued", map[string]interface{}{
			"client_id": req.ClientID,
			"user_code": userCode,
		})

		verificationURI := fmt.Sprintf("%s/device", s.opts.VerificationBaseURI)

		return &api.DeviceCodeResponse{
			DeviceCode:              deviceCode,
			UserCode:                userCode,
			VerificationURI:         verificationURI,
			VerificationURIComplete: fmt.Sprintf("%s?user_code=%s", verificationURI, userCode),
			ExpiresIn:               int(s.opts.CodeLifetime.Seconds()),
			Interval:                s.opts.PollInterval,
		}, nil
	}

	s.logger.Error(ctx, "user code space exhausted", serrors.ErrCodeSpaceExhausted, map[string]interface{}{
		"attempts": maxUserCodeAttempts,
	})

	return nil, serrors.ErrCodeSpaceExhausted
}

// Describe returns the consent-page view of a pending request. Unknown,
// expired, and already-resolved codes all collapse into ErrUserCodeNotFound so
// the page cannot be used to probe the code space.
func (s *DeviceAuthService) Describe(ctx context.Context, userCode string) (*api.ApprovalPrompt, error) {
	auth, err := s.repo.GetByUserCode(ctx, securecode.NormalizeUserCode(userCode))
	if err != nil {
		return nil, err
	}

	if auth.ExpiredAt(s.nowFunc()) || auth.Resolved() {
		return nil, serrors.ErrUserCodeNotFound
	}

	return &api.ApprovalPrompt{
		UserCode:       auth.UserCode,
		ClientName:     auth.ClientMetadata.Name,
		ClientVersion:  auth.ClientMetadata.Version,
		ClientHostname: auth.ClientMetadata.Hostname,
		ExpiresAt:      auth.ExpiresAt,
	}, nil
}

// Decide resolves a pending request with the human's decision. The transition
// is a guarded update; losing the guard to a concurrent submission yields
// ErrAlreadyResolved, which callers treat as idempotent success rather than a
// failure.
func (s *DeviceAuthService) Decide(
	ctx context.Context,
	userCode string,
	decision Decision,
	identity domain.Identity,
	org domain.Organization,
) (*api.ApprovalResult, error) {
	userCode = securecode.NormalizeUserCode(userCode)

	auth, err := s.repo.GetByUserCode(ctx, userCode)
	if err != nil {
		return nil, err
	}

	if auth.ExpiredAt(s.nowFunc()) {
		// Eagerly record what any later read would conclude anyway.
		if expireErr := s.repo.Expire(ctx, auth.DeviceCode); expireErr != nil {
			s.logger.Warn(ctx, "failed to expire device authorization", map[string]interface{}{
				"device_authorization_id": auth.ID,
				"error":                   expireErr.Error(),
			})
		}
		return nil, serrors.ErrExpiredToken
	}

	if auth.Resolved() {
		return nil, serrors.ErrAlreadyResolved
	}

	switch decision {
	case DecisionApprove:
		approver := domain.Approver{
			UserID:  identity.UserID,
			Email:   identity.Email,
			OrgID:   org.ID,
			OrgName: org.Name,
		}
		_, err = s.repo.Approve(ctx, userCode, approver)
	case DecisionDeny:
		_, err = s.repo.Deny(ctx, userCode)
	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	if errors.Is(err, serrors.ErrCannotApprove) {
		return nil, serrors.ErrAlreadyResolved
	}
	if err != nil {
		return nil, err
	}

	metrics.ApprovalsTotal.WithLabelValues(string(decision)).Inc()
	s.logger.Info(ctx, "device authorization resolved", map[string]interface{}{
		"device_authorization_id": auth.ID,
		"decision":                string(decision),
		"user_id":                 identity.UserID,
		"org_id":                  org.ID,
	})

	result := &api.ApprovalResult{Result: "approved"}
	if decision == DecisionDeny {
		result.Result = "denied"
	}

	return result, nil
}

// Token answers one poll from the agent. The sentinel errors it returns map
// 1:1 onto the wire codes of the polling protocol.
func (s *DeviceAuthService) Token(ctx context.Context, deviceCode string) (*api.TokenResponse, error) {
	auth, err := s.repo.GetByDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()

	// The deadline is the sole timeout authority; a stale approved record past
	// its deadline is still rejected.
	if auth.ExpiredAt(now) &&
		(auth.Status == domain.DeviceAuthorizationStatusPending ||
			auth.Status == domain.DeviceAuthorizationStatusApproved) {
		if expireErr := s.repo.Expire(ctx, deviceCode); expireErr != nil {
			s.logger.Warn(ctx, "failed to expire device authorization", map[string]interface{}{
				"device_authorization_id": auth.ID,
				"error":                   expireErr.Error(),
			})
		}
		return nil, serrors.ErrExpiredToken
	}

	switch auth.Status {
	case domain.DeviceAuthorizationStatusPending:
		// Enforce the polling cadence. A premature poll gets slow_down and a
		// persistently increased interval; both cases record the poll time.
		if !auth.LastPolledAt.IsZero() && now.Sub(auth.LastPolledAt) < time.Duration(auth.Interval)*time.Second {
			if err := s.repo.RecordPoll(ctx, deviceCode, now, auth.Interval+s.opts.SlowDownIncrement); err != nil {
				return nil, err
			}
			return nil, serrors.ErrSlowDown
		}
		if err := s.repo.RecordPoll(ctx, deviceCode, now, 0); err != nil {
			return nil, err
		}
		return nil, serrors.ErrAuthorizationPending

	case domain.DeviceAuthorizationStatusDenied:
		return nil, serrors.ErrAccessDenied

	case domain.DeviceAuthorizationStatusExpired:
		return nil, serrors.ErrExpiredToken

	case domain.DeviceAuthorizationStatusConsumed:
		// A retried request after a successful exchange receives the identical
		// credential, never a second one.
		return s.redeemIssued(ctx, auth)

	case domain.DeviceAuthorizationStatusApproved:
		return s.claimAndIssue(ctx, auth)

	default:
		return nil, serrors.ErrAccessDenied
	}
}

func (s *DeviceAuthService) claimAndIssue(ctx context.Context, auth *domain.DeviceAuthorization) (*api.TokenResponse, error) {
	cred, err := s.credentials.Mint(auth)
	if err != nil {
		return nil, err
	}

	// Persist before claiming: once the claim lands, any concurrent duplicate
	// poll that loses the race can already retrieve this credential by ID.
	if err := s.credentials.Persist(ctx, cred); err != nil {
		s.logger.Error(ctx, "failed to persist credential", err, map[string]interface{}{
			"device_authorization_id": auth.ID,
			"credential_id":           cred.ID,
		})
		return nil, fmt.Errorf("%w: %v", serrors.ErrStoreUnavailable, err)
	}

	claimed, err := s.repo.Claim(ctx, auth.DeviceCode, cred.ID)
	if errors.Is(err, serrors.ErrCannotClaim) {
		// Lost the race to a duplicate poll; drop the unclaimed credential and
		// hand back whatever that poll issued.
		if revokeErr := s.credentials.Revoke(ctx, cred.TokenValue); revokeErr != nil {
			s.logger.Warn(ctx, "failed to discard unclaimed credential", map[string]interface{}{
				"credential_id": cred.ID,
				"error":         revokeErr.Error(),
			})
		}
		refreshed, getErr := s.repo.GetByDeviceCode(ctx, auth.DeviceCode)
		if getErr != nil {
			return nil, getErr
		}
		return s.redeemIssued(ctx, refreshed)
	}
	if err != nil {
		return nil, err
	}

	metrics.CredentialsIssuedTotal.Inc()
	s.logger.Info(ctx, "credential issued for device authorization", map[string]interface{}{
		"device_authorization_id": claimed.ID,
		"credential_id":           cred.ID,
		"user_id":                 cred.UserID,
		"org_id":                  cred.OrgID,
	})

	return &api.TokenResponse{
		AccessToken: cred.TokenValue,
		TokenType:   "Bearer",
		ExpiresIn:   s.credentials.RemainingSeconds(cred),
	}, nil
}

func (s *DeviceAuthService) redeemIssued(ctx context.Context, auth *domain.DeviceAuthorization) (*api.TokenResponse, error) {
	if auth.IssuedCredentialID == "" {
		return nil, serrors.ErrAccessDenied
	}

	cred, err := s.credentials.GetByID(ctx, auth.IssuedCredentialID)
	if err != nil {
		return nil, serrors.ErrAccessDenied
	}

	return &api.TokenResponse{
		AccessToken: cred.TokenValue,
		TokenType:   "Bearer",
		ExpiresIn:   s.credentials.RemainingSeconds(cred),
	}, nil
}
