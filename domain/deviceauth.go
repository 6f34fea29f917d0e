package domain

import (
	"context"
	"time"
)

// DeviceAuthorizationStatus represents the status of a device authorization request.
type DeviceAuthorizationStatus string

const (
	DeviceAuthorizationStatusPending  DeviceAuthorizationStatus = "pending"
	DeviceAuthorizationStatusApproved DeviceAuthorizationStatus = "approved"
	DeviceAuthorizationStatusDenied   DeviceAuthorizationStatus = "denied"
	DeviceAuthorizationStatusExpired  DeviceAuthorizationStatus = "expired"
	DeviceAuthorizationStatusConsumed DeviceAuthorizationStatus = "consumed"
)

// ClientMetadata describes the agent that requested authorization. It is shown
// to the human on the approval page ("Approve access for CLI v1.2 on host X?").
type ClientMetadata struct {
	Name       string `bson:"name" json:"name"`
	Version    string `bson:"version,omitempty" json:"version,omitempty"`
	Hostname   string `bson:"hostname,omitempty" json:"hostname,omitempty"`
	RemoteAddr string `bson:"remote_addr,omitempty" json:"remote_addr,omitempty"`
	UserAgent  string `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// Approver records the identity and organization context of the human who
// resolved the request. Set exactly once, on the pending -> approved transition.
type Approver struct {
	UserID  string `bson:"user_id" json:"user_id"`
	Email   string `bson:"email,omitempty" json:"email,omitempty"`
	OrgID   string `bson:"org_id" json:"org_id"`
	OrgName string `bson:"org_name,omitempty" json:"org_name,omitempty"`
}

// DeviceAuthorization holds the state of one device authorization request.
//
// The device code is the long-lived secret the agent polls with; the user code
// is the short code the human confirms in the browser. The two are never shown
// to the opposite party.
type DeviceAuthorization struct {
	ID                 string                    `bson:"_id" json:"id"`
	DeviceCode         string                    `bson:"device_code" json:"device_code"`
	UserCode           string                    `bson:"user_code" json:"user_code"`
	ClientID           string                    `bson:"client_id" json:"client_id"`
	ClientMetadata     ClientMetadata            `bson:"client_metadata" json:"client_metadata"`
	Status             DeviceAuthorizationStatus `bson:"status" json:"status"`
	ApprovedBy         *Approver                 `bson:"approved_by,omitempty" json:"approved_by,omitempty"`
	ExpiresAt          time.Time                 `bson:"expires_at" json:"expires_at"`
	Interval           int                       `bson:"interval" json:"interval"`
	LastPolledAt       time.Time                 `bson:"last_polled_at,omitempty" json:"last_polled_at,omitempty"`
	IssuedCredentialID string                    `bson:"issued_credential_id,omitempty" json:"issued_credential_id,omitempty"`
	CreatedAt          time.Time                 `bson:"created_at" json:"created_at"`
}

// ExpiredAt reports whether the request is past its deadline at the given
// instant. ExpiresAt is the sole timeout authority; callers must prefer this
// over the stored status.
func (d *DeviceAuthorization) ExpiredAt(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// Resolved reports whether the request has left the pending state.
func (d *DeviceAuthorization) Resolved() bool {
	return d.Status != DeviceAuthorizationStatusPending
}

// AuthorizationRepository defines the durable store for device authorization
// requests. Every state transition is a guarded conditional update: the store
// applies it only when the record is still in the expected source state, so
// concurrent approvals and duplicate poll retries resolve to exactly one winner.
type AuthorizationRepository interface {
	// Save persists a new request. It fails with ErrUserCodeAlreadyExists when
	// another pending request already carries the same user code.
	Save(ctx context.Context, auth *DeviceAuthorization) error

	// GetByDeviceCode returns the request for the given device code, any status.
	GetByDeviceCode(ctx context.Context, deviceCode string) (*DeviceAuthorization, error)

	// GetByUserCode returns the most recent request carrying the given user
	// code, any status.
	GetByUserCode(ctx context.Context, userCode string) (*DeviceAuthorization, error)

	// Approve transitions pending -> approved and records the approver, guarded
	// on the current status still being pending and the deadline not passed.
	// Returns ErrCannotApprove when the guard fails.
	Approve(ctx context.Context, userCode string, by Approver) (*DeviceAuthorization, error)

	// Deny transitions pending -> denied with the same guard as Approve.
	Deny(ctx context.Context, userCode string) (*DeviceAuthorization, error)

	// RecordPoll stores the poll timestamp and, when newInterval > 0, the
	// increased polling interval.
	RecordPoll(ctx context.Context, deviceCode string, polledAt time.Time, newInterval int) error

	// Claim transitions approved -> consumed and writes the credential ID,
	// guarded on the status being approved and no credential having been issued
	// yet. Returns ErrCannotClaim when the guard fails; the credential ID is
	// write-once.
	Claim(ctx context.Context, deviceCode, credentialID string) (*DeviceAuthorization, error)

	// Expire transitions a single pending or approved record to expired.
	Expire(ctx context.Context, deviceCode string) error

	// MarkExpired expires every pending or approved record whose deadline is
	// past, returning the number of records updated.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)

	// PurgeExpiredBefore removes terminal records whose deadline passed before
	// the cutoff, returning the number of records removed.
	PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
