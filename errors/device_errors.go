package errors

import (
	"errors"
	"fmt"
)

// DeviceFlowError represents a machine-readable device flow error, serialized
// on the wire the same way OAuth 2.0 errors are.
type DeviceFlowError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *DeviceFlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Wire-level error codes returned to the polling agent and the approval page.
const (
	AuthorizationPending = "authorization_pending"
	SlowDown             = "slow_down"
	AccessDenied         = "access_denied"
	ExpiredToken         = "expired_token"
	InvalidGrant         = "invalid_grant"
	InvalidOrExpiredCode = "invalid_or_expired_code"
	AlreadyResolved      = "already_resolved"
	ServerError          = "server_error"
)

// Sentinel errors used across the service and repository layers. Handlers map
// these onto the wire codes above.
var (
	ErrDeviceCodeNotFound    = errors.New("device code not found")
	ErrUserCodeNotFound      = errors.New("user code not found")
	ErrAuthorizationPending  = errors.New("authorization pending")
	ErrSlowDown              = errors.New("slow down")
	ErrAccessDenied          = errors.New("access denied")
	ErrExpiredToken          = errors.New("device code expired")
	ErrAlreadyResolved       = errors.New("authorization already resolved")
	ErrCannotApprove         = errors.New("authorization cannot be approved")
	ErrCannotClaim           = errors.New("authorization cannot be claimed")
	ErrCodeSpaceExhausted    = errors.New("user code space exhausted")
	ErrStoreUnavailable      = errors.New("authorization store unavailable")
	ErrCredentialNotFound    = errors.New("credential not found")
	ErrCredentialExpired     = errors.New("credential expired or revoked")
	ErrUserCodeAlreadyExists = errors.New("user code already pending")
)

// Common error constructors

func NewAuthorizationPending() *DeviceFlowError {
	return &DeviceFlowError{
		Code:        AuthorizationPending,
		Description: "The authorization request is still pending",
	}
}

func NewSlowDown() *DeviceFlowError {
	return &DeviceFlowError{
		Code:        SlowDown,
		Description: "Polling too frequently, increase the polling interval",
	}
}

func NewAccessDenied(description string) *DeviceFlowError {
	return &DeviceFlowError{
		Code:        AccessDenied,
		Description: description,
	}
}

func NewExpiredToken() *DeviceFlowError {
	return &DeviceFlowError{
		Code:        ExpiredToken,
		Description: "The device code has expired",
	}
}

func NewInvalidGrant(description string) *DeviceFlowError {
	return &DeviceFlowError{
		Code:        InvalidGrant,
		Description: description,
	}
}

// NewInvalidOrExpiredCode deliberately carries a single generic description so
// the approval page cannot be used to probe whether a code ever existed.
func NewInvalidOrExpiredCode() *DeviceFlowError {
	return &DeviceFlowError{
		Code:        InvalidOrExpiredCode,
		Description: "The code is invalid or has expired",
	}
}

func NewServerError(description string) *DeviceFlowError {
	return &DeviceFlowError{
		Code:        ServerError,
		Description: description,
	}
}
