// Package api defines the wire-level request and response models of the
// device authorization HTTP surface.
package api

import "time"

// DeviceCodeRequest is the body of POST /device/code.
type DeviceCodeRequest struct {
	ClientID       string `json:"client_id"`
	ClientName     string `json:"client_name,omitempty"`
	ClientVersion  string `json:"client_version,omitempty"`
	ClientHostname string `json:"client_hostname,omitempty"`
}

// DeviceCodeResponse is the response from the device authorization endpoint.
// See RFC 8628, Section 3.2.
type DeviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`         // Lifetime in seconds of the device_code and user_code
	Interval                int    `json:"interval,omitempty"` // Minimum polling interval in seconds for the device
}

// TokenRequest is the body of POST /device/token.
type TokenRequest struct {
	DeviceCode string `json:"device_code"`
}

// TokenResponse is the successful result of a poll.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ApprovalPrompt describes a pending request to the consent page: everything
// the human needs to decide, and nothing internal.
type ApprovalPrompt struct {
	UserCode       string    `json:"user_code"`
	ClientName     string    `json:"client_name"`
	ClientVersion  string    `json:"client_version,omitempty"`
	ClientHostname string    `json:"client_hostname,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ApprovalRequest is the body of POST /device/approve.
type ApprovalRequest struct {
	UserCode string `json:"user_code" form:"user_code"`
	Decision string `json:"decision" form:"decision"` // "approve" or "deny"
}

// ApprovalResult reports the outcome of an approval submission.
type ApprovalResult struct {
	Result string `json:"result"` // "approved" or "denied"
}

// RevokeRequest is the body of POST /device/revoke.
type RevokeRequest struct {
	AccessToken string `json:"access_token"`
}

// SessionInfo is the response of GET /device/session, describing the
// credential that authenticated the call.
type SessionInfo struct {
	UserID     string    `json:"user_id"`
	OrgID      string    `json:"org_id"`
	ClientName string    `json:"client_name,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}
