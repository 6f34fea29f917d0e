package domain

import "time"

// Credential represents an API credential minted for an approved device
// authorization request. The raw token value is kept so that a retried poll
// can be answered with the identical credential; stores index it by the
// sha256 hash of the token, never by the raw value.
type Credential struct {
	ID                    string    `bson:"_id" json:"id"`
	TokenValue            string    `bson:"token_value" json:"token_value"`
	UserID                string    `bson:"user_id" json:"user_id"`
	OrgID                 string    `bson:"org_id" json:"org_id"`
	ClientID              string    `bson:"client_id" json:"client_id"`
	ClientName            string    `bson:"client_name,omitempty" json:"client_name,omitempty"`
	ClientVersion         string    `bson:"client_version,omitempty" json:"client_version,omitempty"`
	Hostname              string    `bson:"hostname,omitempty" json:"hostname,omitempty"`
	Scope                 string    `bson:"scope" json:"scope"`
	DeviceAuthorizationID string    `bson:"device_authorization_id" json:"device_authorization_id"`
	ExpiresAt             time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt             time.Time `bson:"created_at" json:"created_at"`
	IsRevoked             bool      `bson:"is_revoked,omitempty" json:"is_revoked,omitempty"`
}

// Identity is the authenticated human behind a browser session. Supplied by
// the surrounding product's login system; this service never authenticates
// humans itself.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Organization is the active organization context of a browser session,
// supplied by the surrounding product's membership system.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
