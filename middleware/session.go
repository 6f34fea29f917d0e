// Package middleware bridges the approval endpoint to the surrounding
// product's browser login system. The device flow never authenticates humans
// itself; it only consumes an already-established web session.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/sonomandeep/deviceauth/domain"
)

// Context keys under which the authenticated identity and organization are
// stored on the echo context.
const (
	IdentityContextKey     = "deviceauth.identity"
	OrganizationContextKey = "deviceauth.organization"
)

// ErrNoSession is returned when the browser request carries no valid session.
var ErrNoSession = errors.New("no authenticated browser session")

// SessionAuthenticator resolves a browser request to the human behind it and
// their active organization context.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*domain.Identity, *domain.Organization, error)
}

// RemoteSessionAuthenticator asks the product's session-info endpoint, which
// shares the session cookie domain with this service.
type RemoteSessionAuthenticator struct {
	infoURL string
	client  *http.Client
}

// NewRemoteSessionAuthenticator creates an authenticator calling the given
// session-info URL.
func NewRemoteSessionAuthenticator(infoURL string) *RemoteSessionAuthenticator {
	return &RemoteSessionAuthenticator{
		infoURL: infoURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type sessionInfoResponse struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Organization struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"organization"`
}

// Authenticate forwards the request's cookies to the session-info endpoint.
func (a *RemoteSessionAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*domain.Identity, *domain.Organization, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.infoURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build session info request: %w", err)
	}
	for _, cookie := range r.Cookies() {
		req.AddCookie(cookie)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("session info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil, ErrNoSession
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("session info returned status %d", resp.StatusCode)
	}

	var info sessionInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, nil, fmt.Errorf("failed to decode session info: %w", err)
	}
	if info.User.ID == "" || info.Organization.ID == "" {
		return nil, nil, ErrNoSession
	}

	identity := &domain.Identity{UserID: info.User.ID, Email: info.User.Email}
	org := &domain.Organization{ID: info.Organization.ID, Name: info.Organization.Name}

	return identity, org, nil
}

// RequireSession rejects requests without an authenticated browser session
// and stores the resolved identity and organization on the echo context.
func RequireSession(auth SessionAuthenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, org, err := auth.Authenticate(c.Request().Context(), c.Request())
			if err != nil {
				if !errors.Is(err, ErrNoSession) {
					log.Error().Err(err).Msg("Session authentication failed")
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "authentication required",
				})
			}

			c.Set(IdentityContextKey, *identity)
			c.Set(OrganizationContextKey, *org)

			return next(c)
		}
	}
}

// SessionIdentity returns the identity placed on the context by RequireSession.
func SessionIdentity(c echo.Context) (domain.Identity, bool) {
	identity, ok := c.Get(IdentityContextKey).(domain.Identity)
	return identity, ok
}

// SessionOrganization returns the organization placed on the context by
// RequireSession.
func SessionOrganization(c echo.Context) (domain.Organization, bool) {
	org, ok := c.Get(OrganizationContextKey).(domain.Organization)
	return org, ok
}
