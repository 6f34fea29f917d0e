// Package echo exposes the device authorization flow over HTTP.
package echo

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sonomandeep/deviceauth/api"
	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
	"github.com/sonomandeep/deviceauth/internal/metrics"
	"github.com/sonomandeep/deviceauth/internal/ratelimit"
	"github.com/sonomandeep/deviceauth/middleware"
	"github.com/sonomandeep/deviceauth/services"
)

// DeviceAuthAPI struct to hold dependencies.
type DeviceAuthAPI struct {
	service     *services.DeviceAuthService
	credentials *services.CredentialService
	sessions    middleware.SessionAuthenticator
	limiter     *ratelimit.KeyedLimiter
}

// NewDeviceAuthAPI initializes the device authorization API.
func NewDeviceAuthAPI(
	service *services.DeviceAuthService,
	credentials *services.CredentialService,
	sessions middleware.SessionAuthenticator,
	limiter *ratelimit.KeyedLimiter,
) *DeviceAuthAPI {
	return &DeviceAuthAPI{
		service:     service,
		credentials: credentials,
		sessions:    sessions,
		limiter:     limiter,
	}
}

// RegisterRoutes registers the device flow routes.
func (a *DeviceAuthAPI) RegisterRoutes(e *echo.Echo) {
	e.Use(echomw.Recover())

	e.POST("/device/code", a.IssueHandler)
	e.POST("/device/token", a.TokenHandler)
	e.POST("/device/revoke", a.RevokeHandler)
	e.GET("/device/session", a.SessionHandler)

	approve := e.Group("/device/approve", middleware.RequireSession(a.sessions))
	approve.GET("", a.ApprovalPromptHandler)
	approve.POST("", a.ApproveHandler)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// IssueHandler handles POST /device/code: creates a new authorization request
// and returns the codes the agent needs to start the flow.
func (a *DeviceAuthAPI) IssueHandler(c echo.Context) error {
	var req api.DeviceCodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidGrant("malformed request body"))
	}
	if req.ClientID == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidGrant("client_id is required"))
	}

	meta := domain.ClientMetadata{
		Name:       req.ClientName,
		Version:    req.ClientVersion,
		Hostname:   req.ClientHostname,
		RemoteAddr: c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
	}
	if meta.Name == "" {
		meta.Name = req.ClientID
	}

	resp, err := a.service.Initiate(c.Request().Context(), req, meta)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initiate device authorization")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("failed to create device authorization"))
	}

	return c.JSON(http.StatusOK, resp)
}

// TokenHandler handles POST /device/token: one poll from the agent. Pending
// and slow_down outcomes are 200 with an error field, per device-flow
// convention, so agents keep polling on them.
func (a *DeviceAuthAPI) TokenHandler(c echo.Context) error {
	var req api.TokenRequest
	if err := c.Bind(&req); err != nil || req.DeviceCode == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidGrant("device_code is required"))
	}

	resp, err := a.service.Token(c.Request().Context(), req.DeviceCode)
	if err != nil {
		return a.tokenError(c, err)
	}

	metrics.PollsTotal.WithLabelValues("success").Inc()

	return c.JSON(http.StatusOK, resp)
}

func (a *DeviceAuthAPI) tokenError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, serrors.ErrAuthorizationPending):
		metrics.PollsTotal.WithLabelValues(serrors.AuthorizationPending).Inc()
		return c.JSON(http.StatusOK, serrors.NewAuthorizationPending())
	case errors.Is(err, serrors.ErrSlowDown):
		metrics.PollsTotal.WithLabelValues(serrors.SlowDown).Inc()
		return c.JSON(http.StatusOK, serrors.NewSlowDown())
	case errors.Is(err, serrors.ErrAccessDenied):
		metrics.PollsTotal.WithLabelValues(serrors.AccessDenied).Inc()
		return c.JSON(http.StatusForbidden, serrors.NewAccessDenied("the authorization request was denied"))
	case errors.Is(err, serrors.ErrExpiredToken):
		metrics.PollsTotal.WithLabelValues(serrors.ExpiredToken).Inc()
		return c.JSON(http.StatusBadRequest, serrors.NewExpiredToken())
	case errors.Is(err, serrors.ErrDeviceCodeNotFound):
		metrics.PollsTotal.WithLabelValues(serrors.InvalidGrant).Inc()
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidGrant("unknown device_code"))
	default:
		metrics.PollsTotal.WithLabelValues(serrors.ServerError).Inc()
		log.Error().Err(err).Msg("Device token poll failed")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("token exchange failed"))
	}
}

// ApprovalPromptHandler handles GET /device/approve: returns what the consent
// page shows for a user code. Requires an authenticated browser session.
func (a *DeviceAuthAPI) ApprovalPromptHandler(c echo.Context) error {
	userCode := c.QueryParam("user_code")
	if userCode == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidOrExpiredCode())
	}

	prompt, err := a.service.Describe(c.Request().Context(), userCode)
	if err != nil {
		return a.approvalError(c, err)
	}

	return c.JSON(http.StatusOK, prompt)
}

// ApproveHandler handles POST /device/approve: the human's decision. Attempts
// are rate limited per identity to blunt user-code guessing.
func (a *DeviceAuthAPI) ApproveHandler(c echo.Context) error {
	identity, ok := middleware.SessionIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	}
	org, ok := middleware.SessionOrganization(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	}

	if !a.limiter.Allow(identity.UserID) {
		return c.JSON(http.StatusTooManyRequests, serrors.NewSlowDown())
	}

	var req api.ApprovalRequest
	if err := c.Bind(&req); err != nil || req.UserCode == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidOrExpiredCode())
	}

	decision := services.Decision(strings.ToLower(req.Decision))
	if decision != services.DecisionApprove && decision != services.DecisionDeny {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidGrant("decision must be approve or deny"))
	}

	result, err := a.service.Decide(c.Request().Context(), req.UserCode, decision, identity, org)
	if err != nil {
		return a.approvalError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

func (a *DeviceAuthAPI) approvalError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, serrors.ErrAlreadyResolved):
		// A double submission is not a failure; the human's first answer won.
		return c.JSON(http.StatusOK, &serrors.DeviceFlowError{
			Code:        serrors.AlreadyResolved,
			Description: "The request has already been resolved",
		})
	case errors.Is(err, serrors.ErrUserCodeNotFound),
		errors.Is(err, serrors.ErrExpiredToken),
		errors.Is(err, serrors.ErrCannotApprove):
		// One generic answer for unknown, expired, and foreign codes.
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidOrExpiredCode())
	default:
		log.Error().Err(err).Msg("Device approval failed")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("approval failed"))
	}
}

// RevokeHandler handles POST /device/revoke: signs out the device holding the
// credential. The credential itself authenticates the call.
func (a *DeviceAuthAPI) RevokeHandler(c echo.Context) error {
	var req api.RevokeRequest
	if err := c.Bind(&req); err != nil {
		req = api.RevokeRequest{}
	}
	token := req.AccessToken
	if token == "" {
		token = bearerToken(c)
	}
	if token == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidGrant("access_token is required"))
	}

	if err := a.credentials.Revoke(c.Request().Context(), token); err != nil {
		// Revoking an unknown or already-revoked token is a no-op.
		return c.NoContent(http.StatusNoContent)
	}

	return c.NoContent(http.StatusNoContent)
}

// SessionHandler handles GET /device/session: describes the credential that
// authenticated the call, used by agents to report login status.
func (a *DeviceAuthAPI) SessionHandler(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return c.JSON(http.StatusUnauthorized, serrors.NewInvalidGrant("bearer token required"))
	}

	cred, err := a.credentials.Validate(c.Request().Context(), token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, serrors.NewInvalidGrant("invalid or expired token"))
	}

	return c.JSON(http.StatusOK, &api.SessionInfo{
		UserID:     cred.UserID,
		OrgID:      cred.OrgID,
		ClientName: cred.ClientName,
		Hostname:   cred.Hostname,
		ExpiresAt:  cred.ExpiresAt,
	})
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
