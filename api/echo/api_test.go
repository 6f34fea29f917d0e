package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonomandeep/deviceauth/api"
	"github.com/sonomandeep/deviceauth/cache"
	"github.com/sonomandeep/deviceauth/domain"
	"github.com/sonomandeep/deviceauth/internal/ratelimit"
	applog "github.com/sonomandeep/deviceauth/log"
	"github.com/sonomandeep/deviceauth/middleware"
	"github.com/sonomandeep/deviceauth/services"
	"github.com/sonomandeep/deviceauth/store"
)

// staticSessions authenticates every request as a fixed identity, or rejects
// everything when identity is nil.
type staticSessions struct {
	identity *domain.Identity
	org      *domain.Organization
}

func (s *staticSessions) Authenticate(context.Context, *http.Request) (*domain.Identity, *domain.Organization, error) {
	if s.identity == nil {
		return nil, nil, middleware.ErrNoSession
	}
	return s.identity, s.org, nil
}

func loggedInSessions() *staticSessions {
	return &staticSessions{
		identity: &domain.Identity{UserID: "user-1", Email: "user@example.com"},
		org:      &domain.Organization{ID: "org-1", Name: "Acme"},
	}
}

func newTestServer(t *testing.T, sessions *staticSessions, limiter *ratelimit.KeyedLimiter) *echo.Echo {
	t.Helper()

	credStore := cache.NewMemoryCredentialStore()
	t.Cleanup(func() { _ = credStore.Close() })

	if limiter == nil {
		limiter = ratelimit.New(600, 100)
	}
	t.Cleanup(limiter.Stop)

	creds := services.NewCredentialService(credStore, time.Hour)
	svc := services.NewDeviceAuthService(
		store.NewMemoryAuthorizationStore(),
		creds,
		services.FlowOptions{VerificationBaseURI: "http://localhost:8080"},
		applog.NewZerologAdapter(zerolog.Disabled, false),
	)

	e := echo.New()
	NewDeviceAuthAPI(svc, creds, sessions, limiter).RegisterRoutes(e)

	return e
}

func doJSON(e *echo.Echo, method, target string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	decoded := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)

	return rec, decoded
}

func issueCodes(t *testing.T, e *echo.Echo) (deviceCode, userCode string) {
	t.Helper()

	rec, body := doJSON(e, http.MethodPost, "/device/code", api.DeviceCodeRequest{
		ClientID:       "devicectl",
		ClientName:     "devicectl",
		ClientVersion:  "1.2.0",
		ClientHostname: "workstation",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	deviceCode, _ = body["device_code"].(string)
	userCode, _ = body["user_code"].(string)
	require.NotEmpty(t, deviceCode)
	require.NotEmpty(t, userCode)

	return deviceCode, userCode
}

func TestIssueEndpoint(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)

	rec, body := doJSON(e, http.MethodPost, "/device/code", api.DeviceCodeRequest{ClientID: "devicectl"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotEmpty(t, body["device_code"])
	assert.NotEmpty(t, body["user_code"])
	assert.Equal(t, "http://localhost:8080/device", body["verification_uri"])
	assert.Contains(t, body["verification_uri_complete"], body["user_code"])
	assert.EqualValues(t, 600, body["expires_in"])
	assert.EqualValues(t, 5, body["interval"])
}

func TestIssueRequiresClientID(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)

	rec, body := doJSON(e, http.MethodPost, "/device/code", api.DeviceCodeRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestTokenPendingThenSlowDown(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)
	deviceCode, _ := issueCodes(t, e)

	// First poll: pending, but still 200 so the agent keeps going.
	rec, body := doJSON(e, http.MethodPost, "/device/token", api.TokenRequest{DeviceCode: deviceCode}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "authorization_pending", body["error"])

	// Immediate second poll violates the cadence.
	rec, body = doJSON(e, http.MethodPost, "/device/token", api.TokenRequest{DeviceCode: deviceCode}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "slow_down", body["error"])
}

func TestTokenUnknownDeviceCode(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)

	rec, body := doJSON(e, http.MethodPost, "/device/token", api.TokenRequest{DeviceCode: "bogus"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestApprovalFlow(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)
	deviceCode, userCode := issueCodes(t, e)

	// Consent page shows the client context.
	rec, body := doJSON(e, http.MethodGet, "/device/approve?user_code="+userCode, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "devicectl", body["client_name"])
	assert.Equal(t, "workstation", body["client_hostname"])

	// Approve.
	rec, body = doJSON(e, http.MethodPost, "/device/approve", api.ApprovalRequest{
		UserCode: userCode,
		Decision: "approve",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", body["result"])

	// The next poll exchanges the device code for a credential.
	rec, body = doJSON(e, http.MethodPost, "/device/token", api.TokenRequest{DeviceCode: deviceCode}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "Bearer", body["token_type"])

	// The credential authenticates the session endpoint.
	auth := map[string]string{"Authorization": "Bearer " + token}
	rec, body = doJSON(e, http.MethodGet, "/device/session", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", body["user_id"])
	assert.Equal(t, "org-1", body["org_id"])

	// Revoke, then the credential no longer works.
	rec, _ = doJSON(e, http.MethodPost, "/device/revoke", nil, auth)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = doJSON(e, http.MethodGet, "/device/session", nil, auth)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDenialFlow(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)
	deviceCode, userCode := issueCodes(t, e)

	rec, body := doJSON(e, http.MethodPost, "/device/approve", api.ApprovalRequest{
		UserCode: userCode,
		Decision: "deny",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "denied", body["result"])

	rec, body = doJSON(e, http.MethodPost, "/device/token", api.TokenRequest{DeviceCode: deviceCode}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access_denied", body["error"])
}

func TestDoubleApprovalReportsAlreadyResolved(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)
	_, userCode := issueCodes(t, e)

	req := api.ApprovalRequest{UserCode: userCode, Decision: "approve"}

	rec, _ := doJSON(e, http.MethodPost, "/device/approve", req, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(e, http.MethodPost, "/device/approve", req, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_resolved", body["error"])
}

func TestApproveUnknownCodeIsGeneric(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)

	rec, body := doJSON(e, http.MethodPost, "/device/approve", api.ApprovalRequest{
		UserCode: "ZZZZ-ZZZZ",
		Decision: "approve",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_or_expired_code", body["error"])
}

func TestApproveRejectsUnknownDecision(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)
	_, userCode := issueCodes(t, e)

	rec, body := doJSON(e, http.MethodPost, "/device/approve", api.ApprovalRequest{
		UserCode: userCode,
		Decision: "maybe",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestApproveRequiresSession(t *testing.T) {
	e := newTestServer(t, &staticSessions{}, nil)
	_, userCode := issueCodes(t, e)

	rec, _ := doJSON(e, http.MethodGet, "/device/approve?user_code="+userCode, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(e, http.MethodPost, "/device/approve", api.ApprovalRequest{
		UserCode: userCode,
		Decision: "approve",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApproveRateLimited(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), ratelimit.New(1, 1))
	_, userCode := issueCodes(t, e)

	req := api.ApprovalRequest{UserCode: "ZZZZ-ZZZZ", Decision: "approve"}

	rec, _ := doJSON(e, http.MethodPost, "/device/approve", req, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := doJSON(e, http.MethodPost, "/device/approve", req, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "slow_down", body["error"])

	// The limit binds the identity, not the code: the real code is blocked too.
	rec, _ = doJSON(e, http.MethodPost, "/device/approve", api.ApprovalRequest{
		UserCode: userCode,
		Decision: "approve",
	}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRevokeRequiresToken(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)

	rec, body := doJSON(e, http.MethodPost, "/device/revoke", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestRevokeUnknownTokenIsNoOp(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)

	rec, _ := doJSON(e, http.MethodPost, "/device/revoke", api.RevokeRequest{AccessToken: "bogus"}, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionRequiresBearer(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)

	rec, _ := doJSON(e, http.MethodGet, "/device/session", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(e, http.MethodGet, "/device/session", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	e := newTestServer(t, loggedInSessions(), nil)

	rec, body := doJSON(e, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
