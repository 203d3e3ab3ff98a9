package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"identity-service/internal/audit"
	"identity-service/internal/auth"
	"identity-service/internal/clock"
	"identity-service/internal/hashing"
	"identity-service/internal/model"
	"identity-service/internal/otp"
	"identity-service/internal/ratelimit"
	"identity-service/internal/session"
	"identity-service/internal/store/memory"
	"identity-service/internal/token"
)

type testDelivery struct {
	codes map[string]string
}

func (d *testDelivery) Deliver(_ context.Context, _ *model.User, purpose, code string) error {
	d.codes[purpose] = code
	return nil
}

type testServer struct {
	router   chi.Router
	clock    *clock.Fake
	delivery *testDelivery
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	st := memory.New()
	delivery := &testDelivery{codes: make(map[string]string)}

	tokens := token.NewManager("test-secret", clk, 15*time.Minute, 5*time.Minute, 30*24*time.Hour, st.Refresh)
	orch := auth.NewOrchestrator(auth.Options{
		Users:           st.Users,
		Attempts:        st.Attempts,
		Codes:           otp.NewManager(st.Codes, clk, 5*time.Minute, 6),
		Tokens:          tokens,
		Sessions:        session.NewManager(st.Sessions, clk, 24*time.Hour),
		Audit:           audit.NewService(st.Audit, nil, clk),
		Passwords:       hashing.NewPasswordHasher(4),
		Delivery:        delivery,
		Clock:           clk,
		LoginLimiter:    ratelimit.NewLimiter(10, time.Minute, clk),
		RegisterLimiter: ratelimit.NewLimiter(10, time.Minute, clk),
		ResetLimiter:    ratelimit.NewLimiter(10, time.Minute, clk),
	})

	authHandler := NewAuthHandler(orch, tokens, zap.NewNop())
	return &testServer{
		router:   NewRouter(authHandler, zap.NewNop()),
		clock:    clk,
		delivery: delivery,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *testServer) register(t *testing.T, username, password, email string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]interface{}{
		"username": username, "password": password, "email": email, "age": 30,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) login(t *testing.T, identifier, password string) map[string]interface{} {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"identifier": identifier, "password": password,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	return data
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestRegisterEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]interface{}{
		"username": "alice", "password": "s3cure-pass", "email": "alice@example.com", "age": 30,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "alice", data["username"])
	assert.NotContains(t, rec.Body.String(), "s3cure-pass")

	// Duplicate username conflicts.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]interface{}{
		"username": "alice", "password": "other-pass1", "email": "b@example.com", "age": 30,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "USERNAME_TAKEN", decodeResponse(t, rec).Code)
}

func TestRegisterValidationError(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]interface{}{
		"username": "alice", "password": "short", "email": "alice@example.com",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeResponse(t, rec).Code)
}

func TestLoginEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "s3cure-pass", "alice@example.com")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"identifier": "alice", "password": "wrong-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeResponse(t, rec).Code)

	data := s.login(t, "alice", "s3cure-pass")
	assert.NotEmpty(t, data["access_token"])
	assert.NotEmpty(t, data["refresh_token"])
	assert.NotEmpty(t, data["session_id"])
	assert.Equal(t, false, data["requires_2fa"])
}

func TestLoginRateLimitEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "s3cure-pass", "alice@example.com")

	for i := 0; i < 10; i++ {
		s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"identifier": "alice", "password": "wrong-password",
		}, nil)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"identifier": "alice", "password": "s3cure-pass",
	}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeResponse(t, rec).Code)
}

func TestRefreshEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "s3cure-pass", "alice@example.com")
	data := s.login(t, "alice", "s3cure-pass")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": data["refresh_token"].(string),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	newPair := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.NotEmpty(t, newPair["access_token"])

	// The old refresh token is consumed.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": data["refresh_token"].(string),
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/auth/sessions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/auth/sessions", nil, map[string]string{
		"Authorization": "Bearer not-a-real-token",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListSessionsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "s3cure-pass", "alice@example.com")
	data := s.login(t, "alice", "s3cure-pass")

	rec := s.do(t, http.MethodGet, "/api/v1/auth/sessions", nil, map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", data["access_token"]),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	sessions, ok := decodeResponse(t, rec).Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, sessions, 1)
}

func TestValidateSessionEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "s3cure-pass", "alice@example.com")
	data := s.login(t, "alice", "s3cure-pass")
	sessionID := data["session_id"].(string)

	rec := s.do(t, http.MethodGet, "/api/v1/auth/sessions/"+sessionID+"/validate", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/auth/sessions/unknown-session/validate", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "SESSION_INVALID", decodeResponse(t, rec).Code)
}

func TestLogoutEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "s3cure-pass", "alice@example.com")
	data := s.login(t, "alice", "s3cure-pass")
	headers := map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", data["access_token"]),
	}

	rec := s.do(t, http.MethodPost, "/api/v1/auth/logout", map[string]string{
		"session_id":    data["session_id"].(string),
		"refresh_token": data["refresh_token"].(string),
	}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/auth/sessions/"+data["session_id"].(string)+"/validate", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTwoFactorFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "s3cure-pass", "alice@example.com")
	data := s.login(t, "alice", "s3cure-pass")
	headers := map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", data["access_token"]),
	}

	rec := s.do(t, http.MethodPost, "/api/v1/auth/2fa/setup", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	setupCode := s.delivery.codes[model.OTPPurposeTwoFASetup]
	require.NotEmpty(t, setupCode)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/2fa/enable", map[string]string{"code": setupCode}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	// The next login needs the second factor.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"identifier": "alice", "password": "s3cure-pass",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	challenge := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, true, challenge["requires_2fa"])
	preAuth := challenge["pre_auth_token"].(string)
	require.NotEmpty(t, preAuth)

	loginCode := s.delivery.codes[model.OTPPurposeTwoFALogin]
	rec = s.do(t, http.MethodPost, "/api/v1/auth/login/2fa", map[string]string{
		"pre_auth_token": preAuth, "code": "000000",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "OTP_MISMATCH", decodeResponse(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login/2fa", map[string]string{
		"pre_auth_token": preAuth, "code": loginCode,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	final := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.NotEmpty(t, final["access_token"])
}

func TestPasswordResetOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", "s3cure-pass", "alice@example.com")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/password-reset", map[string]string{
		"identifier": "alice",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Unknown identifiers get the same answer.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/password-reset", map[string]string{
		"identifier": "ghost",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	code := s.delivery.codes[model.OTPPurposeResetPassword]
	require.NotEmpty(t, code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/password-reset/complete", map[string]string{
		"identifier": "alice", "code": code, "new_password": "brand-new-pass",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	s.login(t, "alice", "brand-new-pass")
}

func TestUnknownEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
