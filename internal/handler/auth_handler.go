package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"identity-service/internal/auth"
	"identity-service/internal/model"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

// AuthHandler exposes the identity flows over HTTP.
type AuthHandler struct {
	orch   *auth.Orchestrator
	tokens *token.Manager
	logger *zap.Logger
}

func NewAuthHandler(orch *auth.Orchestrator, tokens *token.Manager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{orch: orch, tokens: tokens, logger: logger}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

// RegisterRoutes mounts the auth endpoints.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		// Public endpoints
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/login/2fa", h.Verify2FA)
		r.Post("/refresh", h.Refresh)
		r.Post("/password-reset", h.InitiatePasswordReset)
		r.Post("/password-reset/complete", h.CompletePasswordReset)
		r.Get("/sessions/{sessionID}/validate", h.ValidateSession)

		// Endpoints requiring a verified access token
		r.Group(func(r chi.Router) {
			r.Use(RequireAccessToken(h.tokens))
			r.Post("/logout", h.Logout)
			r.Get("/sessions", h.ListSessions)
			r.Post("/password", h.ChangePassword)
			r.Post("/2fa/setup", h.Send2FASetupCode)
			r.Post("/2fa/enable", h.Enable2FA)
			r.Post("/2fa/disable", h.Disable2FA)
			r.Post("/deactivate", h.Deactivate)
			r.Get("/audit", h.AuditTrail)
		})
	})
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

type registerRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
}

type userResponse struct {
	UserID       string     `json:"user_id"`
	Username     string     `json:"username"`
	IsActive     bool       `json:"is_active"`
	Is2FAEnabled bool       `json:"is_2fa_enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		UserID:       u.UserID,
		Username:     u.Username,
		IsActive:     u.IsActive,
		Is2FAEnabled: u.Is2FAEnabled,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	user, err := h.orch.Register(r.Context(), auth.RegisterInput{
		Username:  req.Username,
		Password:  req.Password,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Age:       req.Age,
		Gender:    req.Gender,
	}, requestMeta(r))
	if err != nil {
		h.respondWithAuthError(w, err, "Registration failed")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(toUserResponse(user), "User registered successfully"))
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	Requires2FA  bool          `json:"requires_2fa"`
	PreAuthToken string        `json:"pre_auth_token,omitempty"`
	AccessToken  string        `json:"access_token,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	User         *userResponse `json:"user,omitempty"`
}

func toLoginResponse(result *auth.LoginResult) loginResponse {
	resp := loginResponse{
		Requires2FA:  result.Requires2FA,
		PreAuthToken: result.PreAuthToken,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		SessionID:    result.SessionID,
	}
	if result.User != nil {
		u := toUserResponse(result.User)
		resp.User = &u
	}
	return resp
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.orch.Login(r.Context(), req.Identifier, req.Password, requestMeta(r))
	if err != nil {
		h.respondWithAuthError(w, err, "Login failed")
		return
	}

	message := "Login successful"
	if result.Requires2FA {
		message = "Verification code required"
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(toLoginResponse(result), message))
}

type verify2FARequest struct {
	PreAuthToken string `json:"pre_auth_token"`
	Code         string `json:"code"`
}

func (h *AuthHandler) Verify2FA(w http.ResponseWriter, r *http.Request) {
	var req verify2FARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.orch.Verify2FA(r.Context(), req.PreAuthToken, req.Code, requestMeta(r))
	if err != nil {
		h.respondWithAuthError(w, err, "Verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(toLoginResponse(result), "Login successful"))
}

type logoutRequest struct {
	SessionID    string `json:"session_id"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing claims"), "Unauthorized")
		return
	}

	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.orch.Logout(r.Context(), claims.UserID, req.SessionID, req.RefreshToken, requestMeta(r)); err != nil {
		h.respondWithAuthError(w, err, "Logout failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	pair, err := h.orch.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondWithAuthError(w, err, "Token refresh failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	}, "Token refreshed"))
}

type passwordResetRequest struct {
	Identifier string `json:"identifier"`
}

func (h *AuthHandler) InitiatePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.orch.InitiatePasswordReset(r.Context(), req.Identifier, requestMeta(r)); err != nil {
		h.respondWithAuthError(w, err, "Password reset failed")
		return
	}

	// Same response whether or not the identifier exists.
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "If the account exists, a reset code has been sent"))
}

type completeResetRequest struct {
	Identifier  string `json:"identifier"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req completeResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.orch.CompletePasswordReset(r.Context(), req.Identifier, req.Code, req.NewPassword, requestMeta(r)); err != nil {
		h.respondWithAuthError(w, err, "Password reset failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Password reset successfully"))
}

func (h *AuthHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("session id is required"), "Session ID is required")
		return
	}

	sess, err := h.orch.ValidateSession(r.Context(), sessionID)
	if err != nil {
		h.respondWithAuthError(w, err, "Session validation failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"session_id":    sess.SessionID,
		"username":      sess.Username,
		"created_at":    sess.CreatedAt,
		"last_accessed": sess.LastAccessed,
	}, "Session is valid"))
}

func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing claims"), "Unauthorized")
		return
	}

	sessions, err := h.orch.ListSessions(r.Context(), claims.Username)
	if err != nil {
		h.respondWithAuthError(w, err, "Failed to list sessions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(sessions, "Active sessions"))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing claims"), "Unauthorized")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.orch.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword, requestMeta(r)); err != nil {
		h.respondWithAuthError(w, err, "Password change failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Password changed"))
}

func (h *AuthHandler) Send2FASetupCode(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing claims"), "Unauthorized")
		return
	}

	if err := h.orch.Send2FASetupCode(r.Context(), claims.UserID); err != nil {
		h.respondWithAuthError(w, err, "Failed to send setup code")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Setup code sent"))
}

type enable2FARequest struct {
	Code string `json:"code"`
}

func (h *AuthHandler) Enable2FA(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing claims"), "Unauthorized")
		return
	}

	var req enable2FARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.orch.Enable2FA(r.Context(), claims.UserID, req.Code, requestMeta(r)); err != nil {
		h.respondWithAuthError(w, err, "Failed to enable two-factor")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Two-factor authentication enabled"))
}

type disable2FARequest struct {
	Password string `json:"password"`
}

func (h *AuthHandler) Disable2FA(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing claims"), "Unauthorized")
		return
	}

	var req disable2FARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.orch.Disable2FA(r.Context(), claims.UserID, req.Password, requestMeta(r)); err != nil {
		h.respondWithAuthError(w, err, "Failed to disable two-factor")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Two-factor authentication disabled"))
}

func (h *AuthHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing claims"), "Unauthorized")
		return
	}

	if err := h.orch.DeactivateUser(r.Context(), claims.UserID, requestMeta(r)); err != nil {
		h.respondWithAuthError(w, err, "Deactivation failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Account deactivated"))
}

func (h *AuthHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing claims"), "Unauthorized")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.orch.AuditTrail(r.Context(), claims.UserID, limit)
	if err != nil {
		h.respondWithAuthError(w, err, "Failed to load audit trail")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(entries, "Audit trail"))
}

// respondWithAuthError translates orchestrator errors to HTTP statuses.
func (h *AuthHandler) respondWithAuthError(w http.ResponseWriter, err error, message string) {
	var rateErr *auth.RateLimitError
	if errors.As(err, &rateErr) {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfter))
		h.respondWithJSON(w, http.StatusTooManyRequests, Response{
			Success: false,
			Error:   "too many requests",
			Code:    string(auth.CodeRateLimited),
			Message: message,
		})
		return
	}

	var authErr *auth.Error
	if errors.As(err, &authErr) {
		h.respondWithJSON(w, statusForCode(authErr.Code), Response{
			Success: false,
			Error:   authErr.Message,
			Code:    string(authErr.Code),
			Message: message,
		})
		return
	}

	h.logger.Error("Internal error handling request", util.ErrorField(err))
	h.respondWithJSON(w, http.StatusInternalServerError, Response{
		Success: false,
		Error:   "internal server error",
		Message: message,
	})
}

func statusForCode(code auth.Code) int {
	switch code {
	case auth.CodeValidation:
		return http.StatusBadRequest
	case auth.CodeInvalidCredentials, auth.CodeTokenInvalid, auth.CodeSessionInvalid,
		auth.CodeOTPExpired, auth.CodeOTPMismatch:
		return http.StatusUnauthorized
	case auth.CodeAccountDeactivated:
		return http.StatusForbidden
	case auth.CodeUserNotFound:
		return http.StatusNotFound
	case auth.CodeUsernameTaken, auth.CodeEmailTaken:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.respondWithJSON(w, status, Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	})
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}
