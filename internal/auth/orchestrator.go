// Package auth orchestrates the identity flows: registration, login with an
// optional second factor, password reset, token rotation, and account
// lifecycle. Each operation runs its steps in a fixed order so failures are
// classified the same way every time.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"identity-service/internal/audit"
	"identity-service/internal/clock"
	"identity-service/internal/hashing"
	"identity-service/internal/model"
	"identity-service/internal/otp"
	"identity-service/internal/ratelimit"
	"identity-service/internal/session"
	"identity-service/internal/store"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

// AttemptSink mirrors login attempts to an analytics store. Implemented by
// the ClickHouse sink; nil when analytics is disabled.
type AttemptSink interface {
	Record(ctx context.Context, attempt *model.LoginAttempt)
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Users    store.UserRepository
	Attempts store.AttemptRepository

	Codes     *otp.Manager
	Tokens    *token.Manager
	Sessions  *session.Manager
	Audit     *audit.Service
	Passwords *hashing.PasswordHasher
	Delivery  CodeDelivery
	Sink      AttemptSink
	Clock     clock.Clock

	LoginLimiter     *ratelimit.Limiter
	RegisterLimiter  *ratelimit.Limiter
	ResetLimiter     *ratelimit.Limiter
	AnalyticsLimiter *ratelimit.Limiter
}

type Orchestrator struct {
	users    store.UserRepository
	attempts store.AttemptRepository

	codes     *otp.Manager
	tokens    *token.Manager
	sessions  *session.Manager
	audit     *audit.Service
	passwords *hashing.PasswordHasher
	delivery  CodeDelivery
	sink      AttemptSink
	clock     clock.Clock

	loginLimiter     *ratelimit.Limiter
	registerLimiter  *ratelimit.Limiter
	resetLimiter     *ratelimit.Limiter
	analyticsLimiter *ratelimit.Limiter
}

func NewOrchestrator(opts Options) *Orchestrator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	delivery := opts.Delivery
	if delivery == nil {
		delivery = LogDelivery{}
	}
	return &Orchestrator{
		users:           opts.Users,
		attempts:        opts.Attempts,
		codes:           opts.Codes,
		tokens:          opts.Tokens,
		sessions:        opts.Sessions,
		audit:           opts.Audit,
		passwords:       opts.Passwords,
		delivery:        delivery,
		sink:            opts.Sink,
		clock:           clk,
		loginLimiter:     opts.LoginLimiter,
		registerLimiter:  opts.RegisterLimiter,
		resetLimiter:     opts.ResetLimiter,
		analyticsLimiter: opts.AnalyticsLimiter,
	}
}

// RequestMeta carries the caller context every flow records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// RegisterInput is the registration payload after transport decoding.
type RegisterInput struct {
	Username  string
	Password  string
	Email     string
	FirstName string
	LastName  string
	Age       int
	Gender    string
}

// Register creates a new active account with its profile.
func (o *Orchestrator) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*model.User, error) {
	key := meta.IPAddress
	if key == "" {
		key = strings.ToLower(in.Username)
	}
	if limited, retryAfter := o.registerLimiter.Check(key); limited {
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	if _, err := o.users.GetUserByUsername(ctx, in.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if _, err := o.users.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	passwordHash, err := o.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	user := &model.User{
		UserID:        uuid.New().String(),
		Username:      in.Username,
		UsernameLower: strings.ToLower(in.Username),
		PasswordHash:  passwordHash,
		IsActive:      true,
		CreatedAt:     now,
	}
	profile := &model.Profile{
		UserID:     user.UserID,
		Email:      in.Email,
		EmailLower: strings.ToLower(in.Email),
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Age:        in.Age,
		Gender:     in.Gender,
	}
	if err := o.users.CreateUser(ctx, user, profile); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	o.audit.Log(ctx, user.UserID, model.ActionRegister, meta.IPAddress, meta.UserAgent, map[string]string{
		"username": user.Username,
	})
	util.Info("User registered", util.String("username", user.Username))
	return user, nil
}

// LoginResult is what a successful password check yields. When the account
// has two-factor enabled only PreAuthToken is set and Requires2FA is true;
// otherwise the full credential set is present.
type LoginResult struct {
	Requires2FA  bool
	PreAuthToken string

	AccessToken  string
	RefreshToken string
	SessionID    string
	User         *model.User
}

// Login verifies a password and either completes the login or opens a
// two-factor challenge. Steps run in a fixed order: rate limit, lookup,
// password, account status, second factor.
func (o *Orchestrator) Login(ctx context.Context, identifier, password string, meta RequestMeta) (*LoginResult, error) {
	if limited, retryAfter := o.loginLimiter.Check(strings.ToLower(identifier)); limited {
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	user, err := o.findUser(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			o.recordAttempt(ctx, identifier, false, model.FailureInvalidCredentials, meta)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !o.passwords.Verify(user.PasswordHash, password) {
		o.recordAttempt(ctx, identifier, false, model.FailureInvalidCredentials, meta)
		return nil, ErrInvalidCredentials
	}

	// Account status is checked after the password and before the second
	// factor: a deactivated account never receives a challenge code.
	if !user.IsActive {
		o.recordAttempt(ctx, identifier, false, model.FailureAccountDeactivated, meta)
		return nil, ErrAccountDeactivated
	}

	if user.Is2FAEnabled {
		code, err := o.codes.Issue(ctx, user.UserID, model.OTPPurposeTwoFALogin)
		if err != nil {
			return nil, err
		}
		if err := o.delivery.Deliver(ctx, user, model.OTPPurposeTwoFALogin, code); err != nil {
			return nil, fmt.Errorf("failed to deliver challenge code: %w", err)
		}
		preAuth, err := o.tokens.IssuePreAuthToken(user.UserID, user.Username)
		if err != nil {
			return nil, err
		}
		o.audit.Log(ctx, user.UserID, model.ActionLogin2FAInitiated, meta.IPAddress, meta.UserAgent, nil)
		return &LoginResult{Requires2FA: true, PreAuthToken: preAuth}, nil
	}

	return o.finishLogin(ctx, user, identifier, meta)
}

// Verify2FA completes a pending two-factor login. Guesses are throttled per
// account so a code cannot be brute-forced within the pre-auth window.
func (o *Orchestrator) Verify2FA(ctx context.Context, preAuthToken, code string, meta RequestMeta) (*LoginResult, error) {
	claims, err := o.tokens.VerifyPreAuthToken(preAuthToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if limited, retryAfter := o.loginLimiter.Check("2fa:" + claims.UserID); limited {
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	user, err := o.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		o.recordAttempt(ctx, user.Username, false, model.FailureAccountDeactivated, meta)
		return nil, ErrAccountDeactivated
	}

	if err := o.codes.Verify(ctx, user.UserID, model.OTPPurposeTwoFALogin, code); err != nil {
		switch {
		case errors.Is(err, otp.ErrCodeExpired):
			o.recordAttempt(ctx, user.Username, false, model.FailureOTPExpired, meta)
			return nil, ErrOTPExpired
		case errors.Is(err, otp.ErrCodeMismatch), errors.Is(err, otp.ErrCodeNotFound):
			o.recordAttempt(ctx, user.Username, false, model.FailureOTPMismatch, meta)
			return nil, ErrOTPMismatch
		default:
			return nil, err
		}
	}

	return o.finishLogin(ctx, user, user.Username, meta)
}

func (o *Orchestrator) finishLogin(ctx context.Context, user *model.User, identifier string, meta RequestMeta) (*LoginResult, error) {
	sess, err := o.sessions.Create(ctx, user.UserID, user.Username)
	if err != nil {
		return nil, err
	}
	accessToken, err := o.tokens.IssueAccessToken(user.UserID, user.Username, sess.SessionID)
	if err != nil {
		return nil, err
	}
	refreshToken, err := o.tokens.IssueRefreshToken(ctx, user.UserID)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	if err := o.users.UpdateUser(ctx, user.UserID, model.UserUpdate{LastLogin: &now}); err != nil {
		util.Warn("Failed to update last login", util.String("user_id", user.UserID), util.ErrorField(err))
	}
	user.LastLogin = &now

	o.recordAttempt(ctx, identifier, true, "", meta)
	o.audit.Log(ctx, user.UserID, model.ActionLogin, meta.IPAddress, meta.UserAgent, map[string]string{
		"session_id": sess.SessionID,
	})

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sess.SessionID,
		User:         user,
	}, nil
}

// Logout ends one of the caller's sessions and revokes the paired refresh
// token. Logging out twice, or with an unknown session, succeeds quietly. A
// session belonging to a different user is left untouched.
func (o *Orchestrator) Logout(ctx context.Context, userID, sessionID, refreshToken string, meta RequestMeta) error {
	if sess, err := o.sessions.Get(ctx, sessionID); err == nil && sess.UserID != userID {
		return nil
	}

	if err := o.sessions.Invalidate(ctx, sessionID); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := o.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
			util.Warn("Failed to revoke refresh token on logout", util.ErrorField(err))
		}
	}

	o.audit.Log(ctx, userID, model.ActionLogout, meta.IPAddress, meta.UserAgent, nil)
	return nil
}

// TokenPair is the result of a refresh rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// RefreshAccessToken redeems a refresh token and issues a replacement pair.
// The redeemed token is consumed even if the account turns out deactivated.
func (o *Orchestrator) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := o.tokens.RedeemRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	user, err := o.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	accessToken, err := o.tokens.IssueAccessToken(user.UserID, user.Username, "")
	if err != nil {
		return nil, err
	}
	newRefresh, err := o.tokens.IssueRefreshToken(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: newRefresh}, nil
}

// ValidateSession confirms a session is live and returns its record.
func (o *Orchestrator) ValidateSession(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := o.sessions.Validate(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionInvalid) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	return sess, nil
}

// ListSessions returns the user's active sessions.
func (o *Orchestrator) ListSessions(ctx context.Context, username string) ([]*model.Session, error) {
	return o.sessions.ListActive(ctx, username)
}

// InitiatePasswordReset issues a reset code for the account behind the
// identifier. An unknown identifier returns success without doing anything,
// so the endpoint cannot confirm which accounts exist.
func (o *Orchestrator) InitiatePasswordReset(ctx context.Context, identifier string, meta RequestMeta) error {
	if limited, retryAfter := o.resetLimiter.Check(strings.ToLower(identifier)); limited {
		return &RateLimitError{RetryAfter: retryAfter}
	}

	user, err := o.findUser(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			util.Debug("Password reset requested for unknown identifier")
			return nil
		}
		return err
	}

	code, err := o.codes.Issue(ctx, user.UserID, model.OTPPurposeResetPassword)
	if err != nil {
		return err
	}
	if err := o.delivery.Deliver(ctx, user, model.OTPPurposeResetPassword, code); err != nil {
		return fmt.Errorf("failed to deliver reset code: %w", err)
	}

	o.audit.Log(ctx, user.UserID, model.ActionPasswordReset, meta.IPAddress, meta.UserAgent, map[string]string{
		"status": "initiated",
	})
	return nil
}

// CompletePasswordReset verifies the reset code and installs the new
// password. Every session and refresh token the account holds is revoked.
// Initiation and completion share one limiter budget per identifier, so
// repeated code guesses are throttled the same way repeated requests are.
func (o *Orchestrator) CompletePasswordReset(ctx context.Context, identifier, code, newPassword string, meta RequestMeta) error {
	if limited, retryAfter := o.resetLimiter.Check(strings.ToLower(identifier)); limited {
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := o.findUser(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrOTPMismatch
		}
		return err
	}

	if err := o.codes.Verify(ctx, user.UserID, model.OTPPurposeResetPassword, code); err != nil {
		switch {
		case errors.Is(err, otp.ErrCodeExpired):
			return ErrOTPExpired
		case errors.Is(err, otp.ErrCodeMismatch), errors.Is(err, otp.ErrCodeNotFound):
			return ErrOTPMismatch
		default:
			return err
		}
	}

	passwordHash, err := o.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := o.users.UpdateUser(ctx, user.UserID, model.UserUpdate{PasswordHash: &passwordHash}); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	o.revokeEverything(ctx, user)

	o.audit.Log(ctx, user.UserID, model.ActionPasswordReset, meta.IPAddress, meta.UserAgent, map[string]string{
		"status": "completed",
	})
	util.Info("Password reset completed", util.String("username", user.Username))
	return nil
}

// ChangePassword replaces the password for an authenticated user after
// re-verifying the current one. Other sessions stay live; only refresh
// tokens are rotated out from under them.
func (o *Orchestrator) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, meta RequestMeta) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := o.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !o.passwords.Verify(user.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}

	passwordHash, err := o.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := o.users.UpdateUser(ctx, userID, model.UserUpdate{PasswordHash: &passwordHash}); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if _, err := o.tokens.RevokeAllRefreshTokens(ctx, userID); err != nil {
		util.Warn("Failed to revoke refresh tokens after password change", util.ErrorField(err))
	}

	o.audit.Log(ctx, userID, model.ActionPasswordChanged, meta.IPAddress, meta.UserAgent, nil)
	return nil
}

// Send2FASetupCode issues a setup challenge so the user can prove they can
// receive codes before two-factor is switched on. Issuance shares a limiter
// budget with Enable2FA, keyed by account.
func (o *Orchestrator) Send2FASetupCode(ctx context.Context, userID string) error {
	if limited, retryAfter := o.resetLimiter.Check("setup:" + userID); limited {
		return &RateLimitError{RetryAfter: retryAfter}
	}

	user, err := o.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !user.IsActive {
		return ErrAccountDeactivated
	}

	code, err := o.codes.Issue(ctx, userID, model.OTPPurposeTwoFASetup)
	if err != nil {
		return err
	}
	if err := o.delivery.Deliver(ctx, user, model.OTPPurposeTwoFASetup, code); err != nil {
		return fmt.Errorf("failed to deliver setup code: %w", err)
	}
	return nil
}

// Enable2FA turns on the second factor once the setup code checks out.
func (o *Orchestrator) Enable2FA(ctx context.Context, userID, code string, meta RequestMeta) error {
	if limited, retryAfter := o.resetLimiter.Check("setup:" + userID); limited {
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if err := o.codes.Verify(ctx, userID, model.OTPPurposeTwoFASetup, code); err != nil {
		switch {
		case errors.Is(err, otp.ErrCodeExpired):
			return ErrOTPExpired
		case errors.Is(err, otp.ErrCodeMismatch), errors.Is(err, otp.ErrCodeNotFound):
			return ErrOTPMismatch
		default:
			return err
		}
	}

	enabled := true
	if err := o.users.UpdateUser(ctx, userID, model.UserUpdate{Is2FAEnabled: &enabled}); err != nil {
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}
	o.audit.Log(ctx, userID, model.ActionTwoFAEnabled, meta.IPAddress, meta.UserAgent, nil)
	return nil
}

// Disable2FA turns off the second factor. The password is re-verified so a
// hijacked session cannot quietly weaken the account.
func (o *Orchestrator) Disable2FA(ctx context.Context, userID, password string, meta RequestMeta) error {
	user, err := o.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !o.passwords.Verify(user.PasswordHash, password) {
		return ErrInvalidCredentials
	}

	disabled := false
	if err := o.users.UpdateUser(ctx, userID, model.UserUpdate{Is2FAEnabled: &disabled}); err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}
	o.audit.Log(ctx, userID, model.ActionTwoFADisabled, meta.IPAddress, meta.UserAgent, nil)
	return nil
}

// DeactivateUser switches the account off and revokes everything it holds.
// Deactivation is reversible in the store but there is no self-service
// reactivation path.
func (o *Orchestrator) DeactivateUser(ctx context.Context, userID string, meta RequestMeta) error {
	user, err := o.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	inactive := false
	if err := o.users.UpdateUser(ctx, userID, model.UserUpdate{IsActive: &inactive}); err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}

	o.revokeEverything(ctx, user)

	o.audit.Log(ctx, userID, model.ActionUserDeactivated, meta.IPAddress, meta.UserAgent, nil)
	util.Info("User deactivated", util.String("username", user.Username))
	return nil
}

// AuditTrail returns recent audit entries for a user. Operator surface,
// throttled by the analytics limiter.
func (o *Orchestrator) AuditTrail(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error) {
	if o.analyticsLimiter != nil {
		if limited, retryAfter := o.analyticsLimiter.Check("audit:" + userID); limited {
			return nil, &RateLimitError{RetryAfter: retryAfter}
		}
	}
	return o.audit.List(ctx, userID, limit)
}

// LoginHistory returns recent attempts for an identifier. Operator surface,
// throttled by the analytics limiter.
func (o *Orchestrator) LoginHistory(ctx context.Context, identifier string, limit int) ([]*model.LoginAttempt, error) {
	if o.analyticsLimiter != nil {
		if limited, retryAfter := o.analyticsLimiter.Check("attempts:" + strings.ToLower(identifier)); limited {
			return nil, &RateLimitError{RetryAfter: retryAfter}
		}
	}
	return o.attempts.ListAttempts(ctx, identifier, limit)
}

func (o *Orchestrator) revokeEverything(ctx context.Context, user *model.User) {
	if _, err := o.sessions.InvalidateAll(ctx, user.Username); err != nil {
		util.Warn("Failed to invalidate sessions", util.String("user_id", user.UserID), util.ErrorField(err))
	}
	if _, err := o.tokens.RevokeAllRefreshTokens(ctx, user.UserID); err != nil {
		util.Warn("Failed to revoke refresh tokens", util.String("user_id", user.UserID), util.ErrorField(err))
	}
}

// findUser resolves an identifier that may be a username or an email.
func (o *Orchestrator) findUser(ctx context.Context, identifier string) (*model.User, error) {
	user, err := o.users.GetUserByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if strings.Contains(identifier, "@") {
		return o.users.GetUserByEmail(ctx, identifier)
	}
	return nil, store.ErrUserNotFound
}

func (o *Orchestrator) recordAttempt(ctx context.Context, identifier string, success bool, reason string, meta RequestMeta) {
	attempt := &model.LoginAttempt{
		AttemptID:     uuid.New().String(),
		Identifier:    identifier,
		Success:       success,
		FailureReason: reason,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		CreatedAt:     o.clock.Now(),
	}
	if err := o.attempts.RecordAttempt(ctx, attempt); err != nil {
		util.Error("Failed to record login attempt", util.ErrorField(err))
	}
	if o.sink != nil {
		o.sink.Record(ctx, attempt)
	}
}

func validateRegistration(in RegisterInput) error {
	if len(in.Username) < 3 || len(in.Username) > 32 {
		return validationError("username must be 3-32 characters")
	}
	for _, r := range in.Username {
		if !isUsernameRune(r) {
			return validationError("username may only contain letters, digits, '.', '_' and '-'")
		}
	}
	if err := validatePassword(in.Password); err != nil {
		return err
	}
	if !strings.Contains(in.Email, "@") {
		return validationError("email is invalid")
	}
	if in.Age < 0 || in.Age > 150 {
		return validationError("age is out of range")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return validationError("password must be at least 8 characters")
	}
	if len(password) > 128 {
		return validationError("password must be at most 128 characters")
	}
	return nil
}

func isUsernameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}

// RunMaintenance performs one sweep of every expiring resource. The janitor
// calls the pieces on a schedule; an operator endpoint can call this for an
// on-demand pass.
func (o *Orchestrator) RunMaintenance(ctx context.Context) error {
	if err := o.sweepSessions(ctx); err != nil {
		return err
	}
	if err := o.sweepCodes(ctx); err != nil {
		return err
	}
	o.sweepLimiters()
	return nil
}

func (o *Orchestrator) sweepSessions(ctx context.Context) error {
	cleaned, err := o.sessions.CleanupStale(ctx)
	if err != nil {
		return err
	}
	if cleaned > 0 {
		o.audit.Log(ctx, "", model.ActionSessionCleanup, "", "", map[string]string{
			"deactivated": fmt.Sprintf("%d", cleaned),
		})
	}
	return nil
}

func (o *Orchestrator) sweepCodes(ctx context.Context) error {
	purged, err := o.codes.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		util.Debug("Expired one-time codes purged", util.Int("count", purged))
	}
	return nil
}

func (o *Orchestrator) sweepLimiters() {
	o.loginLimiter.Evict()
	o.registerLimiter.Evict()
	o.resetLimiter.Evict()
	if o.analyticsLimiter != nil {
		o.analyticsLimiter.Evict()
	}
}
