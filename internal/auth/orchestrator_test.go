package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/audit"
	"identity-service/internal/clock"
	"identity-service/internal/hashing"
	"identity-service/internal/model"
	"identity-service/internal/otp"
	"identity-service/internal/ratelimit"
	"identity-service/internal/session"
	"identity-service/internal/store"
	"identity-service/internal/store/memory"
	"identity-service/internal/token"
)

// captureDelivery remembers the last code per purpose so tests can play the
// role of the user reading their phone.
type captureDelivery struct {
	codes map[string]string
}

func (d *captureDelivery) Deliver(_ context.Context, _ *model.User, purpose, code string) error {
	d.codes[purpose] = code
	return nil
}

type testEnv struct {
	orch     *Orchestrator
	clock    *clock.Fake
	store    *store.Store
	delivery *captureDelivery
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	st := memory.New()
	delivery := &captureDelivery{codes: make(map[string]string)}

	orch := NewOrchestrator(Options{
		Users:           st.Users,
		Attempts:        st.Attempts,
		Codes:           otp.NewManager(st.Codes, clk, 5*time.Minute, 6),
		Tokens:          token.NewManager("test-secret", clk, 15*time.Minute, 5*time.Minute, 30*24*time.Hour, st.Refresh),
		Sessions:        session.NewManager(st.Sessions, clk, 24*time.Hour),
		Audit:           audit.NewService(st.Audit, nil, clk),
		Passwords:       hashing.NewPasswordHasher(4),
		Delivery:        delivery,
		Clock:           clk,
		LoginLimiter:    ratelimit.NewLimiter(10, time.Minute, clk),
		RegisterLimiter: ratelimit.NewLimiter(10, time.Minute, clk),
		ResetLimiter:    ratelimit.NewLimiter(10, time.Minute, clk),
	})
	return &testEnv{orch: orch, clock: clk, store: st, delivery: delivery}
}

var meta = RequestMeta{IPAddress: "10.0.0.1", UserAgent: "test-agent"}

func (e *testEnv) register(t *testing.T, username, password, email string) *model.User {
	t.Helper()
	user, err := e.orch.Register(context.Background(), RegisterInput{
		Username:  username,
		Password:  password,
		Email:     email,
		FirstName: "Test",
		LastName:  "User",
		Age:       30,
	}, meta)
	require.NoError(t, err)
	return user
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")
	assert.True(t, user.IsActive)
	assert.False(t, user.Is2FAEnabled)

	_, err := env.orch.Login(ctx, "alice", "wrong-password", meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	result, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)
	assert.False(t, result.Requires2FA)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.NotEmpty(t, result.SessionID)
	require.NotNil(t, result.User.LastLogin)
}

func TestLoginByEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "s3cure-pass", "alice@example.com")

	result, err := env.orch.Login(context.Background(), "alice@example.com", "s3cure-pass", meta)
	require.NoError(t, err)
	assert.Equal(t, "alice", result.User.Username)
}

func TestLoginUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.orch.Login(ctx, "nobody", "whatever-pass", meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	attempts, err := env.orch.LoginHistory(ctx, "nobody", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
	assert.Equal(t, model.FailureInvalidCredentials, attempts[0].FailureReason)
}

func TestRegisterDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "s3cure-pass", "alice@example.com")

	_, err := env.orch.Register(ctx, RegisterInput{
		Username: "ALICE", Password: "other-pass1", Email: "other@example.com",
	}, meta)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = env.orch.Register(ctx, RegisterInput{
		Username: "bob", Password: "other-pass1", Email: "Alice@Example.com",
	}, meta)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []RegisterInput{
		{Username: "ab", Password: "long-enough", Email: "a@b.c"},
		{Username: "has spaces", Password: "long-enough", Email: "a@b.c"},
		{Username: "valid", Password: "short", Email: "a@b.c"},
		{Username: "valid", Password: "long-enough", Email: "not-an-email"},
	}
	for _, in := range cases {
		_, err := env.orch.Register(ctx, in, meta)
		var authErr *Error
		require.ErrorAs(t, err, &authErr, "input %+v", in)
		assert.Equal(t, CodeValidation, authErr.Code)
	}
}

func TestDeactivatedAccountCannotLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")

	require.NoError(t, env.orch.DeactivateUser(ctx, user.UserID, meta))

	_, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	assert.ErrorIs(t, err, ErrAccountDeactivated)

	attempts, err := env.orch.LoginHistory(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.FailureAccountDeactivated, attempts[0].FailureReason)
}

func TestDeactivationCheckedBeforeSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")
	env.enable2FA(t, user.UserID)

	require.NoError(t, env.orch.DeactivateUser(ctx, user.UserID, meta))
	delete(env.delivery.codes, model.OTPPurposeTwoFALogin)

	// A deactivated account is rejected before any challenge code goes out.
	_, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	assert.ErrorIs(t, err, ErrAccountDeactivated)
	assert.NotContains(t, env.delivery.codes, model.OTPPurposeTwoFALogin)
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "s3cure-pass", "alice@example.com")

	for i := 0; i < 10; i++ {
		_, err := env.orch.Login(ctx, "alice", "wrong-password", meta)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// The limit applies before credentials are even looked at.
	_, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Greater(t, rateErr.RetryAfter, 0)

	// After the window slides past, the correct password works again.
	env.clock.Advance(61 * time.Second)
	_, err = env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)
}

func (e *testEnv) enable2FA(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.orch.Send2FASetupCode(ctx, userID))
	code := e.delivery.codes[model.OTPPurposeTwoFASetup]
	require.NotEmpty(t, code)
	require.NoError(t, e.orch.Enable2FA(ctx, userID, code, meta))
}

func TestTwoFactorLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")
	env.enable2FA(t, user.UserID)

	result, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)
	assert.True(t, result.Requires2FA)
	assert.NotEmpty(t, result.PreAuthToken)
	assert.Empty(t, result.AccessToken)

	code := env.delivery.codes[model.OTPPurposeTwoFALogin]
	require.NotEmpty(t, code)

	// A wrong guess is rejected but does not burn the code.
	_, err = env.orch.Verify2FA(ctx, result.PreAuthToken, "000000", meta)
	assert.ErrorIs(t, err, ErrOTPMismatch)

	final, err := env.orch.Verify2FA(ctx, result.PreAuthToken, code, meta)
	require.NoError(t, err)
	assert.NotEmpty(t, final.AccessToken)
	assert.NotEmpty(t, final.SessionID)
}

func TestTwoFactorGuessesAreThrottled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")
	env.enable2FA(t, user.UserID)

	result, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)
	code := env.delivery.codes[model.OTPPurposeTwoFALogin]
	require.NotEmpty(t, code)

	for i := 0; i < 10; i++ {
		_, err := env.orch.Verify2FA(ctx, result.PreAuthToken, "000000", meta)
		assert.ErrorIs(t, err, ErrOTPMismatch)
	}

	// Once the budget is spent even the right code is refused.
	_, err = env.orch.Verify2FA(ctx, result.PreAuthToken, code, meta)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Greater(t, rateErr.RetryAfter, 0)

	env.clock.Advance(61 * time.Second)
	final, err := env.orch.Verify2FA(ctx, result.PreAuthToken, code, meta)
	require.NoError(t, err)
	assert.NotEmpty(t, final.AccessToken)
}

func TestSetupCodeIssuanceIsThrottled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")

	for i := 0; i < 10; i++ {
		require.NoError(t, env.orch.Send2FASetupCode(ctx, user.UserID))
	}

	err := env.orch.Send2FASetupCode(ctx, user.UserID)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Greater(t, rateErr.RetryAfter, 0)
}

func TestPasswordResetCompletionIsThrottled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "s3cure-pass", "alice@example.com")

	require.NoError(t, env.orch.InitiatePasswordReset(ctx, "alice", meta))
	code := env.delivery.codes[model.OTPPurposeResetPassword]
	require.NotEmpty(t, code)

	// Initiation took one slot; nine guesses exhaust the rest.
	for i := 0; i < 9; i++ {
		err := env.orch.CompletePasswordReset(ctx, "alice", "000000", "brand-new-pass", meta)
		assert.ErrorIs(t, err, ErrOTPMismatch)
	}

	err := env.orch.CompletePasswordReset(ctx, "alice", "000000", "brand-new-pass", meta)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)

	env.clock.Advance(61 * time.Second)
	require.NoError(t, env.orch.CompletePasswordReset(ctx, "alice", code, "brand-new-pass", meta))
	_, err = env.orch.Login(ctx, "alice", "brand-new-pass", meta)
	require.NoError(t, err)
}

func TestPasswordResetCodeExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "s3cure-pass", "alice@example.com")

	require.NoError(t, env.orch.InitiatePasswordReset(ctx, "alice", meta))
	code := env.delivery.codes[model.OTPPurposeResetPassword]
	require.NotEmpty(t, code)

	env.clock.Advance(6 * time.Minute)
	err := env.orch.CompletePasswordReset(ctx, "alice", code, "brand-new-pass", meta)
	assert.ErrorIs(t, err, ErrOTPExpired)

	// Expiry consumed the code, so a retry cannot succeed either.
	err = env.orch.CompletePasswordReset(ctx, "alice", code, "brand-new-pass", meta)
	assert.ErrorIs(t, err, ErrOTPMismatch)

	_, err = env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err, "password is unchanged after a failed reset")
}

func TestPreAuthTokenExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")
	env.enable2FA(t, user.UserID)

	result, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)
	code := env.delivery.codes[model.OTPPurposeTwoFALogin]

	env.clock.Advance(6 * time.Minute)
	_, err = env.orch.Verify2FA(ctx, result.PreAuthToken, code, meta)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "s3cure-pass", "alice@example.com")

	// A live session that the reset should kill.
	login, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)

	require.NoError(t, env.orch.InitiatePasswordReset(ctx, "alice@example.com", meta))
	code := env.delivery.codes[model.OTPPurposeResetPassword]
	require.NotEmpty(t, code)

	err = env.orch.CompletePasswordReset(ctx, "alice", "999999", "brand-new-pass", meta)
	assert.ErrorIs(t, err, ErrOTPMismatch)

	require.NoError(t, env.orch.CompletePasswordReset(ctx, "alice", code, "brand-new-pass", meta))

	_, err = env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.orch.Login(ctx, "alice", "brand-new-pass", meta)
	require.NoError(t, err)

	// The pre-reset session and refresh token are gone.
	_, err = env.orch.ValidateSession(ctx, login.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = env.orch.RefreshAccessToken(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestPasswordResetUnknownIdentifierIsSilent(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.orch.InitiatePasswordReset(context.Background(), "ghost", meta))
}

func TestRefreshTokenRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "s3cure-pass", "alice@example.com")

	login, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)

	pair, err := env.orch.RefreshAccessToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, login.RefreshToken, pair.RefreshToken)

	// The redeemed token is dead; only the replacement works.
	_, err = env.orch.RefreshAccessToken(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = env.orch.RefreshAccessToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")

	login, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)

	_, err = env.orch.ValidateSession(ctx, login.SessionID)
	require.NoError(t, err)

	require.NoError(t, env.orch.Logout(ctx, user.UserID, login.SessionID, login.RefreshToken, meta))

	_, err = env.orch.ValidateSession(ctx, login.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = env.orch.RefreshAccessToken(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// Logging out again is quiet.
	require.NoError(t, env.orch.Logout(ctx, user.UserID, login.SessionID, login.RefreshToken, meta))
}

func TestLogoutCannotEndAnotherUsersSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "s3cure-pass", "alice@example.com")
	mallory := env.register(t, "mallory", "m4llory-pass", "mallory@example.com")

	loginTime := env.clock.Now()
	aliceLogin, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)

	// A caller holding a valid token for a different account cannot end the
	// session, and the attempt leaves its last-accessed time alone.
	env.clock.Advance(time.Minute)
	require.NoError(t, env.orch.Logout(ctx, mallory.UserID, aliceLogin.SessionID, "", meta))

	sess, err := env.store.Sessions.GetSession(ctx, aliceLogin.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.IsActive)
	assert.Equal(t, loginTime, sess.LastAccessed)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")

	err := env.orch.ChangePassword(ctx, user.UserID, "wrong-current", "next-pass-123", meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, env.orch.ChangePassword(ctx, user.UserID, "s3cure-pass", "next-pass-123", meta))

	_, err = env.orch.Login(ctx, "alice", "next-pass-123", meta)
	require.NoError(t, err)
}

func TestDisable2FA(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")
	env.enable2FA(t, user.UserID)

	err := env.orch.Disable2FA(ctx, user.UserID, "wrong-password", meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, env.orch.Disable2FA(ctx, user.UserID, "s3cure-pass", meta))

	// Login goes straight through again.
	result, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)
	assert.False(t, result.Requires2FA)
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")

	_, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)

	entries, err := env.orch.AuditTrail(ctx, user.UserID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	actions := []string{entries[0].Action, entries[1].Action}
	assert.Contains(t, actions, model.ActionRegister)
	assert.Contains(t, actions, model.ActionLogin)
}

func TestMaintenanceSweepsStaleSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "s3cure-pass", "alice@example.com")

	login, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)
	require.NoError(t, env.orch.RunMaintenance(ctx))

	_, err = env.orch.ValidateSession(ctx, login.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	entries, err := env.orch.AuditTrail(ctx, "", 10)
	require.NoError(t, err)
	var sawCleanup bool
	for _, e := range entries {
		if e.Action == model.ActionSessionCleanup {
			sawCleanup = true
			assert.Equal(t, "1", e.Details["deactivated"])
		}
	}
	assert.True(t, sawCleanup)
}

func TestAnalyticsReadsAreThrottled(t *testing.T) {
	env := newTestEnv(t)
	env.orch.analyticsLimiter = ratelimit.NewLimiter(3, time.Minute, env.clock)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")

	for i := 0; i < 3; i++ {
		_, err := env.orch.AuditTrail(ctx, user.UserID, 10)
		require.NoError(t, err)
	}

	_, err := env.orch.AuditTrail(ctx, user.UserID, 10)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)

	// Another user's trail is unaffected.
	_, err = env.orch.AuditTrail(ctx, "someone-else", 10)
	require.NoError(t, err)
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice", "s3cure-pass", "alice@example.com")

	first, err := env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)
	_, err = env.orch.Login(ctx, "alice", "s3cure-pass", meta)
	require.NoError(t, err)

	sessions, err := env.orch.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, env.orch.Logout(ctx, user.UserID, first.SessionID, "", meta))
	sessions, err = env.orch.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
