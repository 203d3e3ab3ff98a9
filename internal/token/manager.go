// Package token issues and verifies the three credential kinds of the
// identity subsystem: signed access tokens, signed pre-auth tokens bridging
// the two-factor login gap, and opaque rotating refresh tokens.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"identity-service/internal/clock"
	"identity-service/internal/store"
)

const (
	// ScopeSession marks a full access token.
	ScopeSession = "session"
	// ScopePreAuth marks the limited token issued after password verification
	// when two-factor is enabled. It is only good for completing the
	// challenge, never for accessing resources.
	ScopePreAuth = "pre_auth"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrWrongScope   = errors.New("token scope mismatch")
)

// Claims carried by signed tokens.
type Claims struct {
	UserID    string
	Username  string
	SessionID string
	Scope     string
}

type Manager struct {
	secret     []byte
	clock      clock.Clock
	accessTTL  time.Duration
	preAuthTTL time.Duration
	refreshTTL time.Duration
	refresh    store.RefreshTokenStore
}

func NewManager(secret string, clk clock.Clock, accessTTL, preAuthTTL, refreshTTL time.Duration, refresh store.RefreshTokenStore) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	return &Manager{
		secret:     []byte(secret),
		clock:      clk,
		accessTTL:  accessTTL,
		preAuthTTL: preAuthTTL,
		refreshTTL: refreshTTL,
		refresh:    refresh,
	}
}

// IssueAccessToken signs a session-scoped token for the user.
func (m *Manager) IssueAccessToken(userID, username, sessionID string) (string, error) {
	return m.sign(Claims{
		UserID:    userID,
		Username:  username,
		SessionID: sessionID,
		Scope:     ScopeSession,
	}, m.accessTTL)
}

// IssuePreAuthToken signs the short-lived token returned when a password
// check succeeds but a second factor is still outstanding.
func (m *Manager) IssuePreAuthToken(userID, username string) (string, error) {
	return m.sign(Claims{
		UserID:   userID,
		Username: username,
		Scope:    ScopePreAuth,
	}, m.preAuthTTL)
}

func (m *Manager) sign(c Claims, ttl time.Duration) (string, error) {
	now := m.clock.Now()
	claims := jwt.MapClaims{
		"sub":      c.UserID,
		"username": c.Username,
		"scope":    c.Scope,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	if c.SessionID != "" {
		claims["sid"] = c.SessionID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken parses a session-scoped token. Anything off, expired
// signature, wrong algorithm, wrong scope, fails closed.
func (m *Manager) VerifyAccessToken(tokenString string) (*Claims, error) {
	return m.verify(tokenString, ScopeSession)
}

// VerifyPreAuthToken parses a pre-auth token.
func (m *Manager) VerifyPreAuthToken(tokenString string) (*Claims, error) {
	return m.verify(tokenString, ScopePreAuth)
}

func (m *Manager) verify(tokenString, wantScope string) (*Claims, error) {
	// Claims validation is done against the injected clock below, so the
	// parser only checks structure and signature.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}
	if !m.clock.Now().Before(time.Unix(int64(exp), 0)) {
		return nil, ErrTokenExpired
	}

	scope, _ := claims["scope"].(string)
	if scope != wantScope {
		return nil, ErrWrongScope
	}

	out := &Claims{Scope: scope}
	out.UserID, _ = claims["sub"].(string)
	out.Username, _ = claims["username"].(string)
	out.SessionID, _ = claims["sid"].(string)
	if out.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return out, nil
}

// IssueRefreshToken mints an opaque token and records its owner.
func (m *Manager) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	if err := m.refresh.Store(ctx, token, userID, m.refreshTTL); err != nil {
		return "", err
	}
	return token, nil
}

// RedeemRefreshToken resolves and atomically consumes a refresh token,
// returning the owning user ID. The caller issues a replacement; a redeemed
// token can never be replayed.
func (m *Manager) RedeemRefreshToken(ctx context.Context, token string) (string, error) {
	return m.refresh.Redeem(ctx, token)
}

// RevokeRefreshToken discards a refresh token. Revoking an unknown token is
// a no-op.
func (m *Manager) RevokeRefreshToken(ctx context.Context, token string) error {
	return m.refresh.Revoke(ctx, token)
}

// RevokeAllRefreshTokens discards every refresh token owned by the user.
func (m *Manager) RevokeAllRefreshTokens(ctx context.Context, userID string) (int, error) {
	return m.refresh.RevokeAllForUser(ctx, userID)
}
