// Package otp issues and verifies short-lived numeric one-time codes for
// password reset and two-factor login. Codes are stored hashed; the plaintext
// exists only in the delivery path.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"identity-service/internal/clock"
	"identity-service/internal/hashing"
	"identity-service/internal/model"
	"identity-service/internal/store"
	"identity-service/internal/util"
)

var (
	// ErrCodeNotFound means no unused code exists for the user and purpose.
	ErrCodeNotFound = errors.New("one-time code not found")
	// ErrCodeExpired means the latest unused code had already aged out. The
	// code is consumed on this path so it cannot be retried after expiry.
	ErrCodeExpired = errors.New("one-time code expired")
	// ErrCodeMismatch means the submitted code did not match. The stored code
	// stays unused so the user can retry.
	ErrCodeMismatch = errors.New("one-time code mismatch")
)

type Manager struct {
	codes  store.OTPRepository
	clock  clock.Clock
	ttl    time.Duration
	length int
}

func NewManager(codes store.OTPRepository, clk clock.Clock, ttl time.Duration, length int) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	return &Manager{codes: codes, clock: clk, ttl: ttl, length: length}
}

// Issue generates a fresh numeric code for the user and purpose, persists its
// hash, and returns the plaintext for delivery. Issuing a new code supersedes
// any previous one: verification always checks the newest unused code.
func (m *Manager) Issue(ctx context.Context, userID, purpose string) (string, error) {
	code, err := m.randomCode()
	if err != nil {
		return "", err
	}

	hash, salt, err := hashing.HashCode(code)
	if err != nil {
		return "", fmt.Errorf("failed to hash one-time code: %w", err)
	}

	now := m.clock.Now()
	record := &model.OneTimeCode{
		CodeID:    uuid.New().String(),
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  hash,
		CodeSalt:  salt,
		ExpiresAt: now.Add(m.ttl),
		IsUsed:    false,
		CreatedAt: now,
	}
	if err := m.codes.CreateCode(ctx, record); err != nil {
		return "", fmt.Errorf("failed to persist one-time code: %w", err)
	}

	util.Debug("One-time code issued",
		util.String("user_id", userID),
		util.String("purpose", purpose))
	return code, nil
}

// Verify checks the submitted code against the newest unused code for the
// user and purpose. An expired code is consumed; a mismatched one is not.
func (m *Manager) Verify(ctx context.Context, userID, purpose, code string) error {
	record, err := m.codes.GetLatestUnused(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, store.ErrCodeNotFound) {
			return ErrCodeNotFound
		}
		return fmt.Errorf("failed to load one-time code: %w", err)
	}

	now := m.clock.Now()
	if !record.ExpiresAt.After(now) {
		if err := m.codes.MarkUsed(ctx, record.CodeID); err != nil {
			return fmt.Errorf("failed to consume expired code: %w", err)
		}
		return ErrCodeExpired
	}

	if !hashing.VerifyCode(code, record.CodeHash, record.CodeSalt) {
		return ErrCodeMismatch
	}

	if err := m.codes.MarkUsed(ctx, record.CodeID); err != nil {
		return fmt.Errorf("failed to consume one-time code: %w", err)
	}
	return nil
}

// PurgeExpired removes codes that expired before now. Called by the janitor.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	return m.codes.DeleteExpired(ctx, m.clock.Now())
}

func (m *Manager) randomCode() (string, error) {
	digits := make([]byte, m.length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate one-time code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
