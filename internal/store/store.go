package store

import (
	"context"
	"errors"
	"time"

	"identity-service/internal/model"
)

// Not-found sentinels shared by every implementation family.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrCodeNotFound    = errors.New("one-time code not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrTokenNotFound   = errors.New("refresh token not found")
)

// UserRepository is the durable record of users and their profiles.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User, profile *model.Profile) error
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpdateUser(ctx context.Context, userID string, upd model.UserUpdate) error
}

// OTPRepository stores one-time code records. Codes are superseded by
// issuing a newer one, never overwritten in place.
type OTPRepository interface {
	CreateCode(ctx context.Context, code *model.OneTimeCode) error
	// GetLatestUnused returns the most recently created unused code of the
	// given purpose, or ErrCodeNotFound.
	GetLatestUnused(ctx context.Context, userID, purpose string) (*model.OneTimeCode, error)
	MarkUsed(ctx context.Context, codeID string) error
	DeleteExpired(ctx context.Context, olderThan time.Time) (int, error)
}

// SessionRepository stores session rows. Rows are deactivated, never deleted.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	DeactivateSession(ctx context.Context, sessionID string, at time.Time) error
	// DeactivateAllForUser returns the number of sessions affected.
	DeactivateAllForUser(ctx context.Context, username string, at time.Time) (int, error)
	ListActiveForUser(ctx context.Context, username string) ([]*model.Session, error)
	// DeactivateCreatedBefore deactivates every active session created before
	// the cutoff, regardless of last access. Returns the count affected.
	DeactivateCreatedBefore(ctx context.Context, cutoff time.Time, at time.Time) (int, error)
}

// AttemptRepository is the append-only login attempt ledger.
type AttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *model.LoginAttempt) error
	ListAttempts(ctx context.Context, identifier string, limit int) ([]*model.LoginAttempt, error)
}

// AuditRepository is the append-only security event ledger.
type AuditRepository interface {
	AppendEntry(ctx context.Context, entry *model.AuditEntry) error
	ListEntries(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error)
}

// RefreshTokenStore maps opaque refresh tokens to user ids. Redeem is the
// rotation primitive: it must remove the mapping in the same operation that
// resolves it, so a replayed token can never resolve twice.
type RefreshTokenStore interface {
	Store(ctx context.Context, token, userID string, ttl time.Duration) error
	// Redeem resolves and atomically removes the mapping, or returns
	// ErrTokenNotFound.
	Redeem(ctx context.Context, token string) (string, error)
	// Revoke removes a mapping; revoking an absent token is not an error.
	Revoke(ctx context.Context, token string) error
	// RevokeAllForUser removes every token mapped to the user.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}

// Store bundles the repository family handed to the managers. Both the
// Scylla-backed family and the in-memory family satisfy it.
type Store struct {
	Users    UserRepository
	Codes    OTPRepository
	Sessions SessionRepository
	Attempts AttemptRepository
	Audit    AuditRepository
	Refresh  RefreshTokenStore
}
