// Package session manages server-side session records: one per login, listed
// per user, invalidated on logout, and swept by the janitor once they pass
// the maximum age.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"identity-service/internal/clock"
	"identity-service/internal/model"
	"identity-service/internal/store"
	"identity-service/internal/util"
)

// ErrSessionInvalid covers every failed validation: unknown ID, logged out,
// or swept. Callers get one signal so responses cannot leak which it was.
var ErrSessionInvalid = errors.New("session invalid")

type Manager struct {
	sessions store.SessionRepository
	clock    clock.Clock
	maxAge   time.Duration
}

func NewManager(sessions store.SessionRepository, clk clock.Clock, maxAge time.Duration) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	return &Manager{sessions: sessions, clock: clk, maxAge: maxAge}
}

// Create opens a new session for the user and returns its unguessable ID.
func (m *Manager) Create(ctx context.Context, userID, username string) (*model.Session, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := m.clock.Now()
	session := &model.Session{
		SessionID:    base64.RawURLEncoding.EncodeToString(raw),
		UserID:       userID,
		Username:     username,
		IsActive:     true,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := m.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Validate confirms the session is active, bumps its last-accessed time, and
// returns the owning record.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.IsActive {
		return nil, ErrSessionInvalid
	}

	now := m.clock.Now()
	if err := m.sessions.TouchSession(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	session.LastAccessed = now
	return session, nil
}

// Get returns the session record without bumping last-accessed. Unknown
// sessions map to ErrSessionInvalid like every other lookup failure.
func (m *Manager) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Invalidate ends a session. Ending an already-ended or unknown session is
// not an error.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	_, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	return m.sessions.DeactivateSession(ctx, sessionID, m.clock.Now())
}

// InvalidateAll ends every active session belonging to the user and reports
// how many it ended.
func (m *Manager) InvalidateAll(ctx context.Context, username string) (int, error) {
	return m.sessions.DeactivateAllForUser(ctx, username, m.clock.Now())
}

// ListActive returns the user's active sessions, the "your devices" view.
func (m *Manager) ListActive(ctx context.Context, username string) ([]*model.Session, error) {
	return m.sessions.ListActiveForUser(ctx, username)
}

// CleanupStale deactivates sessions older than the maximum age. Age is
// measured from creation, not last access, so a busy session still expires
// once it is old enough.
func (m *Manager) CleanupStale(ctx context.Context) (int, error) {
	now := m.clock.Now()
	cutoff := now.Add(-m.maxAge)
	count, err := m.sessions.DeactivateCreatedBefore(ctx, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up stale sessions: %w", err)
	}
	if count > 0 {
		util.Info("Session cleanup pass complete", util.Int("deactivated", count))
	}
	return count, nil
}
