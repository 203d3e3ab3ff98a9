package scylla

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"identity-service/internal/model"
	"identity-service/internal/store"
	"identity-service/internal/util"
)

// SessionRepository persists session rows keyed by session_id, with a
// per-user lookup table for "list my devices" and bulk revocation. Rows are
// flipped inactive rather than deleted so login history survives.
type SessionRepository struct {
	client *Client
}

func NewSessionRepository(client *Client) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *model.Session) error {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO sessions (session_id, user_id, username, is_active, created_at, last_accessed, logged_out_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.UserID, session.Username,
		session.IsActive, session.CreatedAt, session.LastAccessed, session.LoggedOutAt)
	batch.Query(`INSERT INTO sessions_by_user (username_lower, created_at, session_id)
		VALUES (?, ?, ?)`,
		strings.ToLower(session.Username), session.CreatedAt, session.SessionID)

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create session",
			util.String("session_id", session.SessionID),
			util.ErrorField(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	s := &model.Session{}
	query := r.client.Session.Query(`SELECT session_id, user_id, username, is_active, created_at, last_accessed, logged_out_at
		FROM sessions WHERE session_id = ?`, sessionID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&s.SessionID, &s.UserID, &s.Username, &s.IsActive, &s.CreatedAt, &s.LastAccessed, &s.LoggedOutAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := r.client.Session.Query(`UPDATE sessions SET last_accessed = ? WHERE session_id = ?`,
		at, sessionID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeactivateSession(ctx context.Context, sessionID string, at time.Time) error {
	query := r.client.Session.Query(`UPDATE sessions SET is_active = false, logged_out_at = ? WHERE session_id = ?`,
		at, sessionID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeactivateAllForUser(ctx context.Context, username string, at time.Time) (int, error) {
	sessions, err := r.ListActiveForUser(ctx, username)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range sessions {
		if err := r.DeactivateSession(ctx, s.SessionID, at); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (r *SessionRepository) ListActiveForUser(ctx context.Context, username string) ([]*model.Session, error) {
	iter := r.client.Session.Query(`SELECT session_id FROM sessions_by_user WHERE username_lower = ?`,
		strings.ToLower(username)).WithContext(ctx).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}

	var out []*model.Session
	for _, sessionID := range ids {
		s, err := r.GetSession(ctx, sessionID)
		if err != nil {
			if err == store.ErrSessionNotFound {
				continue
			}
			return nil, err
		}
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *SessionRepository) DeactivateCreatedBefore(ctx context.Context, cutoff time.Time, at time.Time) (int, error) {
	iter := r.client.Session.Query(`SELECT session_id FROM sessions
		WHERE is_active = true AND created_at < ? ALLOW FILTERING`, cutoff).WithContext(ctx).Iter()

	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to scan stale sessions: %w", err)
	}

	count := 0
	for _, sessionID := range ids {
		if err := r.DeactivateSession(ctx, sessionID, at); err != nil {
			return count, err
		}
		count++
	}
	if count > 0 {
		util.Info("Stale sessions deactivated", util.Int("count", count))
	}
	return count, nil
}
