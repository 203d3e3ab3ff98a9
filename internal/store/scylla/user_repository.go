package scylla

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocql/gocql"

	"identity-service/internal/model"
	"identity-service/internal/store"
	"identity-service/internal/util"
)

// UserRepository persists users and profiles. Username and email lookups go
// through denormalized lookup tables written alongside the base row, the
// usual Scylla pattern for secondary access paths.
type UserRepository struct {
	client *Client
}

func NewUserRepository(client *Client) *UserRepository {
	return &UserRepository{client: client}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *model.User, profile *model.Profile) error {
	user.UsernameLower = strings.ToLower(user.Username)

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO users (user_id, username, username_lower, password_hash, is_active, is_2fa_enabled, two_fa_secret, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.UserID, user.Username, user.UsernameLower, user.PasswordHash,
		user.IsActive, user.Is2FAEnabled, user.TwoFASecret, user.CreatedAt, user.LastLogin)
	batch.Query(`INSERT INTO users_by_name (username_lower, user_id) VALUES (?, ?)`,
		user.UsernameLower, user.UserID)

	if profile != nil {
		profile.EmailLower = strings.ToLower(profile.Email)
		batch.Query(`INSERT INTO profiles (user_id, email, email_lower, first_name, last_name, age, gender)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			profile.UserID, profile.Email, profile.EmailLower,
			profile.FirstName, profile.LastName, profile.Age, profile.Gender)
		batch.Query(`INSERT INTO users_by_email (email_lower, user_id) VALUES (?, ?)`,
			profile.EmailLower, user.UserID)
	}

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create user",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	u := &model.User{}
	query := r.client.Session.Query(`SELECT user_id, username, username_lower, password_hash, is_active, is_2fa_enabled, two_fa_secret, created_at, last_login
		FROM users WHERE user_id = ?`, userID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&u.UserID, &u.Username, &u.UsernameLower, &u.PasswordHash,
		&u.IsActive, &u.Is2FAEnabled, &u.TwoFASecret, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var userID string
	query := r.client.Session.Query(`SELECT user_id FROM users_by_name WHERE username_lower = ?`,
		strings.ToLower(username)).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve username: %w", err)
	}
	return r.GetUserByID(ctx, userID)
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var userID string
	query := r.client.Session.Query(`SELECT user_id FROM users_by_email WHERE email_lower = ?`,
		strings.ToLower(email)).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve email: %w", err)
	}
	return r.GetUserByID(ctx, userID)
}

func (r *UserRepository) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p := &model.Profile{}
	query := r.client.Session.Query(`SELECT user_id, email, email_lower, first_name, last_name, age, gender
		FROM profiles WHERE user_id = ?`, userID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&p.UserID, &p.Email, &p.EmailLower, &p.FirstName, &p.LastName, &p.Age, &p.Gender)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, store.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

func (r *UserRepository) UpdateUser(ctx context.Context, userID string, upd model.UserUpdate) error {
	// Scylla updates are per-column; apply only the requested fields.
	assignments := make([]string, 0, 5)
	values := make([]interface{}, 0, 6)

	if upd.PasswordHash != nil {
		assignments = append(assignments, "password_hash = ?")
		values = append(values, *upd.PasswordHash)
	}
	if upd.IsActive != nil {
		assignments = append(assignments, "is_active = ?")
		values = append(values, *upd.IsActive)
	}
	if upd.Is2FAEnabled != nil {
		assignments = append(assignments, "is_2fa_enabled = ?")
		values = append(values, *upd.Is2FAEnabled)
	}
	if upd.TwoFASecret != nil {
		assignments = append(assignments, "two_fa_secret = ?")
		values = append(values, *upd.TwoFASecret)
	}
	if upd.LastLogin != nil {
		assignments = append(assignments, "last_login = ?")
		values = append(values, *upd.LastLogin)
	}
	if len(assignments) == 0 {
		return nil
	}
	values = append(values, userID)

	stmt := fmt.Sprintf("UPDATE users SET %s WHERE user_id = ?", strings.Join(assignments, ", "))
	query := r.client.Session.Query(stmt, values...).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update user",
			util.String("user_id", userID),
			util.ErrorField(err))
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}
