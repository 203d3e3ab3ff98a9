package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"identity-service/internal/model"
	"identity-service/internal/store"
	"identity-service/internal/util"
)

// OTPRepository persists one-time code records. The table is partitioned by
// (user_id, purpose) and clustered by created_at DESC, so the newest unused
// code is the first row of the partition.
type OTPRepository struct {
	client *Client
}

func NewOTPRepository(client *Client) *OTPRepository {
	return &OTPRepository{client: client}
}

func (r *OTPRepository) CreateCode(ctx context.Context, code *model.OneTimeCode) error {
	query := r.client.Session.Query(`INSERT INTO one_time_codes
		(user_id, purpose, created_at, code_id, code_hash, code_salt, expires_at, is_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		code.UserID, code.Purpose, code.CreatedAt, code.CodeID,
		code.CodeHash, code.CodeSalt, code.ExpiresAt, code.IsUsed).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create one-time code",
			util.String("user_id", code.UserID),
			util.String("purpose", code.Purpose),
			util.ErrorField(err))
		return fmt.Errorf("failed to create one-time code: %w", err)
	}
	return nil
}

func (r *OTPRepository) GetLatestUnused(ctx context.Context, userID, purpose string) (*model.OneTimeCode, error) {
	iter := r.client.Session.Query(`SELECT user_id, purpose, created_at, code_id, code_hash, code_salt, expires_at, is_used
		FROM one_time_codes WHERE user_id = ? AND purpose = ?`,
		userID, purpose).WithContext(ctx).Iter()

	c := &model.OneTimeCode{}
	found := false
	for iter.Scan(&c.UserID, &c.Purpose, &c.CreatedAt, &c.CodeID, &c.CodeHash, &c.CodeSalt, &c.ExpiresAt, &c.IsUsed) {
		if !c.IsUsed {
			found = true
			break
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get latest one-time code: %w", err)
	}
	if !found {
		return nil, store.ErrCodeNotFound
	}
	return c, nil
}

func (r *OTPRepository) MarkUsed(ctx context.Context, codeID string) error {
	// code_id is not part of the partition key; resolve it first.
	var userID, purpose string
	var createdAt time.Time
	err := r.client.Session.Query(`SELECT user_id, purpose, created_at FROM one_time_codes
		WHERE code_id = ? ALLOW FILTERING LIMIT 1`, codeID).WithContext(ctx).
		Scan(&userID, &purpose, &createdAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return store.ErrCodeNotFound
		}
		return fmt.Errorf("failed to find one-time code: %w", err)
	}

	query := r.client.Session.Query(`UPDATE one_time_codes SET is_used = true
		WHERE user_id = ? AND purpose = ? AND created_at = ?`,
		userID, purpose, createdAt).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to mark one-time code used: %w", err)
	}
	return nil
}

func (r *OTPRepository) DeleteExpired(ctx context.Context, olderThan time.Time) (int, error) {
	iter := r.client.Session.Query(`SELECT user_id, purpose, created_at FROM one_time_codes
		WHERE expires_at < ? ALLOW FILTERING`, olderThan).WithContext(ctx).Iter()

	var userID, purpose string
	var createdAt time.Time
	deleted := 0

	batch := r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	batchSize := 0

	for iter.Scan(&userID, &purpose, &createdAt) {
		batch.Query(`DELETE FROM one_time_codes WHERE user_id = ? AND purpose = ? AND created_at = ?`,
			userID, purpose, createdAt)
		batchSize++

		if batchSize >= 100 {
			if err := r.client.Session.ExecuteBatch(batch); err != nil {
				iter.Close()
				return deleted, fmt.Errorf("failed to delete expired codes: %w", err)
			}
			deleted += batchSize
			batch = r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
			batchSize = 0
		}
	}
	if batchSize > 0 {
		if err := r.client.Session.ExecuteBatch(batch); err != nil {
			iter.Close()
			return deleted, fmt.Errorf("failed to delete expired codes: %w", err)
		}
		deleted += batchSize
	}
	if err := iter.Close(); err != nil {
		return deleted, fmt.Errorf("failed to scan expired codes: %w", err)
	}

	if deleted > 0 {
		util.Info("Expired one-time codes purged", util.Int("deleted", deleted))
	}
	return deleted, nil
}
