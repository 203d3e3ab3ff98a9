package scylla

import (
	"context"
	"fmt"
	"strings"

	"identity-service/internal/bucketing"
	"identity-service/internal/model"
	"identity-service/internal/util"
)

// AttemptRepository is the append-only login attempt ledger, partitioned by
// the lowercased identifier and clustered newest-first.
type AttemptRepository struct {
	client *Client
}

func NewAttemptRepository(client *Client) *AttemptRepository {
	return &AttemptRepository{client: client}
}

func (r *AttemptRepository) RecordAttempt(ctx context.Context, attempt *model.LoginAttempt) error {
	query := r.client.Session.Query(`INSERT INTO login_attempts
		(identifier_lower, created_at, attempt_id, identifier, success, failure_reason, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToLower(attempt.Identifier), attempt.CreatedAt, attempt.AttemptID,
		attempt.Identifier, attempt.Success, attempt.FailureReason,
		attempt.IPAddress, attempt.UserAgent).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to record login attempt",
			util.String("identifier", attempt.Identifier),
			util.ErrorField(err))
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) ListAttempts(ctx context.Context, identifier string, limit int) ([]*model.LoginAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	iter := r.client.Session.Query(`SELECT attempt_id, identifier, success, failure_reason, ip_address, user_agent, created_at
		FROM login_attempts WHERE identifier_lower = ? LIMIT ?`,
		strings.ToLower(identifier), limit).WithContext(ctx).Iter()

	var out []*model.LoginAttempt
	for {
		a := &model.LoginAttempt{}
		if !iter.Scan(&a.AttemptID, &a.Identifier, &a.Success, &a.FailureReason, &a.IPAddress, &a.UserAgent, &a.CreatedAt) {
			break
		}
		out = append(out, a)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list login attempts: %w", err)
	}
	return out, nil
}

// AuditRepository is the append-only security event ledger. Rows are spread
// across murmur3 buckets so no single user produces a runaway partition.
type AuditRepository struct {
	client  *Client
	buckets *bucketing.Manager
}

func NewAuditRepository(client *Client, buckets *bucketing.Manager) *AuditRepository {
	return &AuditRepository{client: client, buckets: buckets}
}

func (r *AuditRepository) AppendEntry(ctx context.Context, entry *model.AuditEntry) error {
	bucket := r.buckets.Bucket(entry.UserID + entry.Action)

	query := r.client.Session.Query(`INSERT INTO audit_log
		(bucket, created_at, entry_id, user_id, action, ip_address, user_agent, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		bucket, entry.CreatedAt, entry.EntryID, entry.UserID,
		entry.Action, entry.IPAddress, entry.UserAgent, entry.Details).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListEntries(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	// Audit reads are an operator path, not a request path; scanning every
	// bucket is acceptable here.
	var out []*model.AuditEntry
	for _, bucket := range r.buckets.Buckets() {
		iter := r.client.Session.Query(`SELECT entry_id, user_id, action, ip_address, user_agent, details, created_at
			FROM audit_log WHERE bucket = ? LIMIT ?`, bucket, limit).WithContext(ctx).Iter()
		for {
			e := &model.AuditEntry{}
			if !iter.Scan(&e.EntryID, &e.UserID, &e.Action, &e.IPAddress, &e.UserAgent, &e.Details, &e.CreatedAt) {
				break
			}
			if userID == "" || e.UserID == userID {
				out = append(out, e)
			}
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to list audit entries: %w", err)
		}
	}
	return out, nil
}
