// Package audit records security events: who did what, from where, when.
// Recording is best effort by contract; an audit outage must never block a
// login or logout.
package audit

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"identity-service/internal/clock"
	"identity-service/internal/model"
	"identity-service/internal/store"
	"identity-service/internal/util"
)

const maxUserAgentLen = 255

// Sensitive detail keys are dropped before an entry is written. Matching is
// by substring, so "reset_code" and "otp_attempt" are caught too.
var sensitiveKeyFragments = []string{"password", "secret", "code", "token", "otp"}

// Publisher fans entries out to a stream after they are stored. Implemented
// by the Kafka publisher; nil when streaming is disabled.
type Publisher interface {
	Publish(ctx context.Context, entry *model.AuditEntry)
}

type Service struct {
	audit     store.AuditRepository
	publisher Publisher
	clock     clock.Clock
}

func NewService(auditRepo store.AuditRepository, publisher Publisher, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System()
	}
	return &Service{audit: auditRepo, publisher: publisher, clock: clk}
}

// Log records one security event and reports whether it was persisted.
// Details are redacted and the user agent clamped before anything is
// written. A storage failure is logged and swallowed.
func (s *Service) Log(ctx context.Context, userID, action, ipAddress, userAgent string, details map[string]string) bool {
	entry := &model.AuditEntry{
		EntryID:   uuid.New().String(),
		UserID:    userID,
		Action:    action,
		IPAddress: ipAddress,
		UserAgent: truncateUserAgent(userAgent),
		Details:   redact(details),
		CreatedAt: s.clock.Now(),
	}

	if err := s.audit.AppendEntry(ctx, entry); err != nil {
		util.Error("Failed to persist audit entry",
			util.String("action", action),
			util.String("user_id", userID),
			util.ErrorField(err))
		return false
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, entry)
	}
	return true
}

// List returns stored entries, optionally filtered to one user.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error) {
	return s.audit.ListEntries(ctx, userID, limit)
}

func redact(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]string, len(details))
	for k, v := range details {
		lower := strings.ToLower(k)
		drop := false
		for _, fragment := range sensitiveKeyFragments {
			if strings.Contains(lower, fragment) {
				drop = true
				break
			}
		}
		if !drop {
			out[k] = v
		}
	}
	return out
}

func truncateUserAgent(ua string) string {
	if len(ua) <= maxUserAgentLen {
		return ua
	}
	return ua[:maxUserAgentLen-3] + "..."
}
