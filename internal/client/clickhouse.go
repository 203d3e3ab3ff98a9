package client

import (
	"context"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"identity-service/internal/config"
	"identity-service/internal/model"
	"identity-service/internal/util"
)

// AttemptSink mirrors login attempts into ClickHouse for the analytics side
// (failed-login dashboards, brute-force reporting). The primary store stays
// authoritative; sink writes are best effort.
type AttemptSink struct {
	conn driver.Conn
}

func NewAttemptSink(cfg *config.Config) (*AttemptSink, error) {
	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Clickhouse.URL},
		Auth: ch.Auth{
			Database: cfg.Clickhouse.Database,
			Username: cfg.Clickhouse.Username,
			Password: cfg.Clickhouse.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	util.Info("ClickHouse attempt sink initialized",
		util.String("database", cfg.Clickhouse.Database),
	)

	return &AttemptSink{conn: conn}, nil
}

// Record appends one login attempt row. Errors are logged, never returned.
func (s *AttemptSink) Record(ctx context.Context, attempt *model.LoginAttempt) {
	err := s.conn.Exec(ctx, `INSERT INTO login_attempts
		(attempt_id, identifier, success, failure_reason, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.AttemptID, attempt.Identifier, attempt.Success,
		attempt.FailureReason, attempt.IPAddress, attempt.UserAgent, attempt.CreatedAt)
	if err != nil {
		util.Warn("Failed to mirror login attempt to ClickHouse", util.ErrorField(err))
	}
}

func (s *AttemptSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
