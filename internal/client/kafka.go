package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"identity-service/internal/config"
	"identity-service/internal/model"
	"identity-service/internal/util"
)

// AuditPublisher streams audit entries to Kafka for downstream consumers
// (SIEM, alerting). Publishing is best effort: a broker outage must never
// fail the security flow that produced the entry.
type AuditPublisher struct {
	writer *kafka.Writer
	topic  string
}

func NewAuditPublisher(cfg *config.Config) *AuditPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				util.Error("Failed to write audit messages to Kafka",
					util.ErrorField(err),
					util.Int("message_count", len(messages)),
				)
			}
		},
	}

	util.Info("Kafka audit publisher initialized",
		util.String("topic", cfg.Kafka.AuditTopic),
		util.Int("brokers", len(cfg.Kafka.Brokers)),
	)

	return &AuditPublisher{writer: writer, topic: cfg.Kafka.AuditTopic}
}

// Publish enqueues one audit entry. Errors are logged, never returned.
func (p *AuditPublisher) Publish(ctx context.Context, entry *model.AuditEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		util.Error("Failed to marshal audit entry for Kafka", util.ErrorField(err))
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.Action),
		Value: payload,
		Time:  entry.CreatedAt,
	}); err != nil {
		util.Warn("Failed to enqueue audit entry to Kafka", util.ErrorField(err))
	}
}

func (p *AuditPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
