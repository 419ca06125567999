package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"session-service/internal/client"
)

// Security event types emitted by the session flows.
const (
	LoginSucceeded = "login_succeeded"
	LoginFailed    = "login_failed"
	LoginRejected  = "login_rejected_locked"
	AccountLocked  = "account_locked"
	TokenRefreshed = "token_refreshed"
	LoggedOut      = "logged_out"
)

const publishTimeout = 2 * time.Second

// SecurityEvent is the audit record for one auth-flow outcome. No
// credentials or tokens ever appear here.
type SecurityEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Identity   string    `json:"identity,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits security events to Kafka. A nil Publisher is valid and
// drops everything, so flows never branch on whether auditing is enabled.
type Publisher struct {
	producer *client.KafkaProducer
	topic    string
	logger   *zap.Logger
}

func NewPublisher(producer *client.KafkaProducer, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Publish is fire-and-forget: failures are logged, never returned. The audit
// stream must not affect login/refresh/logout outcomes.
func (p *Publisher) Publish(ctx context.Context, eventType, identity string) {
	if p == nil || p.producer == nil {
		return
	}

	event := SecurityEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		Identity:   identity,
		OccurredAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal security event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.producer.ProduceMessage(ctx, p.topic, []byte(identity), payload); err != nil {
		p.logger.Warn("failed to publish security event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}
