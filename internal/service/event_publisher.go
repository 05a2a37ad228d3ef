package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-mastery-api/internal/observability"
)

// Domain event types.
const (
	EventAttemptCompleted        = "attempt.completed"
	EventMasteryUpdated          = "mastery.updated"
	EventSubmissionGraded        = "submission.graded"
	EventSubmissionNeedsReview   = "submission.needs_review"
	EventSubmissionReviewUpdated = "submission.review_updated"
)

// DomainEvent is the envelope written to every transport.
type DomainEvent struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	Source        string      `json:"source"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
	Data          interface{} `json:"data"`
}

// EventPublisher fans domain events out to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

type brokerPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	source       string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewEventPublisher publishes to a Redis channel and NATS subjects derived from channelBase.
// Either transport may be nil.
func NewEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) EventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &brokerPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		source:       uuid.NewString(),
		logger:       logger.With().Str("component", "event_publisher").Logger(),
		now:          time.Now,
	}
}

func (p *brokerPublisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	event := DomainEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        p.source,
		CorrelationID: observability.CorrelationID(ctx),
		OccurredAt:    p.now().UTC(),
		Data:          data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			return err
		}
		observability.EventsPublished().WithLabelValues(eventType, "redis").Inc()
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject+"."+eventType, payload); err != nil {
			return err
		}
		observability.EventsPublished().WithLabelValues(eventType, "nats").Inc()
	}

	p.logger.Debug().Str("event_id", event.ID).Str("event_type", eventType).Msg("domain event published")
	return nil
}

// publishEvent never fails the caller; events are emitted after the state change committed.
func publishEvent(ctx context.Context, publisher EventPublisher, logger zerolog.Logger, eventType string, data interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, eventType, data); err != nil {
		logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish domain event")
	}
}
