// Package events publishes rule-engine action events to Kafka for downstream
// consumers such as care-team inboxes and patient messaging.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/ehr/rpm/internal/platform/telemetry"
)

const (
	TypeAlertCreated        = "alert.created"
	TypeVisitRequestCreated = "visit_request.created"
)

var ErrPublisherClosed = errors.New("publisher is closed")

// Event describes an artifact produced by a triggered rule.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       string                 `json:"type"`
	PatientID  uuid.UUID              `json:"patient_id"`
	RuleID     uuid.UUID              `json:"rule_id"`
	ArtifactID uuid.UUID              `json:"artifact_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards events. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by patient id, so every event for one
// patient lands on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	logger zerolog.Logger
	closed atomic.Bool
}

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		Compression:  compress.Snappy,
		MaxAttempts:  3,
	}
	return newKafkaPublisher(w, logger), nil
}

func newKafkaPublisher(w messageWriter, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		logger: logger.With().Str("component", "event-publisher").Logger(),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	msg, err := encode(e)
	if err != nil {
		telemetry.EventsPublished.WithLabelValues(e.Type, "failed").Inc()
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		telemetry.EventsPublished.WithLabelValues(e.Type, "failed").Inc()
		return fmt.Errorf("write event %s: %w", e.Type, err)
	}

	telemetry.EventsPublished.WithLabelValues(e.Type, "ok").Inc()
	p.logger.Debug().Str("event_type", e.Type).Str("patient_id", e.PatientID.String()).Msg("event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

func encode(e Event) (kafka.Message, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serialize event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.PatientID.String()),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, nil
}
