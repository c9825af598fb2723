package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/learnhub/learnhub/internal/metrics"
	inats "github.com/learnhub/learnhub/internal/nats"
)

const consumerName = "audit-persister"

// Store persists audit logs.
type Store interface {
	Insert(ctx context.Context, l *Log) error
}

// Consumer persists events from the audit stream into audit_logs.
type Consumer struct {
	store       Store
	consumerMgr *inats.ConsumerManager
}

func NewConsumer(store Store, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		store:       store,
		consumerMgr: consumerMgr,
	}
}

// Start runs the fetch loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.Ensure(ctx, inats.ConsumerSpec{
		Stream:     inats.StreamAudit,
		Durable:    consumerName,
		Subject:    inats.SubjectAuditEvent,
		MaxDeliver: 10,
	})
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handle(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Acker is the part of a JetStream message the consumer acknowledges.
type Acker interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

func (c *Consumer) handle(ctx context.Context, msg Acker) {
	var event inats.AuditEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		// Malformed payloads will never decode, so stop redelivery.
		slog.Error("audit consumer: unmarshaling event", "error", err)
		_ = msg.Term()
		return
	}

	l := FromNATSEvent(event)
	if err := c.store.Insert(ctx, l); err != nil {
		slog.Error("audit consumer: persisting audit log", "error", err, "event_type", event.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
	metrics.AuditEventsPersistedTotal.Inc()
}

// FromNATSEvent converts a wire event into a row. A nil UserID is stored as
// NULL for system events.
func FromNATSEvent(event inats.AuditEvent) *Log {
	l := &Log{
		ID:           uuid.New(),
		ActorID:      event.ActorID,
		EventType:    event.EventType,
		Severity:     event.Severity,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Details:      event.Details,
		IPAddress:    event.IPAddress,
		OccurredAt:   event.Timestamp,
	}
	if event.UserID != uuid.Nil {
		id := event.UserID
		l.UserID = &id
	}
	if l.Severity == "" {
		l.Severity = SeverityInfo
	}
	return l
}
