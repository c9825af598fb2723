package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	inats "github.com/learnhub/learnhub/internal/nats"
)

const publishTimeout = 5 * time.Second

// Recorder accepts audit events. Implementations never block the caller on
// delivery and never report failure.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// EventPublisher is the subset of the NATS publisher the recorder needs.
type EventPublisher interface {
	PublishAuditEvent(ctx context.Context, event inats.AuditEvent) error
}

// PublishingRecorder forwards events to the audit stream in the background.
type PublishingRecorder struct {
	pub EventPublisher
	now func() time.Time
}

func NewPublishingRecorder(pub EventPublisher) *PublishingRecorder {
	return &PublishingRecorder{pub: pub, now: time.Now}
}

func (r *PublishingRecorder) Record(ctx context.Context, e Event) {
	event := ToNATSEvent(e, r.now().UTC())

	// Detach from the request so a finished response doesn't cancel delivery.
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := r.pub.PublishAuditEvent(ctx, event); err != nil {
			slog.Warn("publishing audit event", "error", err, "event_type", e.Type, "user_id", e.UserID)
		}
	}()
}

// ToNATSEvent converts a recorded event to its wire form.
func ToNATSEvent(e Event, at time.Time) inats.AuditEvent {
	severity := e.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	out := inats.AuditEvent{
		UserID:       e.UserID,
		ActorID:      e.ActorID,
		EventType:    e.Type,
		Severity:     severity,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		IPAddress:    e.IPAddress,
		Timestamp:    at,
	}
	if len(e.Details) > 0 {
		if data, err := json.Marshal(e.Details); err == nil {
			out.Details = data
		} else {
			slog.Warn("marshaling audit details", "error", err, "event_type", e.Type)
		}
	}
	return out
}

// Nop discards events. It is used when NATS is not configured.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}
