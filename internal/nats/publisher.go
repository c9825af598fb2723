package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher sends the platform's outbound events as JSON. Each subject has
// one typed method.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) PublishEmail(ctx context.Context, msg NotificationMessage) error {
	return p.publish(ctx, SubjectEmail, msg.ID, msg)
}

func (p *Publisher) PublishSMS(ctx context.Context, msg NotificationMessage) error {
	return p.publish(ctx, SubjectSMS, msg.ID, msg)
}

func (p *Publisher) PublishAuditEvent(ctx context.Context, event AuditEvent) error {
	return p.publish(ctx, SubjectAuditEvent, "", event)
}

// PublishDocumentSync dedupes on document and attempt, so a retried publish
// of the same attempt is dropped by the server.
func (p *Publisher) PublishDocumentSync(ctx context.Context, ev DocumentSyncEvent) error {
	msgID := ev.DocumentID.String() + ":" + strconv.Itoa(ev.RetryCount)
	return p.publish(ctx, SubjectDocumentSync, msgID, ev)
}

// publish sends data as JSON. A non-empty msgID enables JetStream
// de-duplication of retried publishes.
func (p *Publisher) publish(ctx context.Context, subject, msgID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := p.js.Publish(ctx, subject, payload, opts...); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
