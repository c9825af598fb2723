package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerSpec describes a durable pull consumer on one of the platform
// streams.
type ConsumerSpec struct {
	Stream  string
	Durable string
	Subject string
	// MaxDeliver caps redeliveries of nak'ed messages; zero is unbounded.
	MaxDeliver int
	AckWait    time.Duration
}

type ConsumerManager struct {
	js jetstream.JetStream
}

func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// Ensure creates the consumer or updates it in place.
func (cm *ConsumerManager) Ensure(ctx context.Context, spec ConsumerSpec) (jetstream.Consumer, error) {
	ackWait := spec.AckWait
	if ackWait == 0 {
		ackWait = 30 * time.Second
	}
	cfg := jetstream.ConsumerConfig{
		Durable:       spec.Durable,
		FilterSubject: spec.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    -1,
	}
	if spec.MaxDeliver > 0 {
		cfg.MaxDeliver = spec.MaxDeliver
	}

	c, err := cm.js.CreateOrUpdateConsumer(ctx, spec.Stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", spec.Durable, spec.Stream, err)
	}
	return c, nil
}
