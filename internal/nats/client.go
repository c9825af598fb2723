package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/learnhub/learnhub/internal/config"
)

// platformStreams are created or updated on every connect.
var platformStreams = []jetstream.StreamConfig{
	{
		// Delivered once to the mail/SMS gateway, then removed.
		Name:      StreamNotifications,
		Subjects:  []string{"notifications.>"},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
	},
	{
		Name:      StreamAudit,
		Subjects:  []string{"audit.>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	},
	{
		Name:       StreamDocuments,
		Subjects:   []string{"documents.>"},
		Retention:  jetstream.WorkQueuePolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	},
}

// Client owns the NATS connection. Notifications, audit events and document
// sync announcements all go through its JetStream context.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

func NewClient(ctx context.Context, cfg config.NATSConfig) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("learnhub-api"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats connection lost", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats connection restored", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening jetstream: %w", err)
	}

	for _, sc := range platformStreams {
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			nc.Close()
			return nil, fmt.Errorf("provisioning stream %s: %w", sc.Name, err)
		}
	}

	slog.Info("nats client ready", "url", nc.ConnectedUrlRedacted(), "streams", len(platformStreams))
	return &Client{conn: nc, js: js}, nil
}

func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Ping backs the readiness probe.
func (c *Client) Ping(_ context.Context) error {
	if st := c.conn.Status(); st != nats.CONNECTED {
		return fmt.Errorf("nats %s", st)
	}
	return nil
}

// Close drains pending publishes before disconnecting.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		slog.Warn("draining nats connection", "error", err)
	}
}
