// Package notify hands e-mail and SMS notifications to the external
// delivery service. Delivery is always fire-and-forget: a failed dispatch
// is logged and counted, never returned to the request that caused it.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/metrics"
	inats "github.com/learnhub/learnhub/internal/nats"
)

// Templates understood by the delivery service.
const (
	TemplateVerifyEmail        = "verify_email"
	TemplateVerifyPhone        = "verify_phone"
	TemplateWelcome            = "welcome"
	TemplateCreditsGranted     = "credits_granted"
	TemplateDailyBonus         = "daily_bonus"
	TemplateLowBalance         = "low_balance"
	TemplateReferralBonus      = "referral_bonus"
	TemplateRelationshipInvite = "relationship_invite"
	TemplateSubscription       = "subscription_started"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

const defaultTimeout = 10 * time.Second

type Dispatcher interface {
	SendEmail(ctx context.Context, to string, userID uuid.UUID, template string, data map[string]any) error
	SendSMS(ctx context.Context, to string, userID uuid.UUID, template string, data map[string]any) error
}

// NotificationPublisher is the subset of the NATS publisher used for
// dispatch.
type NotificationPublisher interface {
	PublishEmail(ctx context.Context, msg inats.NotificationMessage) error
	PublishSMS(ctx context.Context, msg inats.NotificationMessage) error
}

// NATSDispatcher publishes notifications onto the notifications stream.
type NATSDispatcher struct {
	pub NotificationPublisher
	now func() time.Time
}

func NewNATSDispatcher(pub NotificationPublisher) *NATSDispatcher {
	return &NATSDispatcher{pub: pub, now: time.Now}
}

func (d *NATSDispatcher) SendEmail(ctx context.Context, to string, userID uuid.UUID, template string, data map[string]any) error {
	return d.pub.PublishEmail(ctx, d.message(to, userID, template, data))
}

func (d *NATSDispatcher) SendSMS(ctx context.Context, to string, userID uuid.UUID, template string, data map[string]any) error {
	return d.pub.PublishSMS(ctx, d.message(to, userID, template, data))
}

func (d *NATSDispatcher) message(to string, userID uuid.UUID, template string, data map[string]any) inats.NotificationMessage {
	return inats.NotificationMessage{
		ID:       uuid.NewString(),
		To:       to,
		UserID:   userID,
		Template: template,
		Data:     data,
		SentAt:   d.now().UTC(),
	}
}

// NopDispatcher drops every notification.
type NopDispatcher struct{}

func (NopDispatcher) SendEmail(context.Context, string, uuid.UUID, string, map[string]any) error {
	return nil
}

func (NopDispatcher) SendSMS(context.Context, string, uuid.UUID, string, map[string]any) error {
	return nil
}

// Async wraps a Dispatcher so that every send runs in its own goroutine
// with a timeout, detached from the caller's context.
type Async struct {
	next    Dispatcher
	timeout time.Duration
	// done is called after each send. Tests use it to wait.
	done func()
}

func NewAsync(next Dispatcher) *Async {
	return &Async{next: next, timeout: defaultTimeout}
}

func (a *Async) SendEmail(ctx context.Context, to string, userID uuid.UUID, template string, data map[string]any) error {
	a.run(ctx, ChannelEmail, userID, template, func(ctx context.Context) error {
		return a.next.SendEmail(ctx, to, userID, template, data)
	})
	return nil
}

func (a *Async) SendSMS(ctx context.Context, to string, userID uuid.UUID, template string, data map[string]any) error {
	a.run(ctx, ChannelSMS, userID, template, func(ctx context.Context) error {
		return a.next.SendSMS(ctx, to, userID, template, data)
	})
	return nil
}

func (a *Async) run(ctx context.Context, channel string, userID uuid.UUID, template string, send func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if a.done != nil {
			defer a.done()
		}
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			metrics.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
			slog.Warn("dispatching notification",
				"error", err,
				"channel", channel,
				"template", template,
				"user_id", userID,
			)
			return
		}
		metrics.NotificationsTotal.WithLabelValues(channel, "sent").Inc()
	}()
}
