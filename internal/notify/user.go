package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Contact is where a user can be reached. Either field may be empty.
type Contact struct {
	Email string
	Phone string
}

type ContactResolver interface {
	Contact(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// Notifier sends a templated notification to a user by id.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, template string, data map[string]any)
}

// UserNotifier resolves a user's contact and sends by e-mail when one is
// on file, falling back to SMS.
type UserNotifier struct {
	contacts   ContactResolver
	dispatcher Dispatcher
}

func NewUserNotifier(contacts ContactResolver, dispatcher Dispatcher) *UserNotifier {
	return &UserNotifier{contacts: contacts, dispatcher: dispatcher}
}

func (n *UserNotifier) Notify(ctx context.Context, userID uuid.UUID, template string, data map[string]any) {
	c, err := n.contacts.Contact(ctx, userID)
	if err != nil {
		slog.Warn("resolving notification contact", "error", err, "user_id", userID, "template", template)
		return
	}
	if err := Send(ctx, n.dispatcher, c, userID, template, data); err != nil {
		slog.Warn("sending notification", "error", err, "user_id", userID, "template", template)
	}
}

// Send picks the channel for c: e-mail if present, else SMS. A contact with
// neither is silently skipped.
func Send(ctx context.Context, d Dispatcher, c Contact, userID uuid.UUID, template string, data map[string]any) error {
	switch {
	case c.Email != "":
		return d.SendEmail(ctx, c.Email, userID, template, data)
	case c.Phone != "":
		return d.SendSMS(ctx, c.Phone, userID, template, data)
	}
	return nil
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, uuid.UUID, string, map[string]any) {}
