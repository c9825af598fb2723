package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/learnhub/learnhub/internal/nats"
)

type sent struct {
	channel  string
	to       string
	template string
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (d *recordingDispatcher) SendEmail(_ context.Context, to string, _ uuid.UUID, template string, _ map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{ChannelEmail, to, template})
	return d.err
}

func (d *recordingDispatcher) SendSMS(_ context.Context, to string, _ uuid.UUID, template string, _ map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{ChannelSMS, to, template})
	return d.err
}

func TestSend_PrefersEmail(t *testing.T) {
	tests := []struct {
		name    string
		contact Contact
		want    []sent
	}{
		{"email and phone", Contact{Email: "a@example.com", Phone: "+15550100"}, []sent{{ChannelEmail, "a@example.com", TemplateWelcome}}},
		{"phone only", Contact{Phone: "+15550100"}, []sent{{ChannelSMS, "+15550100", TemplateWelcome}}},
		{"no contact", Contact{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			require.NoError(t, Send(context.Background(), d, tt.contact, uuid.New(), TemplateWelcome, nil))
			assert.Equal(t, tt.want, d.sent)
		})
	}
}

func TestAsync_SwallowsErrors(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("smtp down")}
	a := NewAsync(d)
	var wg sync.WaitGroup
	a.done = wg.Done

	wg.Add(2)
	assert.NoError(t, a.SendEmail(context.Background(), "a@example.com", uuid.New(), TemplateLowBalance, nil))
	assert.NoError(t, a.SendSMS(context.Background(), "+15550100", uuid.New(), TemplateLowBalance, nil))
	wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Len(t, d.sent, 2)
}

func TestAsync_OutlivesCallerContext(t *testing.T) {
	d := &recordingDispatcher{}
	a := NewAsync(d)
	var wg sync.WaitGroup
	a.done = wg.Done

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wg.Add(1)
	require.NoError(t, a.SendEmail(ctx, "a@example.com", uuid.New(), TemplateVerifyEmail, nil))
	wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Len(t, d.sent, 1)
}

type stubResolver struct {
	contact Contact
	err     error
}

func (s stubResolver) Contact(context.Context, uuid.UUID) (Contact, error) {
	return s.contact, s.err
}

func TestUserNotifier(t *testing.T) {
	d := &recordingDispatcher{}
	n := NewUserNotifier(stubResolver{contact: Contact{Phone: "+15550100"}}, d)
	n.Notify(context.Background(), uuid.New(), TemplateDailyBonus, map[string]any{"amount": "1.5"})
	assert.Equal(t, []sent{{ChannelSMS, "+15550100", TemplateDailyBonus}}, d.sent)

	d = &recordingDispatcher{}
	n = NewUserNotifier(stubResolver{err: errors.New("no such user")}, d)
	n.Notify(context.Background(), uuid.New(), TemplateDailyBonus, nil)
	assert.Empty(t, d.sent)
}

type capturePublisher struct {
	email, sms []inats.NotificationMessage
}

func (c *capturePublisher) PublishEmail(_ context.Context, m inats.NotificationMessage) error {
	c.email = append(c.email, m)
	return nil
}

func (c *capturePublisher) PublishSMS(_ context.Context, m inats.NotificationMessage) error {
	c.sms = append(c.sms, m)
	return nil
}

func TestNATSDispatcher_BuildsMessages(t *testing.T) {
	pub := &capturePublisher{}
	d := NewNATSDispatcher(pub)
	userID := uuid.New()

	require.NoError(t, d.SendEmail(context.Background(), "a@example.com", userID, TemplateVerifyEmail, map[string]any{"token": "abc"}))
	require.NoError(t, d.SendSMS(context.Background(), "+15550100", userID, TemplateVerifyPhone, nil))

	require.Len(t, pub.email, 1)
	require.Len(t, pub.sms, 1)
	assert.Equal(t, "a@example.com", pub.email[0].To)
	assert.Equal(t, userID, pub.email[0].UserID)
	assert.Equal(t, "abc", pub.email[0].Data["token"])
	assert.NotEmpty(t, pub.email[0].ID)
	assert.NotEqual(t, pub.email[0].ID, pub.sms[0].ID)
}
