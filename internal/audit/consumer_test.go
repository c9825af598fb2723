package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/learnhub/learnhub/internal/nats"
)

type fakeMsg struct {
	data                []byte
	acked, naked, termd bool
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Ack() error   { m.acked = true; return nil }
func (m *fakeMsg) Nak() error   { m.naked = true; return nil }
func (m *fakeMsg) Term() error  { m.termd = true; return nil }

type fakeStore struct {
	logs []*Log
	err  error
}

func (s *fakeStore) Insert(_ context.Context, l *Log) error {
	if s.err != nil {
		return s.err
	}
	s.logs = append(s.logs, l)
	return nil
}

func encode(t *testing.T, e inats.AuditEvent) []byte {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return data
}

func TestConsumerHandle_PersistsAndAcks(t *testing.T) {
	store := &fakeStore{}
	c := NewConsumer(store, nil)
	userID := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := &fakeMsg{data: encode(t, inats.AuditEvent{
		UserID:       userID,
		EventType:    EventCreditsConsumed,
		Severity:     SeverityInfo,
		ResourceType: "credit_account",
		ResourceID:   userID.String(),
		Details:      json.RawMessage(`{"amount":"2"}`),
		Timestamp:    at,
	})}

	c.handle(context.Background(), msg)

	assert.True(t, msg.acked)
	require.Len(t, store.logs, 1)
	l := store.logs[0]
	require.NotNil(t, l.UserID)
	assert.Equal(t, userID, *l.UserID)
	assert.Equal(t, EventCreditsConsumed, l.EventType)
	assert.Equal(t, at, l.OccurredAt)
	assert.JSONEq(t, `{"amount":"2"}`, string(l.Details))
}

func TestConsumerHandle_StoreFailureNaks(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	c := NewConsumer(store, nil)

	msg := &fakeMsg{data: encode(t, inats.AuditEvent{EventType: EventUserLogin, Timestamp: time.Now()})}
	c.handle(context.Background(), msg)

	assert.True(t, msg.naked)
	assert.False(t, msg.acked)
}

func TestConsumerHandle_MalformedPayloadTerminates(t *testing.T) {
	store := &fakeStore{}
	c := NewConsumer(store, nil)

	msg := &fakeMsg{data: []byte("{not json")}
	c.handle(context.Background(), msg)

	assert.True(t, msg.termd)
	assert.Empty(t, store.logs)
}

func TestFromNATSEvent_SystemEventHasNoUser(t *testing.T) {
	l := FromNATSEvent(inats.AuditEvent{EventType: EventCreditsExpired, Timestamp: time.Now()})
	assert.Nil(t, l.UserID)
	assert.Equal(t, SeverityInfo, l.Severity)
}
