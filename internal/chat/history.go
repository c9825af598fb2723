package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// History keeps the most recent messages of each session in a Redis list so
// that prompt assembly does not hit Postgres.
type History struct {
	client redis.Cmdable
	size   int
	ttl    time.Duration
}

func NewHistory(client redis.Cmdable, size int, ttl time.Duration) *History {
	return &History{client: client, size: size, ttl: ttl}
}

func historyKey(sessionID uuid.UUID) string {
	return "chat:history:" + sessionID.String()
}

// Append pushes m and trims the list to the configured size.
func (h *History) Append(ctx context.Context, m *Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	key := historyKey(m.SessionID)
	pipe := h.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-h.size), -1)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending history for %s: %w", m.SessionID, err)
	}
	return nil
}

// Recent returns up to limit messages, oldest first. An empty result means
// the list expired or was never written.
func (h *History) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 || limit > h.size {
		limit = h.size
	}
	key := historyKey(sessionID)
	vals, err := h.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	out := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Fill replaces the cached list with msgs, used after a database fallback.
func (h *History) Fill(ctx context.Context, sessionID uuid.UUID, msgs []Message) error {
	key := historyKey(sessionID)
	pipe := h.client.TxPipeline()
	pipe.Del(ctx, key)
	for i := range msgs {
		data, err := json.Marshal(&msgs[i])
		if err != nil {
			return fmt.Errorf("marshaling message: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, int64(-h.size), -1)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("filling history for %s: %w", sessionID, err)
	}
	return nil
}

func (h *History) Clear(ctx context.Context, sessionID uuid.UUID) error {
	return h.client.Del(ctx, historyKey(sessionID)).Err()
}
