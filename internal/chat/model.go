package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

type Session struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	ClassroomID *uuid.UUID `json:"classroom_id,omitempty"`
	Title       string     `json:"title"`
	Subject     string     `json:"subject"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID       `json:"id"`
	SessionID      uuid.UUID       `json:"session_id"`
	Sender         Sender          `json:"sender"`
	Content        string          `json:"content"`
	CreditsCharged decimal.Decimal `json:"credits_charged"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CreateSessionRequest struct {
	ClassroomID *uuid.UUID `json:"classroom_id"`
	Title       string     `json:"title" validate:"max=200"`
	Subject     string     `json:"subject" validate:"max=100"`
}

type PostMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=8000"`
}

// PostResult is the stored message and the balance left after charging it.
type PostResult struct {
	Message *Message        `json:"message"`
	Balance decimal.Decimal `json:"balance"`
}
