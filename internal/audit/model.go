package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types recorded by the platform.
const (
	EventUserRegistered      = "user.registered"
	EventUserLogin           = "user.login"
	EventUserVerified        = "user.verified"
	EventCreditsGranted      = "credits.granted"
	EventCreditsConsumed     = "credits.consumed"
	EventCreditsExpired      = "credits.expired"
	EventDailyBonusClaimed   = "credits.daily_bonus"
	EventRelationshipChanged = "relationship.changed"
	EventSubscriptionChanged = "subscription.changed"
	EventClassroomJoined     = "classroom.joined"
)

const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Event is what callers hand to a Recorder.
type Event struct {
	UserID       uuid.UUID
	ActorID      *uuid.UUID
	Type         string
	Severity     string
	ResourceType string
	ResourceID   string
	Details      map[string]any
	IPAddress    string
}

// Log matches the audit_logs table schema.
type Log struct {
	ID           uuid.UUID       `json:"id"`
	UserID       *uuid.UUID      `json:"user_id,omitempty"`
	ActorID      *uuid.UUID      `json:"actor_id,omitempty"`
	EventType    string          `json:"event_type"`
	Severity     string          `json:"severity"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	IPAddress    string          `json:"ip_address,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ListParams struct {
	UserID    *uuid.UUID
	EventType string
	Severity  string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
