package nats

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FetchTimeout bounds a single batch fetch from a pull consumer.
const FetchTimeout = 2 * time.Second

const (
	StreamNotifications = "NOTIFICATIONS"
	StreamAudit         = "AUDIT"
	StreamDocuments     = "DOCUMENTS"
)

const (
	SubjectEmail      = "notifications.email"
	SubjectSMS        = "notifications.sms"
	SubjectAuditEvent = "audit.events"

	// SubjectDocumentSync wakes the embedding worker when a document needs
	// (re)vectorizing. The worker still claims work through the sync API.
	SubjectDocumentSync = "documents.sync"
)

// NotificationMessage is handed to the external mail/SMS delivery service.
// Only the destination, a user reference and template data travel.
type NotificationMessage struct {
	ID       string         `json:"id"`
	To       string         `json:"to"`
	UserID   uuid.UUID      `json:"user_id"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// AuditEvent records a domain event for the audit trail.
type AuditEvent struct {
	UserID       uuid.UUID       `json:"user_id"`
	ActorID      *uuid.UUID      `json:"actor_id,omitempty"`
	EventType    string          `json:"event_type"`
	Severity     string          `json:"severity"` // info, warn, error
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	IPAddress    string          `json:"ip_address,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// DocumentSyncEvent announces a document waiting for vector sync.
type DocumentSyncEvent struct {
	DocumentID uuid.UUID `json:"document_id"`
	RetryCount int       `json:"retry_count"`
	QueuedAt   time.Time `json:"queued_at"`
}
