package documents

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingDimensions is the width of the document_chunks.embedding column.
const EmbeddingDimensions = 1536

// MaxSyncRetries bounds how often a failed document is handed out again.
const MaxSyncRetries = 5

type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncSyncing   SyncStatus = "syncing"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// CanTransition reports whether a sync record may move from one status to
// the next. Failed records are retried by moving back to syncing.
func CanTransition(from, to SyncStatus) bool {
	switch to {
	case SyncSyncing:
		return from == SyncPending || from == SyncFailed
	case SyncCompleted, SyncFailed:
		return from == SyncSyncing
	}
	return false
}

// Document is the deduplicated master record for one piece of content.
type Document struct {
	ID          uuid.UUID  `json:"id"`
	ContentHash string     `json:"content_hash"`
	FileName    string     `json:"file_name"`
	MimeType    string     `json:"mime_type"`
	SizeBytes   int64      `json:"size_bytes"`
	StoragePath string     `json:"-"`
	ChunkCount  int        `json:"chunk_count"`
	SyncStatus  SyncStatus `json:"vector_sync_status"`
	CreatedAt   time.Time  `json:"created_at"`
}

// UserDocument links a user to a master document.
type UserDocument struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	Document    Document  `json:"document"`
	// Deduplicated is set on upload when the content was already stored.
	Deduplicated bool `json:"deduplicated,omitempty"`
}

type Chunk struct {
	Index     int       `json:"index" validate:"gte=0"`
	Content   string    `json:"content" validate:"required"`
	Embedding []float32 `json:"embedding" validate:"required"`
}

type SyncRecord struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID uuid.UUID  `json:"document_id"`
	Status     SyncStatus `json:"status"`
	RetryCount int        `json:"retry_count"`
	LastError  *string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type SearchResult struct {
	DocumentID  uuid.UUID `json:"document_id"`
	DisplayName string    `json:"display_name"`
	ChunkIndex  int       `json:"chunk_index"`
	Content     string    `json:"content"`
	Similarity  float64   `json:"similarity"`
}

// UploadRequest carries the metadata of a file already placed in the
// object store.
type UploadRequest struct {
	ContentHash string `json:"content_hash" validate:"required,len=64,hexadecimal"`
	FileName    string `json:"file_name" validate:"required,max=255"`
	MimeType    string `json:"mime_type" validate:"required,max=127"`
	SizeBytes   int64  `json:"size_bytes" validate:"gte=0"`
	StoragePath string `json:"storage_path" validate:"required,max=1024"`
	DisplayName string `json:"display_name" validate:"omitempty,max=255"`
}

type IngestRequest struct {
	Chunks []Chunk `json:"chunks" validate:"required,min=1,dive"`
}

type SearchRequest struct {
	Embedding []float32 `json:"embedding" validate:"required"`
	Limit     int       `json:"limit" validate:"omitempty,min=1,max=50"`
	Threshold float64   `json:"threshold" validate:"omitempty,min=-1,max=1"`
}

type SyncFailedRequest struct {
	Error string `json:"error" validate:"required,max=2000"`
}
