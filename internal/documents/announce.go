package documents

import (
	"context"
	"log/slog"

	inats "github.com/learnhub/learnhub/internal/nats"
)

// SyncAnnouncer tells the embedding worker that a document is waiting.
// Announcements are hints: a lost one only delays the document until the
// worker's next claim poll.
type SyncAnnouncer interface {
	Announce(ctx context.Context, rec *SyncRecord)
}

type nopAnnouncer struct{}

func (nopAnnouncer) Announce(context.Context, *SyncRecord) {}

type natsAnnouncer struct {
	pub *inats.Publisher
}

// NewNATSAnnouncer publishes announcements on the DOCUMENTS stream.
func NewNATSAnnouncer(pub *inats.Publisher) SyncAnnouncer {
	return natsAnnouncer{pub: pub}
}

func (a natsAnnouncer) Announce(ctx context.Context, rec *SyncRecord) {
	err := a.pub.PublishDocumentSync(ctx, inats.DocumentSyncEvent{
		DocumentID: rec.DocumentID,
		RetryCount: rec.RetryCount,
		QueuedAt:   rec.UpdatedAt,
	})
	if err != nil {
		slog.Warn("announcing document sync", "error", err, "document_id", rec.DocumentID)
	}
}
