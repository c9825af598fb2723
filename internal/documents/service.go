package documents

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/metrics"
)

const (
	defaultSearchLimit = 5
	defaultClaimBatch  = 10
	maxErrorLength     = 2000
)

// UploadLimiter reports how many documents a user may keep. The
// subscriptions service implements it.
type UploadLimiter interface {
	UploadLimit(ctx context.Context, userID uuid.UUID) (int, error)
}

type Service struct {
	repo      Repository
	limits    UploadLimiter
	announcer SyncAnnouncer
	validate  *validator.Validate
	now       func() time.Time
}

// NewService builds the document service. A nil limiter disables quotas and
// a nil announcer leaves the worker to poll.
func NewService(repo Repository, limits UploadLimiter, announcer SyncAnnouncer) *Service {
	if announcer == nil {
		announcer = nopAnnouncer{}
	}
	return &Service{
		repo:      repo,
		limits:    limits,
		announcer: announcer,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Upload registers a stored file in the user's library. Content already
// known by hash reuses the existing master record.
func (s *Service) Upload(ctx context.Context, userID uuid.UUID, req UploadRequest) (*UserDocument, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	limit := -1
	if s.limits != nil {
		n, err := s.limits.UploadLimit(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolving upload limit: %w", err)
		}
		limit = n
	}

	now := s.now().UTC()
	display := strings.TrimSpace(req.DisplayName)
	if display == "" {
		display = req.FileName
	}
	ud := &UserDocument{
		ID:          uuid.New(),
		UserID:      userID,
		DisplayName: display,
		CreatedAt:   now,
		Document: Document{
			ID:          uuid.New(),
			ContentHash: strings.ToLower(req.ContentHash),
			FileName:    req.FileName,
			MimeType:    req.MimeType,
			SizeBytes:   req.SizeBytes,
			StoragePath: req.StoragePath,
			SyncStatus:  SyncPending,
			CreatedAt:   now,
		},
	}

	err := s.repo.InTx(ctx, func(st Store) error {
		if err := st.LockOwner(ctx, userID); err != nil {
			return err
		}
		if limit >= 0 {
			n, err := st.CountUserDocuments(ctx, userID)
			if err != nil {
				return err
			}
			if n >= limit {
				return ErrUploadLimit
			}
		}

		inserted, err := st.UpsertMaster(ctx, &ud.Document)
		if err != nil {
			return err
		}
		linked, err := st.LinkUser(ctx, ud)
		if err != nil {
			return err
		}
		if !linked {
			return ErrAlreadyUploaded
		}
		ud.Deduplicated = !inserted
		if inserted {
			return st.InsertSync(ctx, ud.Document.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !ud.Deduplicated {
		s.announcer.Announce(ctx, &SyncRecord{DocumentID: ud.Document.ID, Status: SyncPending, UpdatedAt: now})
	}
	metrics.DocumentUploadsTotal.WithLabelValues(strconv.FormatBool(ud.Deduplicated)).Inc()
	slog.Info("document uploaded",
		"user_id", userID, "document_id", ud.Document.ID, "deduplicated", ud.Deduplicated)
	return ud, nil
}

func (s *Service) Get(ctx context.Context, userID, documentID uuid.UUID) (*UserDocument, error) {
	ud, err := s.repo.GetUserDocument(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if ud == nil {
		return nil, ErrDocumentNotFound
	}
	return ud, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]UserDocument, int64, error) {
	return s.repo.ListUserDocuments(ctx, userID, limit, offset)
}

// Remove drops the document from the user's library.
func (s *Service) Remove(ctx context.Context, userID, documentID uuid.UUID) error {
	ok, err := s.repo.DeleteUserDocument(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDocumentNotFound
	}
	return nil
}

func checkEmbedding(v []float32) error {
	if len(v) != EmbeddingDimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(v), EmbeddingDimensions)
	}
	return nil
}

// Search ranks chunks of the user's documents by cosine similarity.
func (s *Service) Search(ctx context.Context, userID uuid.UUID, req SearchRequest) ([]SearchResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := checkEmbedding(req.Embedding); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}
	// Cosine similarity spans [-1, 1]; zero means no cut-off.
	threshold := req.Threshold
	if threshold == 0 {
		threshold = -1
	}
	return s.repo.Search(ctx, userID, req.Embedding, limit, threshold)
}

// ClaimPending hands out documents awaiting embedding and marks them syncing.
func (s *Service) ClaimPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = defaultClaimBatch
	}
	return s.repo.ClaimPending(ctx, limit, MaxSyncRetries)
}

// IngestChunks stores the embeddings for a syncing document and completes
// its sync record.
func (s *Service) IngestChunks(ctx context.Context, documentID uuid.UUID, req IngestRequest) (*SyncRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	seen := make(map[int]bool, len(req.Chunks))
	for _, c := range req.Chunks {
		if err := checkEmbedding(c.Embedding); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		if seen[c.Index] {
			return nil, fmt.Errorf("%w: duplicate chunk index %d", ErrInvalidRequest, c.Index)
		}
		seen[c.Index] = true
	}

	return s.transition(ctx, documentID, SyncCompleted, func(st Store, rec *SyncRecord) error {
		rec.LastError = nil
		return st.ReplaceChunks(ctx, documentID, req.Chunks)
	})
}

// MarkSyncFailed records a failed embedding attempt and bumps the retry count.
func (s *Service) MarkSyncFailed(ctx context.Context, documentID uuid.UUID, reason string) (*SyncRecord, error) {
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	rec, err := s.transition(ctx, documentID, SyncFailed, func(_ Store, rec *SyncRecord) error {
		rec.RetryCount++
		rec.LastError = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec.RetryCount < MaxSyncRetries {
		s.announcer.Announce(ctx, rec)
	}
	return rec, nil
}

func (s *Service) SyncStatus(ctx context.Context, documentID uuid.UUID) (*SyncRecord, error) {
	rec, err := s.repo.GetSync(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrDocumentNotFound
	}
	return rec, nil
}

func (s *Service) transition(ctx context.Context, documentID uuid.UUID, to SyncStatus, apply func(Store, *SyncRecord) error) (*SyncRecord, error) {
	var out *SyncRecord
	err := s.repo.InTx(ctx, func(st Store) error {
		rec, err := st.LockSync(ctx, documentID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrDocumentNotFound
		}
		if !CanTransition(rec.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidSync, rec.Status, to)
		}
		if err := apply(st, rec); err != nil {
			return err
		}
		rec.Status = to
		rec.UpdatedAt = s.now().UTC()
		if err := st.SaveSync(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.DocumentSyncTransitionsTotal.WithLabelValues(string(to)).Inc()
	return out, nil
}
