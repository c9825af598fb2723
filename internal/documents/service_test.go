package documents

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu     sync.Mutex
	docs   map[string]Document // by content hash
	links  []UserDocument
	syncs  map[uuid.UUID]SyncRecord
	chunks map[uuid.UUID][]Chunk
}

func newMemRepo() *memRepo {
	return &memRepo{
		docs:   map[string]Document{},
		syncs:  map[uuid.UUID]SyncRecord{},
		chunks: map[uuid.UUID][]Chunk{},
	}
}

// InTx runs fn against the live maps and restores a snapshot on error.
func (m *memRepo) InTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make(map[string]Document, len(m.docs))
	for k, v := range m.docs {
		docs[k] = v
	}
	links := append([]UserDocument(nil), m.links...)
	syncs := make(map[uuid.UUID]SyncRecord, len(m.syncs))
	for k, v := range m.syncs {
		syncs[k] = v
	}
	chunks := make(map[uuid.UUID][]Chunk, len(m.chunks))
	for k, v := range m.chunks {
		chunks[k] = v
	}

	if err := fn(memStore{m}); err != nil {
		m.docs, m.links, m.syncs, m.chunks = docs, links, syncs, chunks
		return err
	}
	return nil
}

func (m *memRepo) docByID(id uuid.UUID) (Document, bool) {
	for _, d := range m.docs {
		if d.ID == id {
			return d, true
		}
	}
	return Document{}, false
}

func (m *memRepo) GetUserDocument(_ context.Context, userID, documentID uuid.UUID) (*UserDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.UserID == userID && l.Document.ID == documentID {
			l.Document, _ = m.docByID(documentID)
			return &l, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ListUserDocuments(_ context.Context, userID uuid.UUID, limit, offset int) ([]UserDocument, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UserDocument
	for _, l := range m.links {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memRepo) DeleteUserDocument(_ context.Context, userID, documentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.links {
		if l.UserID == userID && l.Document.ID == documentID {
			m.links = append(m.links[:i], m.links[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) Search(_ context.Context, userID uuid.UUID, embedding []float32, limit int, threshold float64) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SearchResult
	for _, l := range m.links {
		if l.UserID != userID {
			continue
		}
		for _, c := range m.chunks[l.Document.ID] {
			sim := cosine(embedding, c.Embedding)
			if sim >= threshold {
				out = append(out, SearchResult{DocumentID: l.Document.ID, DisplayName: l.DisplayName, ChunkIndex: c.Index, Content: c.Content, Similarity: sim})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) ClaimPending(_ context.Context, limit, maxRetries int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, s := range m.syncs {
		if len(ids) == limit {
			break
		}
		if s.Status == SyncPending || (s.Status == SyncFailed && s.RetryCount < maxRetries) {
			s.Status = SyncSyncing
			m.syncs[id] = s
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memRepo) GetSync(_ context.Context, documentID uuid.UUID) (*SyncRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.syncs[documentID]; ok {
		return &s, nil
	}
	return nil, nil
}

type memStore struct{ m *memRepo }

func (s memStore) LockOwner(context.Context, uuid.UUID) error { return nil }

func (s memStore) CountUserDocuments(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, l := range s.m.links {
		if l.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s memStore) UpsertMaster(_ context.Context, d *Document) (bool, error) {
	if existing, ok := s.m.docs[d.ContentHash]; ok {
		*d = existing
		return false, nil
	}
	s.m.docs[d.ContentHash] = *d
	return true, nil
}

func (s memStore) LinkUser(_ context.Context, ud *UserDocument) (bool, error) {
	for _, l := range s.m.links {
		if l.UserID == ud.UserID && l.Document.ID == ud.Document.ID {
			return false, nil
		}
	}
	s.m.links = append(s.m.links, *ud)
	return true, nil
}

func (s memStore) InsertSync(_ context.Context, documentID uuid.UUID) error {
	s.m.syncs[documentID] = SyncRecord{ID: uuid.New(), DocumentID: documentID, Status: SyncPending}
	return nil
}

func (s memStore) LockSync(_ context.Context, documentID uuid.UUID) (*SyncRecord, error) {
	if r, ok := s.m.syncs[documentID]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s memStore) SaveSync(_ context.Context, r *SyncRecord) error {
	s.m.syncs[r.DocumentID] = *r
	return nil
}

func (s memStore) ReplaceChunks(_ context.Context, documentID uuid.UUID, chunks []Chunk) error {
	s.m.chunks[documentID] = chunks
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type fixedLimit int

func (f fixedLimit) UploadLimit(context.Context, uuid.UUID) (int, error) { return int(f), nil }

type recordingAnnouncer struct {
	mu      sync.Mutex
	retries []int
}

func (a *recordingAnnouncer) Announce(_ context.Context, rec *SyncRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retries = append(a.retries, rec.RetryCount)
}

func newTestService(repo Repository, limits UploadLimiter) *Service {
	s := NewService(repo, limits, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return s
}

func hash(c byte) string { return strings.Repeat(string(c), 64) }

func upload(h string) UploadRequest {
	return UploadRequest{
		ContentHash: h,
		FileName:    "notes.pdf",
		MimeType:    "application/pdf",
		SizeBytes:   2048,
		StoragePath: "s3://learnhub/" + h[:8],
	}
}

// unit returns a basis vector, so cosine similarity between two units is
// 1 when i == j and 0 otherwise.
func unit(i int) []float32 {
	v := make([]float32, EmbeddingDimensions)
	v[i] = 1
	return v
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SyncStatus
		want     bool
	}{
		{SyncPending, SyncSyncing, true},
		{SyncFailed, SyncSyncing, true},
		{SyncSyncing, SyncCompleted, true},
		{SyncSyncing, SyncFailed, true},
		{SyncPending, SyncCompleted, false},
		{SyncCompleted, SyncSyncing, false},
		{SyncCompleted, SyncFailed, false},
		{SyncSyncing, SyncPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestUpload_DeduplicatesByHash(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	first, err := svc.Upload(ctx, alice, upload(hash('a')))
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)
	assert.Equal(t, "notes.pdf", first.DisplayName)
	assert.Equal(t, SyncPending, repo.syncs[first.Document.ID].Status)

	req := upload(strings.ToUpper(hash('a')))
	req.DisplayName = "Bob's copy"
	second, err := svc.Upload(ctx, bob, req)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Len(t, repo.docs, 1)
	assert.Len(t, repo.syncs, 1)

	_, err = svc.Upload(ctx, alice, upload(hash('a')))
	assert.ErrorIs(t, err, ErrAlreadyUploaded)
	assert.Len(t, repo.links, 2)
}

func TestUpload_Validation(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	bad := upload(hash('a'))
	bad.ContentHash = "not-a-hash"
	_, err := svc.Upload(context.Background(), uuid.New(), bad)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestUpload_EnforcesPlanLimit(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, fixedLimit(1))
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.Upload(ctx, user, upload(hash('a')))
	require.NoError(t, err)
	_, err = svc.Upload(ctx, user, upload(hash('b')))
	assert.ErrorIs(t, err, ErrUploadLimit)
	assert.Len(t, repo.docs, 1, "rejected upload leaves no master behind")
}

func TestRemove_KeepsMasterForOtherOwners(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	a, err := svc.Upload(ctx, alice, upload(hash('c')))
	require.NoError(t, err)
	_, err = svc.Upload(ctx, bob, upload(hash('c')))
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, alice, a.Document.ID))
	assert.ErrorIs(t, svc.Remove(ctx, alice, a.Document.ID), ErrDocumentNotFound)

	_, err = svc.Get(ctx, alice, a.Document.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	got, err := svc.Get(ctx, bob, a.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Document.ContentHash, got.Document.ContentHash)
}

func TestSyncLifecycle(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	ud, err := svc.Upload(ctx, uuid.New(), upload(hash('d')))
	require.NoError(t, err)
	id := ud.Document.ID

	_, err = svc.IngestChunks(ctx, id, IngestRequest{Chunks: []Chunk{{Index: 0, Content: "x", Embedding: unit(0)}}})
	assert.ErrorIs(t, err, ErrInvalidSync, "pending cannot complete without a claim")

	ids, err := svc.ClaimPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)

	rec, err := svc.MarkSyncFailed(ctx, id, "embedding service timeout")
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	require.NotNil(t, rec.LastError)

	ids, err = svc.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1, "failed records are retried")

	rec, err = svc.IngestChunks(ctx, id, IngestRequest{Chunks: []Chunk{
		{Index: 0, Content: "photosynthesis", Embedding: unit(0)},
		{Index: 1, Content: "mitochondria", Embedding: unit(1)},
	}})
	require.NoError(t, err)
	assert.Equal(t, SyncCompleted, rec.Status)
	assert.Nil(t, rec.LastError)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Len(t, repo.chunks[id], 2)

	_, err = svc.MarkSyncFailed(ctx, id, "late failure")
	assert.ErrorIs(t, err, ErrInvalidSync)
}

func TestClaimPending_StopsAfterMaxRetries(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	ud, err := svc.Upload(ctx, uuid.New(), upload(hash('e')))
	require.NoError(t, err)
	for range MaxSyncRetries {
		ids, err := svc.ClaimPending(ctx, 1)
		require.NoError(t, err)
		require.Len(t, ids, 1)
		_, err = svc.MarkSyncFailed(ctx, ud.Document.ID, "boom")
		require.NoError(t, err)
	}
	ids, err := svc.ClaimPending(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ids)

	rec, err := svc.SyncStatus(ctx, ud.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, MaxSyncRetries, rec.RetryCount)
}

func TestAnnouncesPendingWork(t *testing.T) {
	ann := &recordingAnnouncer{}
	svc := newTestService(newMemRepo(), nil)
	svc.announcer = ann
	ctx := context.Background()

	ud, err := svc.Upload(ctx, uuid.New(), upload(hash('f')))
	require.NoError(t, err)
	_, err = svc.Upload(ctx, uuid.New(), upload(hash('f')))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, ann.retries, "deduplicated uploads are not announced")

	for range MaxSyncRetries {
		_, err := svc.ClaimPending(ctx, 1)
		require.NoError(t, err)
		_, err = svc.MarkSyncFailed(ctx, ud.Document.ID, "boom")
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, ann.retries, "the final failure is not re-announced")
}

func TestIngestChunks_RejectsBadInput(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.IngestChunks(ctx, id, IngestRequest{Chunks: []Chunk{{Index: 0, Content: "x", Embedding: []float32{1, 2}}}})
	assert.ErrorIs(t, err, ErrDimension)

	_, err = svc.IngestChunks(ctx, id, IngestRequest{Chunks: []Chunk{
		{Index: 0, Content: "x", Embedding: unit(0)},
		{Index: 0, Content: "y", Embedding: unit(1)},
	}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.IngestChunks(ctx, id, IngestRequest{Chunks: []Chunk{{Index: 0, Content: "x", Embedding: unit(0)}}})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestSearch_OnlyOwnDocuments(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	mine, err := svc.Upload(ctx, alice, upload(hash('f')))
	require.NoError(t, err)
	theirs, err := svc.Upload(ctx, bob, upload(hash('9')))
	require.NoError(t, err)

	for _, d := range []*UserDocument{mine, theirs} {
		_, err := svc.ClaimPending(ctx, 10)
		require.NoError(t, err)
		_, err = svc.IngestChunks(ctx, d.Document.ID, IngestRequest{Chunks: []Chunk{
			{Index: 0, Content: d.Document.ContentHash[:1] + "-zero", Embedding: unit(0)},
			{Index: 1, Content: d.Document.ContentHash[:1] + "-one", Embedding: unit(1)},
		}})
		require.NoError(t, err)
	}

	results, err := svc.Search(ctx, alice, SearchRequest{Embedding: unit(1), Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, mine.Document.ID, results[0].DocumentID)
	assert.Equal(t, "f-one", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)

	results, err = svc.Search(ctx, alice, SearchRequest{Embedding: unit(1), Threshold: 0.5})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = svc.Search(ctx, alice, SearchRequest{Embedding: unit(0)[:10]})
	assert.True(t, errors.Is(err, ErrDimension))
}
