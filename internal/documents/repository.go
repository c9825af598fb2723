package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/learnhub/learnhub/internal/database"
)

// Store is the transactional view used by uploads and sync updates.
type Store interface {
	// LockOwner serializes uploads by the same user for the rest of the
	// transaction.
	LockOwner(ctx context.Context, userID uuid.UUID) error
	CountUserDocuments(ctx context.Context, userID uuid.UUID) (int, error)
	// UpsertMaster stores d unless its content hash exists. Either way d is
	// overwritten with the stored row, and inserted reports which happened.
	UpsertMaster(ctx context.Context, d *Document) (inserted bool, err error)
	// LinkUser returns false when the user already has the document.
	LinkUser(ctx context.Context, ud *UserDocument) (bool, error)
	InsertSync(ctx context.Context, documentID uuid.UUID) error

	// LockSync loads the sync record FOR UPDATE, or nil.
	LockSync(ctx context.Context, documentID uuid.UUID) (*SyncRecord, error)
	// SaveSync persists the record and mirrors its status onto the document.
	SaveSync(ctx context.Context, s *SyncRecord) error
	// ReplaceChunks swaps the document's chunks and updates chunk_count.
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error
}

type Repository interface {
	InTx(ctx context.Context, fn func(Store) error) error

	GetUserDocument(ctx context.Context, userID, documentID uuid.UUID) (*UserDocument, error)
	ListUserDocuments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]UserDocument, int64, error)
	// DeleteUserDocument removes the link only; the master stays for other
	// owners. It returns false when no link existed.
	DeleteUserDocument(ctx context.Context, userID, documentID uuid.UUID) (bool, error)
	Search(ctx context.Context, userID uuid.UUID, embedding []float32, limit int, threshold float64) ([]SearchResult, error)
	// ClaimPending moves up to limit pending or retryable failed records to
	// syncing and returns their document ids.
	ClaimPending(ctx context.Context, limit, maxRetries int) ([]uuid.UUID, error)
	GetSync(ctx context.Context, documentID uuid.UUID) (*SyncRecord, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) InTx(ctx context.Context, fn func(Store) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgStore{db: tx})
	})
}

const userDocumentColumns = `
	ud.id, ud.user_id, ud.display_name, ud.created_at,
	d.id, d.content_hash, d.file_name, d.mime_type, d.size_bytes, d.storage_path,
	d.chunk_count, d.vector_sync_status, d.created_at`

func scanUserDocument(row pgx.Row) (*UserDocument, error) {
	ud := &UserDocument{}
	d := &ud.Document
	err := row.Scan(&ud.ID, &ud.UserID, &ud.DisplayName, &ud.CreatedAt,
		&d.ID, &d.ContentHash, &d.FileName, &d.MimeType, &d.SizeBytes, &d.StoragePath,
		&d.ChunkCount, &d.SyncStatus, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ud, nil
}

func (r *postgresRepository) GetUserDocument(ctx context.Context, userID, documentID uuid.UUID) (*UserDocument, error) {
	ud, err := scanUserDocument(r.pool.QueryRow(ctx, `
		SELECT `+userDocumentColumns+`
		FROM user_documents ud
		JOIN documents d ON d.id = ud.document_id
		WHERE ud.user_id = $1 AND ud.document_id = $2`, userID, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user document: %w", err)
	}
	return ud, nil
}

func (r *postgresRepository) ListUserDocuments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]UserDocument, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_documents WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting user documents: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+userDocumentColumns+`
		FROM user_documents ud
		JOIN documents d ON d.id = ud.document_id
		WHERE ud.user_id = $1
		ORDER BY ud.created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing user documents: %w", err)
	}
	defer rows.Close()

	var out []UserDocument
	for rows.Next() {
		ud, err := scanUserDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning user document: %w", err)
		}
		out = append(out, *ud)
	}
	return out, total, rows.Err()
}

func (r *postgresRepository) DeleteUserDocument(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_documents WHERE user_id = $1 AND document_id = $2`, userID, documentID)
	if err != nil {
		return false, fmt.Errorf("deleting user document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresRepository) Search(ctx context.Context, userID uuid.UUID, embedding []float32, limit int, threshold float64) ([]SearchResult, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := r.pool.Query(ctx, `
		SELECT c.document_id, ud.display_name, c.chunk_index, c.content,
		       1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		JOIN user_documents ud ON ud.document_id = c.document_id
		WHERE ud.user_id = $2
		  AND 1 - (c.embedding <=> $1) >= $3
		ORDER BY c.embedding <=> $1
		LIMIT $4`, vec, userID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("searching document chunks: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var sr SearchResult
		if err := rows.Scan(&sr.DocumentID, &sr.DisplayName, &sr.ChunkIndex, &sr.Content, &sr.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (r *postgresRepository) ClaimPending(ctx context.Context, limit, maxRetries int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE vector_sync SET status = 'syncing', updated_at = NOW()
			WHERE id IN (
				SELECT id FROM vector_sync
				WHERE status = 'pending' OR (status = 'failed' AND retry_count < $2)
				ORDER BY updated_at
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING document_id`, limit, maxRetries)
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE documents SET vector_sync_status = 'syncing' WHERE id = ANY($1)`, ids)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claiming pending vector sync: %w", err)
	}
	return ids, nil
}

func (r *postgresRepository) GetSync(ctx context.Context, documentID uuid.UUID) (*SyncRecord, error) {
	s, err := scanSync(r.pool.QueryRow(ctx, `SELECT `+syncColumns+` FROM vector_sync WHERE document_id = $1`, documentID))
	if err != nil {
		return nil, fmt.Errorf("getting vector sync: %w", err)
	}
	return s, nil
}

const syncColumns = `id, document_id, status, retry_count, last_error, updated_at`

func scanSync(row pgx.Row) (*SyncRecord, error) {
	s := &SyncRecord{}
	err := row.Scan(&s.ID, &s.DocumentID, &s.Status, &s.RetryCount, &s.LastError, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

type pgStore struct {
	db pgx.Tx
}

func (s *pgStore) LockOwner(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, userID)
	if err != nil {
		return fmt.Errorf("locking document owner: %w", err)
	}
	return nil
}

func (s *pgStore) CountUserDocuments(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_documents WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting user documents: %w", err)
	}
	return n, nil
}

func (s *pgStore) UpsertMaster(ctx context.Context, d *Document) (bool, error) {
	// The no-op update makes RETURNING yield the existing row on conflict;
	// xmax is zero only for freshly inserted tuples.
	var inserted bool
	err := s.db.QueryRow(ctx, `
		INSERT INTO documents (id, content_hash, file_name, mime_type, size_bytes, storage_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (content_hash) DO UPDATE SET content_hash = EXCLUDED.content_hash
		RETURNING id, content_hash, file_name, mime_type, size_bytes, storage_path,
		          chunk_count, vector_sync_status, created_at, (xmax = 0)`,
		d.ID, d.ContentHash, d.FileName, d.MimeType, d.SizeBytes, d.StoragePath, d.CreatedAt,
	).Scan(&d.ID, &d.ContentHash, &d.FileName, &d.MimeType, &d.SizeBytes, &d.StoragePath,
		&d.ChunkCount, &d.SyncStatus, &d.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upserting document: %w", err)
	}
	return inserted, nil
}

func (s *pgStore) LinkUser(ctx context.Context, ud *UserDocument) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO user_documents (id, user_id, document_id, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, document_id) DO NOTHING`,
		ud.ID, ud.UserID, ud.Document.ID, ud.DisplayName, ud.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("linking user document: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) InsertSync(ctx context.Context, documentID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO vector_sync (document_id) VALUES ($1) ON CONFLICT (document_id) DO NOTHING`, documentID)
	if err != nil {
		return fmt.Errorf("inserting vector sync: %w", err)
	}
	return nil
}

func (s *pgStore) LockSync(ctx context.Context, documentID uuid.UUID) (*SyncRecord, error) {
	rec, err := scanSync(s.db.QueryRow(ctx,
		`SELECT `+syncColumns+` FROM vector_sync WHERE document_id = $1 FOR UPDATE`, documentID))
	if err != nil {
		return nil, fmt.Errorf("locking vector sync: %w", err)
	}
	return rec, nil
}

func (s *pgStore) SaveSync(ctx context.Context, rec *SyncRecord) error {
	_, err := s.db.Exec(ctx, `
		UPDATE vector_sync SET status = $2, retry_count = $3, last_error = $4, updated_at = $5
		WHERE id = $1`,
		rec.ID, rec.Status, rec.RetryCount, rec.LastError, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving vector sync: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`UPDATE documents SET vector_sync_status = $2 WHERE id = $1`, rec.DocumentID, rec.Status)
	if err != nil {
		return fmt.Errorf("mirroring vector sync status: %w", err)
	}
	return nil
}

func (s *pgStore) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clearing document chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks (document_id, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4)`,
			documentID, c.Index, c.Content, pgvector.NewVector(c.Embedding))
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting document chunks: %w", err)
	}

	_, err := s.db.Exec(ctx, `UPDATE documents SET chunk_count = $2 WHERE id = $1`, documentID, len(chunks))
	if err != nil {
		return fmt.Errorf("updating chunk count: %w", err)
	}
	return nil
}
