package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/learnhub/internal/database"
)

type Repository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Session, int64, error)
	CloseSession(ctx context.Context, id uuid.UUID, at time.Time) error
	// InsertMessage stores m and bumps the session's updated_at.
	InsertMessage(ctx context.Context, m *Message) error
	// InsertMessageTx is InsertMessage inside a transaction the caller owns.
	InsertMessageTx(ctx context.Context, db database.DBTX, m *Message) error
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]Message, int64, error)
	// RecentMessages returns the last n messages, oldest first.
	RecentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]Message, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const sessionColumns = `id, user_id, classroom_id, title, subject, is_active, created_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	s := &Session{}
	if err := row.Scan(&s.ID, &s.UserID, &s.ClassroomID, &s.Title, &s.Subject,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *postgresRepository) CreateSession(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO chat_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.UserID, s.ClassroomID, s.Title, s.Subject, s.IsActive, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting chat session: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying chat session: %w", err)
	}
	return s, nil
}

func (r *postgresRepository) ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Session, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting chat sessions: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM chat_sessions
		WHERE user_id = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing chat sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning chat session: %w", err)
		}
		out = append(out, *s)
	}
	return out, total, rows.Err()
}

func (r *postgresRepository) CloseSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_sessions SET is_active = FALSE, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("closing chat session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *postgresRepository) InsertMessage(ctx context.Context, m *Message) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return r.InsertMessageTx(ctx, tx, m)
	})
}

func (r *postgresRepository) InsertMessageTx(ctx context.Context, db database.DBTX, m *Message) error {
	_, err := db.Exec(ctx, `
		INSERT INTO chat_messages (id, session_id, sender, content, credits_charged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.SessionID, m.Sender, m.Content, m.CreditsCharged, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting chat message: %w", err)
	}
	_, err = db.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = $2 WHERE id = $1`, m.SessionID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("touching chat session: %w", err)
	}
	return nil
}

const messageColumns = `id, session_id, sender, content, credits_charged, created_at`

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Content, &m.CreditsCharged, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *postgresRepository) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]Message, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages WHERE session_id = $1`, sessionID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting chat messages: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+messageColumns+` FROM chat_messages
		WHERE session_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`, sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing chat messages: %w", err)
	}
	out, err := scanMessages(rows)
	return out, total, err
}

func (r *postgresRepository) RecentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM chat_messages
			WHERE session_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		) recent ORDER BY created_at, id`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("querying recent chat messages: %w", err)
	}
	return scanMessages(rows)
}
