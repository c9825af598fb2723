package quizzes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/learnhub/internal/database"
)

type Repository interface {
	// Create stores the quiz and its questions in one transaction.
	Create(ctx context.Context, q *Quiz) error
	// GetByID returns the quiz with its questions ordered by position.
	GetByID(ctx context.Context, id uuid.UUID) (*Quiz, error)
	Publish(ctx context.Context, id uuid.UUID, at time.Time) error
	ListByTeacher(ctx context.Context, teacherID uuid.UUID, limit, offset int) ([]Quiz, int64, error)
	// ListAvailable lists published quizzes that are either open to everyone
	// or belong to a classroom the student joined.
	ListAvailable(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Quiz, int64, error)
	InsertSubmission(ctx context.Context, s *Submission) error
	ListSubmissions(ctx context.Context, quizID uuid.UUID, studentID *uuid.UUID) ([]Submission, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const quizColumns = `id, teacher_id, classroom_id, title, description, quiz_type,
	time_limit_minutes, is_published, created_at, updated_at`

func scanQuiz(row pgx.Row) (*Quiz, error) {
	q := &Quiz{}
	err := row.Scan(&q.ID, &q.TeacherID, &q.ClassroomID, &q.Title, &q.Description, &q.Type,
		&q.TimeLimitMinutes, &q.IsPublished, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *postgresRepository) Create(ctx context.Context, q *Quiz) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO quizzes (`+quizColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			q.ID, q.TeacherID, q.ClassroomID, q.Title, q.Description, q.Type,
			q.TimeLimitMinutes, q.IsPublished, q.CreatedAt, q.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting quiz: %w", err)
		}

		batch := &pgx.Batch{}
		for _, qs := range q.Questions {
			batch.Queue(`
				INSERT INTO quiz_questions (id, quiz_id, position, question_type, prompt, options, correct_answer, points)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				qs.ID, q.ID, qs.Position, qs.Type, qs.Prompt, qs.Options, qs.CorrectAnswer, qs.Points)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting quiz questions: %w", err)
		}
		return nil
	})
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Quiz, error) {
	q, err := scanQuiz(r.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying quiz: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, position, question_type, prompt, options, correct_answer, points
		FROM quiz_questions WHERE quiz_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying quiz questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var qs Question
		if err := rows.Scan(&qs.ID, &qs.Position, &qs.Type, &qs.Prompt, &qs.Options,
			&qs.CorrectAnswer, &qs.Points); err != nil {
			return nil, fmt.Errorf("scanning quiz question: %w", err)
		}
		q.Questions = append(q.Questions, qs)
	}
	return q, rows.Err()
}

func (r *postgresRepository) Publish(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quizzes SET is_published = TRUE, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("publishing quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuizNotFound
	}
	return nil
}

func (r *postgresRepository) list(ctx context.Context, where string, userID uuid.UUID, limit, offset int) ([]Quiz, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quizzes WHERE `+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting quizzes: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE `+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing quizzes: %w", err)
	}
	defer rows.Close()

	var out []Quiz
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning quiz: %w", err)
		}
		out = append(out, *q)
	}
	return out, total, rows.Err()
}

func (r *postgresRepository) ListByTeacher(ctx context.Context, teacherID uuid.UUID, limit, offset int) ([]Quiz, int64, error) {
	return r.list(ctx, `teacher_id = $1`, teacherID, limit, offset)
}

func (r *postgresRepository) ListAvailable(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Quiz, int64, error) {
	return r.list(ctx, `is_published AND (classroom_id IS NULL OR classroom_id IN (
		SELECT classroom_id FROM classroom_members WHERE student_id = $1))`, studentID, limit, offset)
}

func (r *postgresRepository) InsertSubmission(ctx context.Context, s *Submission) error {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return fmt.Errorf("marshaling answers: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO quiz_submissions (id, quiz_id, student_id, answers, score, max_score, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.QuizID, s.StudentID, answers, s.Score, s.MaxScore, s.SubmittedAt)
	if err != nil {
		return fmt.Errorf("inserting quiz submission: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListSubmissions(ctx context.Context, quizID uuid.UUID, studentID *uuid.UUID) ([]Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, quiz_id, student_id, answers, score, max_score, submitted_at
		FROM quiz_submissions
		WHERE quiz_id = $1 AND ($2::uuid IS NULL OR student_id = $2)
		ORDER BY submitted_at DESC`, quizID, studentID)
	if err != nil {
		return nil, fmt.Errorf("listing quiz submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var (
			s   Submission
			raw []byte
		)
		if err := rows.Scan(&s.ID, &s.QuizID, &s.StudentID, &raw, &s.Score, &s.MaxScore, &s.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scanning quiz submission: %w", err)
		}
		if err := json.Unmarshal(raw, &s.Answers); err != nil {
			return nil, fmt.Errorf("decoding answers: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
