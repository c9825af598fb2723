package quizzes

import (
	"time"

	"github.com/google/uuid"
)

type QuizType string

const (
	TypePractice QuizType = "practice"
	TypeGraded   QuizType = "graded"
	TypeSurvey   QuizType = "survey"
)

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
)

type Quiz struct {
	ID               uuid.UUID  `json:"id"`
	TeacherID        uuid.UUID  `json:"teacher_id"`
	ClassroomID      *uuid.UUID `json:"classroom_id,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Type             QuizType   `json:"quiz_type"`
	TimeLimitMinutes *int       `json:"time_limit_minutes,omitempty"`
	IsPublished      bool       `json:"is_published"`
	Questions        []Question `json:"questions,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Question struct {
	ID            uuid.UUID    `json:"id"`
	Position      int          `json:"position"`
	Type          QuestionType `json:"question_type"`
	Prompt        string       `json:"prompt"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Points        int          `json:"points"`
}

// Submission is a student's scored attempt. Answers are keyed by question id.
type Submission struct {
	ID          uuid.UUID            `json:"id"`
	QuizID      uuid.UUID            `json:"quiz_id"`
	StudentID   uuid.UUID            `json:"student_id"`
	Answers     map[uuid.UUID]string `json:"answers"`
	Score       int                  `json:"score"`
	MaxScore    int                  `json:"max_score"`
	SubmittedAt time.Time            `json:"submitted_at"`
}

type QuestionInput struct {
	Type          QuestionType `json:"question_type" validate:"required,oneof=multiple_choice true_false short_answer"`
	Prompt        string       `json:"prompt" validate:"required,max=2000"`
	Options       []string     `json:"options" validate:"max=10,dive,required,max=500"`
	CorrectAnswer string       `json:"correct_answer" validate:"max=500"`
	Points        *int         `json:"points" validate:"omitempty,min=0,max=100"`
}

type CreateRequest struct {
	ClassroomID      *uuid.UUID      `json:"classroom_id"`
	Title            string          `json:"title" validate:"required,max=200"`
	Description      string          `json:"description" validate:"max=2000"`
	Type             QuizType        `json:"quiz_type" validate:"required,oneof=practice graded survey"`
	TimeLimitMinutes *int            `json:"time_limit_minutes" validate:"omitempty,min=1,max=600"`
	Questions        []QuestionInput `json:"questions" validate:"required,min=1,max=100,dive"`
}

type SubmitRequest struct {
	Answers map[uuid.UUID]string `json:"answers" validate:"required"`
}
