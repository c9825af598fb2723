package quizzes

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const defaultPoints = 1

// ClassroomAccess answers membership questions about classrooms.
type ClassroomAccess interface {
	IsTeacher(ctx context.Context, classroomID, userID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, classroomID, studentID uuid.UUID) (bool, error)
}

type Service struct {
	repo       Repository
	classrooms ClassroomAccess
	validate   *validator.Validate
	now        func() time.Time
}

func NewService(repo Repository, classrooms ClassroomAccess) *Service {
	return &Service{
		repo:       repo,
		classrooms: classrooms,
		validate:   validator.New(),
		now:        time.Now,
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// buildQuestion checks that a question is answerable and fills defaults.
// Surveys carry no correct answers.
func buildQuestion(in QuestionInput, position int, survey bool) (Question, error) {
	q := Question{
		ID:            uuid.New(),
		Position:      position,
		Type:          in.Type,
		Prompt:        strings.TrimSpace(in.Prompt),
		Options:       in.Options,
		CorrectAnswer: strings.TrimSpace(in.CorrectAnswer),
		Points:        defaultPoints,
	}
	if in.Points != nil {
		q.Points = *in.Points
	}
	if q.Options == nil {
		q.Options = []string{}
	}

	switch q.Type {
	case QuestionMultipleChoice:
		if len(q.Options) < 2 {
			return q, fmt.Errorf("%w: question %d needs at least two options", ErrInvalidQuiz, position)
		}
		if !survey && !slices.ContainsFunc(q.Options, func(o string) bool { return normalize(o) == normalize(q.CorrectAnswer) }) {
			return q, fmt.Errorf("%w: question %d correct answer is not an option", ErrInvalidQuiz, position)
		}
	case QuestionTrueFalse:
		q.Options = []string{"true", "false"}
		if !survey {
			q.CorrectAnswer = normalize(q.CorrectAnswer)
			if q.CorrectAnswer != "true" && q.CorrectAnswer != "false" {
				return q, fmt.Errorf("%w: question %d answer must be true or false", ErrInvalidQuiz, position)
			}
		}
	case QuestionShortAnswer:
		q.Options = []string{}
		if !survey && q.CorrectAnswer == "" {
			return q, fmt.Errorf("%w: question %d needs a correct answer", ErrInvalidQuiz, position)
		}
	}
	if survey {
		q.CorrectAnswer = ""
		q.Points = 0
	}
	return q, nil
}

func (s *Service) Create(ctx context.Context, teacherID uuid.UUID, req CreateRequest) (*Quiz, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
	}
	if req.ClassroomID != nil {
		ok, err := s.classrooms.IsTeacher(ctx, *req.ClassroomID, teacherID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoAccess
		}
	}

	now := s.now().UTC()
	q := &Quiz{
		ID:               uuid.New(),
		TeacherID:        teacherID,
		ClassroomID:      req.ClassroomID,
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		Type:             req.Type,
		TimeLimitMinutes: req.TimeLimitMinutes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for i, in := range req.Questions {
		qs, err := buildQuestion(in, i+1, req.Type == TypeSurvey)
		if err != nil {
			return nil, err
		}
		q.Questions = append(q.Questions, qs)
	}

	if err := s.repo.Create(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Service) mustGet(ctx context.Context, id uuid.UUID) (*Quiz, error) {
	q, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, ErrQuizNotFound
	}
	return q, nil
}

func (s *Service) Publish(ctx context.Context, id, teacherID uuid.UUID) (*Quiz, error) {
	q, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.TeacherID != teacherID {
		return nil, ErrNotQuizOwner
	}
	if q.IsPublished {
		return nil, ErrAlreadyPublished
	}
	now := s.now().UTC()
	if err := s.repo.Publish(ctx, id, now); err != nil {
		return nil, err
	}
	q.IsPublished = true
	q.UpdatedAt = now
	return q, nil
}

// canManage reports whether userID wrote the quiz or teaches its classroom.
func (s *Service) canManage(ctx context.Context, q *Quiz, userID uuid.UUID) (bool, error) {
	if q.TeacherID == userID {
		return true, nil
	}
	if q.ClassroomID == nil {
		return false, nil
	}
	return s.classrooms.IsTeacher(ctx, *q.ClassroomID, userID)
}

// forStudent checks that a student may take q.
func (s *Service) forStudent(ctx context.Context, q *Quiz, studentID uuid.UUID) error {
	if !q.IsPublished {
		return ErrNotPublished
	}
	if q.ClassroomID == nil {
		return nil
	}
	ok, err := s.classrooms.IsMember(ctx, *q.ClassroomID, studentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoAccess
	}
	return nil
}

// Get returns the full quiz to its teachers. Everyone else gets the
// published quiz with correct answers removed.
func (s *Service) Get(ctx context.Context, id, userID uuid.UUID) (*Quiz, error) {
	q, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	manager, err := s.canManage(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	if manager {
		return q, nil
	}
	if err := s.forStudent(ctx, q, userID); err != nil {
		return nil, err
	}
	for i := range q.Questions {
		q.Questions[i].CorrectAnswer = ""
	}
	return q, nil
}

func (s *Service) ListForTeacher(ctx context.Context, teacherID uuid.UUID, limit, offset int) ([]Quiz, int64, error) {
	return s.repo.ListByTeacher(ctx, teacherID, limit, offset)
}

func (s *Service) ListForStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Quiz, int64, error) {
	return s.repo.ListAvailable(ctx, studentID, limit, offset)
}

// Score grades answers against q. Matching ignores case and surrounding
// whitespace. Unanswered questions score zero.
func Score(q *Quiz, answers map[uuid.UUID]string) (score, maxScore int, err error) {
	byID := make(map[uuid.UUID]Question, len(q.Questions))
	for _, qs := range q.Questions {
		byID[qs.ID] = qs
		maxScore += qs.Points
	}
	for id := range answers {
		if _, ok := byID[id]; !ok {
			return 0, 0, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
		}
	}
	if q.Type == TypeSurvey {
		return 0, 0, nil
	}
	for id, qs := range byID {
		if a, ok := answers[id]; ok && normalize(a) == normalize(qs.CorrectAnswer) {
			score += qs.Points
		}
	}
	return score, maxScore, nil
}

func (s *Service) Submit(ctx context.Context, id, studentID uuid.UUID, answers map[uuid.UUID]string) (*Submission, error) {
	q, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.forStudent(ctx, q, studentID); err != nil {
		return nil, err
	}
	score, maxScore, err := Score(q, answers)
	if err != nil {
		return nil, err
	}

	sub := &Submission{
		ID:          uuid.New(),
		QuizID:      q.ID,
		StudentID:   studentID,
		Answers:     answers,
		Score:       score,
		MaxScore:    maxScore,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.repo.InsertSubmission(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Submissions lists every attempt for the quiz's teachers and only the
// caller's own attempts for anyone else.
func (s *Service) Submissions(ctx context.Context, id, userID uuid.UUID) ([]Submission, error) {
	q, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	manager, err := s.canManage(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	if manager {
		return s.repo.ListSubmissions(ctx, id, nil)
	}
	return s.repo.ListSubmissions(ctx, id, &userID)
}
