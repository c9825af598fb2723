package quizzes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu          sync.Mutex
	quizzes     map[uuid.UUID]*Quiz
	submissions []Submission
}

func newMemRepo() *memRepo {
	return &memRepo{quizzes: map[uuid.UUID]*Quiz{}}
}

func clone(q *Quiz) *Quiz {
	c := *q
	c.Questions = append([]Question(nil), q.Questions...)
	return &c
}

func (m *memRepo) Create(_ context.Context, q *Quiz) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quizzes[q.ID] = clone(q)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.quizzes[id]; ok {
		return clone(q), nil
	}
	return nil, nil
}

func (m *memRepo) Publish(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quizzes[id]
	if !ok {
		return ErrQuizNotFound
	}
	q.IsPublished = true
	q.UpdatedAt = at
	return nil
}

func (m *memRepo) ListByTeacher(_ context.Context, teacherID uuid.UUID, _, _ int) ([]Quiz, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Quiz
	for _, q := range m.quizzes {
		if q.TeacherID == teacherID {
			out = append(out, *q)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) ListAvailable(_ context.Context, _ uuid.UUID, _, _ int) ([]Quiz, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Quiz
	for _, q := range m.quizzes {
		if q.IsPublished {
			out = append(out, *q)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) InsertSubmission(_ context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, *s)
	return nil
}

func (m *memRepo) ListSubmissions(_ context.Context, quizID uuid.UUID, studentID *uuid.UUID) ([]Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Submission
	for _, s := range m.submissions {
		if s.QuizID == quizID && (studentID == nil || s.StudentID == *studentID) {
			out = append(out, s)
		}
	}
	return out, nil
}

type classroomSet map[[2]uuid.UUID]string

func (c classroomSet) IsTeacher(_ context.Context, classroomID, userID uuid.UUID) (bool, error) {
	return c[[2]uuid.UUID{classroomID, userID}] == "teacher", nil
}

func (c classroomSet) IsMember(_ context.Context, classroomID, userID uuid.UUID) (bool, error) {
	return c[[2]uuid.UUID{classroomID, userID}] == "student", nil
}

func points(n int) *int { return &n }

func sampleRequest() CreateRequest {
	return CreateRequest{
		Title: "Fractions check-in",
		Type:  TypeGraded,
		Questions: []QuestionInput{
			{Type: QuestionMultipleChoice, Prompt: "1/2 + 1/4 = ?", Options: []string{"3/4", "2/6", "1/8"}, CorrectAnswer: "3/4", Points: points(2)},
			{Type: QuestionTrueFalse, Prompt: "1/3 > 1/4", CorrectAnswer: "True"},
			{Type: QuestionShortAnswer, Prompt: "Name the top number of a fraction", CorrectAnswer: "Numerator"},
		},
	}
}

type fixture struct {
	svc        *Service
	repo       *memRepo
	classrooms classroomSet
	teacher    uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{repo: newMemRepo(), classrooms: classroomSet{}, teacher: uuid.New()}
	f.svc = NewService(f.repo, f.classrooms)
	return f
}

func (f *fixture) published(t *testing.T, req CreateRequest) *Quiz {
	t.Helper()
	ctx := context.Background()
	q, err := f.svc.Create(ctx, f.teacher, req)
	require.NoError(t, err)
	q, err = f.svc.Publish(ctx, q.ID, f.teacher)
	require.NoError(t, err)
	return q
}

func TestCreate_BuildsQuestions(t *testing.T) {
	f := newFixture()
	q, err := f.svc.Create(context.Background(), f.teacher, sampleRequest())
	require.NoError(t, err)

	require.Len(t, q.Questions, 3)
	assert.Equal(t, 1, q.Questions[0].Position)
	assert.Equal(t, 2, q.Questions[0].Points)
	assert.Equal(t, []string{"true", "false"}, q.Questions[1].Options)
	assert.Equal(t, "true", q.Questions[1].CorrectAnswer)
	assert.Equal(t, defaultPoints, q.Questions[2].Points)
	assert.False(t, q.IsPublished)
}

func TestCreate_RejectsUnanswerableQuestions(t *testing.T) {
	tests := []struct {
		name string
		q    QuestionInput
	}{
		{"answer not an option", QuestionInput{Type: QuestionMultipleChoice, Prompt: "p", Options: []string{"a", "b"}, CorrectAnswer: "c"}},
		{"single option", QuestionInput{Type: QuestionMultipleChoice, Prompt: "p", Options: []string{"a"}, CorrectAnswer: "a"}},
		{"bad boolean", QuestionInput{Type: QuestionTrueFalse, Prompt: "p", CorrectAnswer: "maybe"}},
		{"short answer without key", QuestionInput{Type: QuestionShortAnswer, Prompt: "p"}},
		{"unknown type", QuestionInput{Type: "essay", Prompt: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := CreateRequest{Title: "t", Type: TypeGraded, Questions: []QuestionInput{tt.q}}
			_, err := f.svc.Create(context.Background(), f.teacher, req)
			assert.ErrorIs(t, err, ErrInvalidQuiz)
			assert.Empty(t, f.repo.quizzes)
		})
	}
}

func TestCreate_ClassroomMustBeTaught(t *testing.T) {
	f := newFixture()
	classroom := uuid.New()
	req := sampleRequest()
	req.ClassroomID = &classroom

	_, err := f.svc.Create(context.Background(), f.teacher, req)
	assert.ErrorIs(t, err, ErrNoAccess)

	f.classrooms[[2]uuid.UUID{classroom, f.teacher}] = "teacher"
	_, err = f.svc.Create(context.Background(), f.teacher, req)
	assert.NoError(t, err)
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	q, err := f.svc.Create(ctx, f.teacher, sampleRequest())
	require.NoError(t, err)

	_, err = f.svc.Publish(ctx, q.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotQuizOwner)

	_, err = f.svc.Publish(ctx, q.ID, f.teacher)
	require.NoError(t, err)
	_, err = f.svc.Publish(ctx, q.ID, f.teacher)
	assert.ErrorIs(t, err, ErrAlreadyPublished)
}

func TestGet_HidesAnswersFromStudents(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	draft, err := f.svc.Create(ctx, f.teacher, sampleRequest())
	require.NoError(t, err)
	student := uuid.New()

	_, err = f.svc.Get(ctx, draft.ID, student)
	assert.ErrorIs(t, err, ErrNotPublished)

	q := f.published(t, sampleRequest())
	got, err := f.svc.Get(ctx, q.ID, student)
	require.NoError(t, err)
	for _, qs := range got.Questions {
		assert.Empty(t, qs.CorrectAnswer)
	}

	full, err := f.svc.Get(ctx, q.ID, f.teacher)
	require.NoError(t, err)
	assert.Equal(t, "3/4", full.Questions[0].CorrectAnswer)

	again, err := f.svc.Get(ctx, q.ID, f.teacher)
	require.NoError(t, err)
	assert.Equal(t, "3/4", again.Questions[0].CorrectAnswer, "student view must not mutate stored quiz")
}

func TestSubmit_Scores(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	q := f.published(t, sampleRequest())
	student := uuid.New()

	sub, err := f.svc.Submit(ctx, q.ID, student, map[uuid.UUID]string{
		q.Questions[0].ID: "3/4",
		q.Questions[1].ID: "FALSE",
		q.Questions[2].ID: "  numerator ",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sub.Score)
	assert.Equal(t, 4, sub.MaxScore)
	require.Len(t, f.repo.submissions, 1)

	_, err = f.svc.Submit(ctx, q.ID, student, map[uuid.UUID]string{uuid.New(): "x"})
	assert.ErrorIs(t, err, ErrUnknownQuestion)

	empty, err := f.svc.Submit(ctx, q.ID, student, map[uuid.UUID]string{})
	require.NoError(t, err)
	assert.Zero(t, empty.Score)
}

func TestSubmit_ClassroomQuizRequiresMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	classroom := uuid.New()
	f.classrooms[[2]uuid.UUID{classroom, f.teacher}] = "teacher"
	req := sampleRequest()
	req.ClassroomID = &classroom
	q := f.published(t, req)

	member, outsider := uuid.New(), uuid.New()
	f.classrooms[[2]uuid.UUID{classroom, member}] = "student"

	_, err := f.svc.Submit(ctx, q.ID, outsider, nil)
	assert.ErrorIs(t, err, ErrNoAccess)
	_, err = f.svc.Submit(ctx, q.ID, member, nil)
	assert.NoError(t, err)
}

func TestSurvey_HasNoScore(t *testing.T) {
	f := newFixture()
	q := f.published(t, CreateRequest{
		Title: "How was class?",
		Type:  TypeSurvey,
		Questions: []QuestionInput{
			{Type: QuestionShortAnswer, Prompt: "Anything to add?"},
		},
	})
	assert.Empty(t, q.Questions[0].CorrectAnswer)

	sub, err := f.svc.Submit(context.Background(), q.ID, uuid.New(), map[uuid.UUID]string{q.Questions[0].ID: "more games"})
	require.NoError(t, err)
	assert.Zero(t, sub.Score)
	assert.Zero(t, sub.MaxScore)
}

func TestSubmissions_Visibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	q := f.published(t, sampleRequest())
	a, b := uuid.New(), uuid.New()
	for _, s := range []uuid.UUID{a, b, a} {
		_, err := f.svc.Submit(ctx, q.ID, s, nil)
		require.NoError(t, err)
	}

	all, err := f.svc.Submissions(ctx, q.ID, f.teacher)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := f.svc.Submissions(ctx, q.ID, a)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}
