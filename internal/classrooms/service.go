package classrooms

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/learnhub/learnhub/internal/audit"
	"github.com/learnhub/learnhub/internal/relationships"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 5
)

// RoleLookup resolves a user's role.
type RoleLookup interface {
	GetRole(ctx context.Context, userID uuid.UUID) (string, error)
}

// LinkEnsurer connects a teacher and a student when the student joins.
type LinkEnsurer interface {
	EnsureLink(ctx context.Context, kind relationships.Kind, inviter, invitee uuid.UUID, linkType string) (*relationships.Link, error)
}

type Service struct {
	repo     Repository
	roles    RoleLookup
	links    LinkEnsurer
	audit    audit.Recorder
	validate *validator.Validate
	now      func() time.Time
}

func NewService(repo Repository, roles RoleLookup, links LinkEnsurer, rec audit.Recorder) *Service {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Service{
		repo:     repo,
		roles:    roles,
		links:    links,
		audit:    rec,
		validate: validator.New(),
		now:      time.Now,
	}
}

// NewCode returns a random join code of uppercase letters and digits.
func NewCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(codeAlphabet)))
	for range codeLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func (s *Service) Create(ctx context.Context, teacherID uuid.UUID, req CreateRequest) (*Classroom, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	now := s.now().UTC()
	c := &Classroom{
		ID:             uuid.New(),
		OwnerTeacherID: teacherID,
		Name:           strings.TrimSpace(req.Name),
		Slug:           slug.Make(req.Name),
		Subject:        req.Subject,
		GradeLevel:     req.GradeLevel,
		Description:    req.Description,
		MaxStudents:    req.MaxStudents,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if c.MaxStudents == 0 {
		c.MaxStudents = DefaultMaxStudents
	}

	for attempt := 0; ; attempt++ {
		code, err := NewCode()
		if err != nil {
			return nil, err
		}
		c.Code = code
		err = s.repo.Create(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, errCodeTaken) || attempt+1 >= maxCodeAttempts {
			return nil, err
		}
	}
}

// Get returns a classroom to its teachers and enrolled students. Only
// teachers see the join code.
func (s *Service) Get(ctx context.Context, id, userID uuid.UUID) (*Classroom, error) {
	c, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	teacher, err := s.repo.IsTeacher(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if teacher {
		return c, nil
	}
	member, err := s.repo.IsMember(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNoAccess
	}
	c.Code = ""
	return c, nil
}

func (s *Service) Update(ctx context.Context, id, userID uuid.UUID, req UpdateRequest) (*Classroom, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	c, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerTeacherID != userID {
		return nil, ErrNotOwner
	}

	if req.Name != nil {
		c.Name = strings.TrimSpace(*req.Name)
		c.Slug = slug.Make(c.Name)
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.MaxStudents != nil {
		if *req.MaxStudents < c.StudentCount {
			return nil, ErrCapacityTooLow
		}
		c.MaxStudents = *req.MaxStudents
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Join enrolls a student by join code and connects them to the owning
// teacher with a classroom link.
func (s *Service) Join(ctx context.Context, studentID uuid.UUID, code string) (*Classroom, error) {
	c, err := s.repo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrClassroomNotFound
	}
	if err := s.repo.Join(ctx, c.ID, studentID); err != nil {
		return nil, err
	}
	c.StudentCount++

	if _, err := s.links.EnsureLink(ctx, relationships.KindTeacherStudent, c.OwnerTeacherID, studentID, "classroom"); err != nil {
		slog.Warn("linking student to classroom teacher", "error", err,
			"classroom_id", c.ID, "student_id", studentID)
	}
	s.audit.Record(ctx, audit.Event{
		UserID:       studentID,
		Type:         audit.EventClassroomJoined,
		ResourceType: "classroom",
		ResourceID:   c.ID.String(),
	})

	c.Code = ""
	return c, nil
}

// AddTeacher makes teacherID a co-teacher. Only the owner may add one.
func (s *Service) AddTeacher(ctx context.Context, id, ownerID, teacherID uuid.UUID) error {
	c, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if c.OwnerTeacherID != ownerID {
		return ErrNotOwner
	}
	if teacherID == ownerID {
		return ErrAlreadyTeacher
	}
	role, err := s.roles.GetRole(ctx, teacherID)
	if err != nil {
		return err
	}
	if role != "teacher" {
		return ErrNotTeacher
	}
	return s.repo.AddTeacher(ctx, id, teacherID)
}

func (s *Service) ListForTeacher(ctx context.Context, teacherID uuid.UUID, limit, offset int) ([]Classroom, int64, error) {
	return s.repo.ListByTeacher(ctx, teacherID, limit, offset)
}

func (s *Service) ListForStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Classroom, int64, error) {
	out, total, err := s.repo.ListByStudent(ctx, studentID, limit, offset)
	for i := range out {
		out[i].Code = ""
	}
	return out, total, err
}

// Members lists enrolled students. Only the owner and co-teachers may see it.
func (s *Service) Members(ctx context.Context, id, userID uuid.UUID) ([]Member, error) {
	if _, err := s.mustGet(ctx, id); err != nil {
		return nil, err
	}
	ok, err := s.repo.IsTeacher(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotClassroomTeacher
	}
	return s.repo.Members(ctx, id)
}

// IsTeacher reports whether userID owns or co-teaches the classroom.
func (s *Service) IsTeacher(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	return s.repo.IsTeacher(ctx, id, userID)
}

// IsMember reports whether studentID is enrolled.
func (s *Service) IsMember(ctx context.Context, id, studentID uuid.UUID) (bool, error) {
	return s.repo.IsMember(ctx, id, studentID)
}

func (s *Service) mustGet(ctx context.Context, id uuid.UUID) (*Classroom, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrClassroomNotFound
	}
	return c, nil
}
