package classrooms

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxStudents = 30
	codeLength         = 8
)

type Classroom struct {
	ID             uuid.UUID `json:"id"`
	OwnerTeacherID uuid.UUID `json:"owner_teacher_id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Subject        string    `json:"subject"`
	GradeLevel     string    `json:"grade_level"`
	Description    string    `json:"description"`
	Code           string    `json:"code,omitempty"`
	MaxStudents    int       `json:"max_students"`
	IsActive       bool      `json:"is_active"`
	StudentCount   int       `json:"student_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Member is a student enrolled in a classroom.
type Member struct {
	StudentID uuid.UUID `json:"student_id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	JoinedAt  time.Time `json:"joined_at"`
}

type CreateRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Subject     string `json:"subject" validate:"max=100"`
	GradeLevel  string `json:"grade_level" validate:"max=50"`
	Description string `json:"description" validate:"max=2000"`
	MaxStudents int    `json:"max_students" validate:"omitempty,min=1,max=500"`
}

type UpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	MaxStudents *int    `json:"max_students" validate:"omitempty,min=1,max=500"`
	IsActive    *bool   `json:"is_active"`
}

type JoinRequest struct {
	Code string `json:"code" validate:"required,len=8,alphanum"`
}

type AddTeacherRequest struct {
	TeacherID uuid.UUID `json:"teacher_id" validate:"required"`
}
