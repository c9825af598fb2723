package users

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/learnhub/learnhub/internal/privacy"
)

// Profile is the role-specific half of a user. Each role has exactly one
// variant and Role reports which.
type Profile interface {
	Role() Role
	addTo(rec privacy.Record)
}

type StudentProfile struct {
	StudentID   string              `json:"student_id,omitempty" validate:"max=50"`
	GradeLevel  string              `json:"grade_level" validate:"max=50"`
	SchoolName  string              `json:"school_name" validate:"max=200"`
	GPA         decimal.NullDecimal `json:"gpa"`
	IsMinor     bool                `json:"is_minor"`
	ParentEmail string              `json:"parent_email,omitempty" validate:"omitempty,email"`
	ParentPhone string              `json:"parent_phone,omitempty" validate:"omitempty,e164"`
}

type TeacherProfile struct {
	EmployeeID         string   `json:"employee_id,omitempty" validate:"max=50"`
	Subjects           []string `json:"subjects" validate:"max=20,dive,max=100"`
	Qualifications     []string `json:"qualifications" validate:"max=20,dive,max=200"`
	YearsOfExperience  int      `json:"years_of_experience" validate:"gte=0,lte=80"`
	IsVerifiedEducator bool     `json:"is_verified_educator"`
}

type ParentProfile struct {
	Occupation       string `json:"occupation,omitempty" validate:"max=100"`
	NumberOfChildren int    `json:"number_of_children" validate:"gte=0,lte=20"`
}

type IndividualProfile struct {
	LearningGoals  []string `json:"learning_goals" validate:"max=20,dive,max=200"`
	Interests      []string `json:"interests" validate:"max=20,dive,max=100"`
	EducationLevel string   `json:"education_level,omitempty" validate:"max=100"`
}

type AdminProfile struct {
	Department  string   `json:"department,omitempty" validate:"max=100"`
	Permissions []string `json:"permissions"`
}

func (*StudentProfile) Role() Role    { return RoleStudent }
func (*TeacherProfile) Role() Role    { return RoleTeacher }
func (*ParentProfile) Role() Role     { return RoleParent }
func (*IndividualProfile) Role() Role { return RoleIndividual }
func (*AdminProfile) Role() Role      { return RoleAdmin }

func (p *StudentProfile) addTo(rec privacy.Record) {
	if p.StudentID != "" {
		rec[privacy.FieldStudentID] = p.StudentID
	}
	rec[privacy.FieldGradeLevel] = p.GradeLevel
	rec[privacy.FieldSchoolName] = p.SchoolName
	if p.GPA.Valid {
		rec[privacy.FieldGPA] = p.GPA.Decimal.StringFixed(2)
	}
}

func (p *TeacherProfile) addTo(rec privacy.Record) {
	if p.EmployeeID != "" {
		rec[privacy.FieldEmployeeID] = p.EmployeeID
	}
	rec[privacy.FieldSubjects] = p.Subjects
	rec[privacy.FieldQualifications] = p.Qualifications
	rec[privacy.FieldYearsOfExperience] = p.YearsOfExperience
	rec[privacy.FieldIsVerifiedEducator] = p.IsVerifiedEducator
}

func (p *ParentProfile) addTo(rec privacy.Record) {
	rec[privacy.FieldOccupation] = p.Occupation
	rec[privacy.FieldNumberOfChildren] = p.NumberOfChildren
}

func (p *IndividualProfile) addTo(rec privacy.Record) {
	rec[privacy.FieldLearningGoals] = p.LearningGoals
	rec[privacy.FieldInterests] = p.Interests
	rec[privacy.FieldEducationLevel] = p.EducationLevel
}

func (p *AdminProfile) addTo(rec privacy.Record) {
	rec[privacy.FieldDepartment] = p.Department
	rec[privacy.FieldPermissions] = p.Permissions
}

// NewProfile returns an empty variant for role.
func NewProfile(role Role) (Profile, error) {
	switch role {
	case RoleStudent:
		return &StudentProfile{}, nil
	case RoleTeacher:
		return &TeacherProfile{}, nil
	case RoleParent:
		return &ParentProfile{}, nil
	case RoleIndividual:
		return &IndividualProfile{}, nil
	case RoleAdmin:
		return &AdminProfile{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
}

// DecodeProfile unmarshals raw into the variant for role. An empty payload
// yields the zero variant.
func DecodeProfile(role Role, raw json.RawMessage) (Profile, error) {
	p, err := NewProfile(role)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return p, nil
}

// MergedRecord combines the account and profile halves of a user for the
// privacy filter.
func MergedRecord(u *User, p Profile) privacy.Record {
	rec := u.Record()
	if p != nil {
		p.addTo(rec)
	}
	return rec
}
