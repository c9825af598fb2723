package privacy

import (
	"fmt"
	"math/bits"
)

// Field identifies one projectable attribute of a user's merged record.
type Field uint8

const (
	FieldID Field = iota
	FieldUsername
	FieldUserType
	FieldCreatedAt
	FieldEmail
	FieldPhoneNumber
	FieldFirstName
	FieldLastName
	FieldDateOfBirth
	FieldBio
	FieldAvatarURL
	FieldIsActive
	FieldIsVerified
	FieldLastLoginAt

	FieldPasswordHash
	FieldPasswordResetToken
	FieldTwoFactorSecret
	FieldVerificationToken
	FieldAPIKeys
	FieldInternalNotes

	FieldStudentID
	FieldGradeLevel
	FieldSchoolName
	FieldGPA

	FieldEmployeeID
	FieldSubjects
	FieldQualifications
	FieldYearsOfExperience
	FieldIsVerifiedEducator

	FieldOccupation
	FieldNumberOfChildren

	FieldLearningGoals
	FieldInterests
	FieldEducationLevel

	FieldDepartment
	FieldPermissions

	numFields
)

var fieldNames = [numFields]string{
	FieldID:                 "id",
	FieldUsername:           "username",
	FieldUserType:           "user_type",
	FieldCreatedAt:          "created_at",
	FieldEmail:              "email",
	FieldPhoneNumber:        "phone_number",
	FieldFirstName:          "first_name",
	FieldLastName:           "last_name",
	FieldDateOfBirth:        "date_of_birth",
	FieldBio:                "bio",
	FieldAvatarURL:          "avatar_url",
	FieldIsActive:           "is_active",
	FieldIsVerified:         "is_verified",
	FieldLastLoginAt:        "last_login_at",
	FieldPasswordHash:       "hashed_password",
	FieldPasswordResetToken: "password_reset_token",
	FieldTwoFactorSecret:    "two_factor_secret",
	FieldVerificationToken:  "verification_token",
	FieldAPIKeys:            "api_keys",
	FieldInternalNotes:      "internal_notes",
	FieldStudentID:          "student_id",
	FieldGradeLevel:         "grade_level",
	FieldSchoolName:         "school_name",
	FieldGPA:                "gpa",
	FieldEmployeeID:         "employee_id",
	FieldSubjects:           "subjects",
	FieldQualifications:     "qualifications",
	FieldYearsOfExperience:  "years_of_experience",
	FieldIsVerifiedEducator: "is_verified_educator",
	FieldOccupation:         "occupation",
	FieldNumberOfChildren:   "number_of_children",
	FieldLearningGoals:      "learning_goals",
	FieldInterests:          "interests",
	FieldEducationLevel:     "education_level",
	FieldDepartment:         "department",
	FieldPermissions:        "permissions",
}

var fieldsByName = func() map[string]Field {
	m := make(map[string]Field, numFields)
	for f := Field(0); f < numFields; f++ {
		m[fieldNames[f]] = f
	}
	return m
}()

func (f Field) String() string {
	if f >= numFields {
		return fmt.Sprintf("field(%d)", uint8(f))
	}
	return fieldNames[f]
}

// ParseField resolves a wire name such as "email" to its Field.
func ParseField(name string) (Field, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}

func (f Field) MarshalText() ([]byte, error) {
	if f >= numFields {
		return nil, fmt.Errorf("unknown field %d", uint8(f))
	}
	return []byte(fieldNames[f]), nil
}

func (f *Field) UnmarshalText(b []byte) error {
	parsed, ok := ParseField(string(b))
	if !ok {
		return fmt.Errorf("unknown field %q", string(b))
	}
	*f = parsed
	return nil
}

// FieldSet is a fixed-size bit set of fields.
type FieldSet uint64

func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s |= 1 << f
	}
	return s
}

func (s FieldSet) Has(f Field) bool { return s&(1<<f) != 0 }

func (s FieldSet) Len() int { return bits.OnesCount64(uint64(s)) }

func (s FieldSet) Fields() []Field {
	out := make([]Field, 0, s.Len())
	for f := Field(0); f < numFields; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

var (
	// AlwaysPrivate fields never leave the server, not even to their owner.
	AlwaysPrivate = NewFieldSet(
		FieldPasswordHash,
		FieldPasswordResetToken,
		FieldTwoFactorSecret,
		FieldVerificationToken,
		FieldAPIKeys,
		FieldInternalNotes,
	)

	// AlwaysPublic fields are visible to everyone, even on locked profiles.
	AlwaysPublic = NewFieldSet(
		FieldID,
		FieldUsername,
		FieldUserType,
		FieldCreatedAt,
	)

	// MinorHidden fields default to private for minors at registration.
	MinorHidden = NewFieldSet(
		FieldEmail,
		FieldPhoneNumber,
		FieldDateOfBirth,
		FieldGPA,
		FieldStudentID,
	)
)
