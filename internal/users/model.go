package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/auth"
	"github.com/learnhub/learnhub/internal/privacy"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleTeacher    Role = "teacher"
	RoleParent     Role = "parent"
	RoleIndividual Role = "individual"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleParent, RoleIndividual, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            *string    `json:"email,omitempty"`
	Phone            *string    `json:"phone_number,omitempty"`
	Username         string     `json:"username"`
	PasswordHash     string     `json:"-"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	Bio              string     `json:"bio"`
	AvatarURL        string     `json:"avatar_url"`
	Role             Role       `json:"user_type"`
	IsActive         bool       `json:"is_active"`
	IsVerified       bool       `json:"is_verified"`
	IsEmailVerified  bool       `json:"is_email_verified"`
	IsPhoneVerified  bool       `json:"is_phone_verified"`
	IsSuspended      bool       `json:"is_suspended"`
	SuspensionReason *string    `json:"suspension_reason,omitempty"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	TwoFactorSecret  *string    `json:"-"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (u *User) EmailAddr() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

func (u *User) PhoneNumber() string {
	if u.Phone == nil {
		return ""
	}
	return *u.Phone
}

// Identity is what ends up inside the user's access token.
func (u *User) Identity() auth.Identity {
	return auth.Identity{UserID: u.ID.String(), Email: u.EmailAddr(), Role: string(u.Role)}
}

// Record flattens the account fields into a privacy record.
func (u *User) Record() privacy.Record {
	rec := privacy.Record{
		privacy.FieldID:           u.ID,
		privacy.FieldUsername:     u.Username,
		privacy.FieldUserType:     u.Role,
		privacy.FieldCreatedAt:    u.CreatedAt,
		privacy.FieldFirstName:    u.FirstName,
		privacy.FieldLastName:     u.LastName,
		privacy.FieldBio:          u.Bio,
		privacy.FieldAvatarURL:    u.AvatarURL,
		privacy.FieldIsActive:     u.IsActive,
		privacy.FieldIsVerified:   u.IsVerified,
		privacy.FieldPasswordHash: u.PasswordHash,
	}
	if u.Email != nil {
		rec[privacy.FieldEmail] = *u.Email
	}
	if u.Phone != nil {
		rec[privacy.FieldPhoneNumber] = *u.Phone
	}
	if u.DateOfBirth != nil {
		rec[privacy.FieldDateOfBirth] = u.DateOfBirth.Format(time.DateOnly)
	}
	if u.LastLoginAt != nil {
		rec[privacy.FieldLastLoginAt] = *u.LastLoginAt
	}
	if u.TwoFactorSecret != nil {
		rec[privacy.FieldTwoFactorSecret] = *u.TwoFactorSecret
	}
	return rec
}

// Summary is the user shape returned by the auth endpoints.
type Summary struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone_number,omitempty"`
	Role       Role      `json:"user_type"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	IsVerified bool      `json:"is_verified"`
	IsMinor    bool      `json:"is_minor,omitempty"`
}

func (u *User) Summary() Summary {
	return Summary{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.EmailAddr(),
		Phone:      u.PhoneNumber(),
		Role:       u.Role,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsVerified: u.IsVerified,
	}
}
