package relationships

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the pair of roles a link connects.
type Kind string

const (
	KindParentStudent  Kind = "parent_student"
	KindTeacherStudent Kind = "teacher_student"
	KindStudentStudent Kind = "student_student"
)

func (k Kind) Valid() bool {
	_, ok := kindRoles[k]
	return ok
}

// kindRoles lists the two roles a kind joins. Either side may invite.
var kindRoles = map[Kind][2]string{
	KindParentStudent:  {"parent", "student"},
	KindTeacherStudent: {"teacher", "student"},
	KindStudentStudent: {"student", "student"},
}

var linkTypes = map[Kind][]string{
	KindParentStudent:  {"mother", "father", "guardian"},
	KindTeacherStudent: {"classroom", "tutor", "mentor"},
	KindStudentStudent: {"friend", "study_partner"},
}

// DefaultLinkType is used when an invite leaves the type empty.
func DefaultLinkType(k Kind) string {
	switch k {
	case KindParentStudent:
		return "guardian"
	case KindTeacherStudent:
		return "classroom"
	default:
		return "friend"
	}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusBlocked  Status = "blocked"
)

// Action is an invitee's answer to a pending link.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionBlock  Action = "block"
)

// Permissions apply to parent–student links only.
type Permissions struct {
	CanViewGrades          bool `json:"can_view_grades"`
	CanViewActivity        bool `json:"can_view_activity"`
	CanManageAccount       bool `json:"can_manage_account"`
	CanCommunicateTeachers bool `json:"can_communicate_teachers"`
}

// DefaultParentPermissions grants read access and teacher contact.
func DefaultParentPermissions() Permissions {
	return Permissions{
		CanViewGrades:          true,
		CanViewActivity:        true,
		CanCommunicateTeachers: true,
	}
}

type Link struct {
	ID               uuid.UUID   `json:"id"`
	Kind             Kind        `json:"kind"`
	InviterID        uuid.UUID   `json:"inviter_id"`
	InviteeID        uuid.UUID   `json:"invitee_id"`
	LinkType         string      `json:"link_type"`
	Status           Status      `json:"status"`
	InvitationCode   string      `json:"invitation_code"`
	Permissions      Permissions `json:"permissions"`
	IsPrimaryContact bool        `json:"is_primary_contact"`
	IsActive         bool        `json:"is_active"`
	RespondedAt      *time.Time  `json:"responded_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Involves reports whether userID is either end of the link.
func (l *Link) Involves(userID uuid.UUID) bool {
	return l.InviterID == userID || l.InviteeID == userID
}

// Other returns the party opposite userID.
func (l *Link) Other(userID uuid.UUID) uuid.UUID {
	if l.InviterID == userID {
		return l.InviteeID
	}
	return l.InviterID
}

type InviteRequest struct {
	Kind             Kind         `json:"kind" validate:"required,oneof=parent_student teacher_student student_student"`
	InviteeID        uuid.UUID    `json:"invitee_id" validate:"required"`
	LinkType         string       `json:"link_type"`
	Permissions      *Permissions `json:"permissions"`
	IsPrimaryContact bool         `json:"is_primary_contact"`
}

type ListFilter struct {
	Kind   Kind
	Status Status
	Limit  int
	Offset int
}
