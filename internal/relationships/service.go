package relationships

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/audit"
	"github.com/learnhub/learnhub/internal/notify"
)

// RoleLookup resolves a user's role. It returns "" for unknown users.
type RoleLookup interface {
	GetRole(ctx context.Context, userID uuid.UUID) (string, error)
}

type Service struct {
	repo     Repository
	roles    RoleLookup
	audit    audit.Recorder
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(repo Repository, roles RoleLookup, rec audit.Recorder, notifier notify.Notifier) *Service {
	if rec == nil {
		rec = audit.Nop{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{repo: repo, roles: roles, audit: rec, notifier: notifier, now: time.Now}
}

// NewLink builds a pending link with a fresh invitation code.
func NewLink(kind Kind, inviter, invitee uuid.UUID, linkType string, now time.Time) (*Link, error) {
	code, err := NewInvitationCode()
	if err != nil {
		return nil, err
	}
	if linkType == "" {
		linkType = DefaultLinkType(kind)
	}
	l := &Link{
		ID:             uuid.New(),
		Kind:           kind,
		InviterID:      inviter,
		InviteeID:      invitee,
		LinkType:       linkType,
		Status:         StatusPending,
		InvitationCode: code,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if kind == KindParentStudent {
		l.Permissions = DefaultParentPermissions()
	}
	return l, nil
}

// NewInvitationCode returns 16 random uppercase hex characters.
func NewInvitationCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating invitation code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

func (s *Service) Invite(ctx context.Context, inviterID uuid.UUID, req InviteRequest) (*Link, error) {
	if inviterID == req.InviteeID {
		return nil, ErrSelfLink
	}
	if req.LinkType != "" && !slices.Contains(linkTypes[req.Kind], req.LinkType) {
		return nil, ErrInvalidLinkType
	}
	if err := s.checkRoles(ctx, req.Kind, inviterID, req.InviteeID); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindOpen(ctx, req.Kind, inviterID, req.InviteeID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateLink
	}

	l, err := NewLink(req.Kind, inviterID, req.InviteeID, req.LinkType, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if req.Kind == KindParentStudent {
		if req.Permissions != nil {
			l.Permissions = *req.Permissions
		}
		l.IsPrimaryContact = req.IsPrimaryContact
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}

	s.record(ctx, inviterID, l, "invited")
	s.notifier.Notify(ctx, req.InviteeID, notify.TemplateRelationshipInvite, map[string]any{
		"kind":            l.Kind,
		"inviter_id":      inviterID.String(),
		"invitation_code": l.InvitationCode,
	})
	return l, nil
}

// checkRoles verifies that the two users fill the two sides of kind.
func (s *Service) checkRoles(ctx context.Context, kind Kind, inviterID, inviteeID uuid.UUID) error {
	want, ok := kindRoles[kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrRoleMismatch, kind)
	}
	inviterRole, err := s.roles.GetRole(ctx, inviterID)
	if err != nil {
		return err
	}
	inviteeRole, err := s.roles.GetRole(ctx, inviteeID)
	if err != nil {
		return err
	}
	if inviterRole == "" || inviteeRole == "" {
		return ErrUserNotFound
	}
	if (inviterRole == want[0] && inviteeRole == want[1]) ||
		(inviterRole == want[1] && inviteeRole == want[0]) {
		return nil
	}
	return ErrRoleMismatch
}

func (s *Service) Respond(ctx context.Context, linkID, responderID uuid.UUID, action Action) (*Link, error) {
	l, err := s.repo.GetByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrLinkNotFound
	}
	if l.InviteeID != responderID {
		return nil, ErrNotInvitee
	}
	if l.Status != StatusPending {
		return nil, ErrNotPending
	}

	switch action {
	case ActionAccept:
		l.Status = StatusAccepted
	case ActionReject:
		l.Status = StatusRejected
	case ActionBlock:
		if l.Kind != KindStudentStudent {
			return nil, ErrBlockNotAllowed
		}
		l.Status = StatusBlocked
	default:
		return nil, ErrInvalidAction
	}

	now := s.now().UTC()
	l.RespondedAt = &now
	l.UpdatedAt = now
	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}
	s.record(ctx, responderID, l, string(l.Status))
	return l, nil
}

// SetActive toggles a teacher–student link. Only the teacher side may call it.
func (s *Service) SetActive(ctx context.Context, linkID, userID uuid.UUID, active bool) (*Link, error) {
	l, err := s.repo.GetByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrLinkNotFound
	}
	if !l.Involves(userID) {
		return nil, ErrNotParticipant
	}
	if l.Kind != KindTeacherStudent {
		return nil, ErrInvalidLinkType
	}
	role, err := s.roles.GetRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	if role != "teacher" {
		return nil, ErrRoleMismatch
	}

	l.IsActive = active
	l.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, f ListFilter) ([]Link, int64, error) {
	return s.repo.List(ctx, userID, f)
}

// Remove deletes a link. Either party may remove it.
func (s *Service) Remove(ctx context.Context, linkID, userID uuid.UUID) error {
	l, err := s.repo.GetByID(ctx, linkID)
	if err != nil {
		return err
	}
	if l == nil {
		return ErrLinkNotFound
	}
	if !l.Involves(userID) {
		return ErrNotParticipant
	}
	if err := s.repo.Delete(ctx, linkID); err != nil {
		return err
	}
	s.record(ctx, userID, l, "removed")
	return nil
}

// HasLink reports whether a and b share an accepted, active link.
func (s *Service) HasLink(ctx context.Context, a, b uuid.UUID) (bool, error) {
	if a == b {
		return false, nil
	}
	return s.repo.Connected(ctx, a, b)
}

// EnsureLink creates an accepted link of kind if no open one exists. Joining a
// classroom uses it to connect student and teacher without an invitation.
func (s *Service) EnsureLink(ctx context.Context, kind Kind, inviter, invitee uuid.UUID, linkType string) (*Link, error) {
	existing, err := s.repo.FindOpen(ctx, kind, inviter, invitee)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.now().UTC()
	l, err := NewLink(kind, inviter, invitee, linkType, now)
	if err != nil {
		return nil, err
	}
	l.Status = StatusAccepted
	l.RespondedAt = &now
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	s.record(ctx, invitee, l, "auto_linked")
	return l, nil
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, l *Link, change string) {
	s.audit.Record(ctx, audit.Event{
		UserID:       actor,
		Type:         audit.EventRelationshipChanged,
		ResourceType: "relationship_link",
		ResourceID:   l.ID.String(),
		Details: map[string]any{
			"kind":   l.Kind,
			"change": change,
			"other":  l.Other(actor).String(),
		},
	})
}
