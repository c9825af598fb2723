package users

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/privacy"
)

// Me is the owner's view of their own account.
type Me struct {
	User    *User   `json:"user"`
	Profile Profile `json:"profile"`
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*Me, error) {
	u, err := s.mustGet(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetProfile(ctx, u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &Me{User: u, Profile: p}, nil
}

// View returns target's merged record filtered for viewer. A nil viewer is
// anonymous.
func (s *Service) View(ctx context.Context, viewer *uuid.UUID, targetID uuid.UUID) (privacy.Record, error) {
	u, err := s.mustGet(ctx, targetID)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetProfile(ctx, u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	settings, err := s.privacy.Get(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	var v *privacy.Viewer
	if viewer != nil {
		v = &privacy.Viewer{UserID: *viewer}
		if *viewer != u.ID {
			v.Connected, err = s.links.HasLink(ctx, *viewer, u.ID)
			if err != nil {
				return nil, err
			}
		}
	}
	return privacy.Filter(v, u.ID, MergedRecord(u, p), settings), nil
}

// UpdateProfile replaces the caller's role profile. The payload is decoded as
// the caller's own variant, so one role can never write another's table.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, raw json.RawMessage) (Profile, error) {
	u, err := s.mustGet(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.GetProfile(ctx, u.ID, u.Role)
	if err != nil {
		return nil, err
	}

	next, err := DecodeProfile(u.Role, raw)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	preserveProtected(current, next)

	if tp, ok := next.(*TeacherProfile); ok && tp.EmployeeID != "" {
		prev, _ := current.(*TeacherProfile)
		if prev == nil || prev.EmployeeID != tp.EmployeeID {
			taken, err := s.repo.EmployeeIDExists(ctx, tp.EmployeeID)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, ErrEmployeeIDTaken
			}
		}
	}

	if err := s.repo.UpdateProfile(ctx, u.ID, next); err != nil {
		return nil, err
	}
	return next, nil
}

// preserveProtected keeps fields that only the platform may change.
func preserveProtected(current, next Profile) {
	switch n := next.(type) {
	case *StudentProfile:
		if c, ok := current.(*StudentProfile); ok {
			n.IsMinor = c.IsMinor
		}
	case *TeacherProfile:
		n.IsVerifiedEducator = false
		if c, ok := current.(*TeacherProfile); ok {
			n.IsVerifiedEducator = c.IsVerifiedEducator
		}
	case *AdminProfile:
		n.Permissions = nil
		if c, ok := current.(*AdminProfile); ok {
			n.Permissions = c.Permissions
		}
	}
}

type AccountUpdate struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	Bio       *string `json:"bio" validate:"omitempty,max=1000"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url,max=500"`
}

func (s *Service) UpdateAccount(ctx context.Context, userID uuid.UUID, req AccountUpdate) (*User, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	u, err := s.mustGet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.FirstName != nil {
		u.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		u.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Bio != nil {
		u.Bio = *req.Bio
	}
	if req.AvatarURL != nil {
		u.AvatarURL = *req.AvatarURL
	}
	u.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
	if err := s.repo.UpdateAccount(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
