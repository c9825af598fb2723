package privacy

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the stored settings, or the adult defaults when none exist.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (Settings, error) {
	stored, err := s.repo.Get(ctx, userID)
	if err != nil {
		return Settings{}, err
	}
	if stored == nil {
		return DefaultSettings(userID, false), nil
	}
	return *stored, nil
}

type UpdateRequest struct {
	ProfileVisibility      *ProfileVisibility   `json:"profile_visibility" validate:"omitempty,oneof=public private locked"`
	DefaultFieldVisibility *Visibility          `json:"default_field_visibility" validate:"omitempty,oneof=public connections private"`
	FieldVisibility        map[Field]Visibility `json:"field_visibility"`
	SearchVisibility       *bool                `json:"search_visibility"`
	CommunicationSettings  map[string]bool      `json:"communication_settings"`
}

// Update merges req into the user's settings. Per-field entries are merged
// key by key rather than replaced.
func (s *Service) Update(ctx context.Context, userID uuid.UUID, req *UpdateRequest) (Settings, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return Settings{}, err
	}

	next := current
	next.FieldVisibility = maps.Clone(current.FieldVisibility)
	next.CommunicationSettings = maps.Clone(current.CommunicationSettings)
	if next.FieldVisibility == nil {
		next.FieldVisibility = map[Field]Visibility{}
	}
	if next.CommunicationSettings == nil {
		next.CommunicationSettings = map[string]bool{}
	}

	if req.ProfileVisibility != nil {
		next.ProfileVisibility = *req.ProfileVisibility
	}
	if req.DefaultFieldVisibility != nil {
		next.DefaultFieldVisibility = *req.DefaultFieldVisibility
	}
	if req.SearchVisibility != nil {
		next.SearchVisibility = *req.SearchVisibility
	}
	maps.Copy(next.FieldVisibility, req.FieldVisibility)
	maps.Copy(next.CommunicationSettings, req.CommunicationSettings)

	if err := next.Validate(); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := s.repo.Upsert(ctx, &next); err != nil {
		return Settings{}, err
	}
	return next, nil
}
