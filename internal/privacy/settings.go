package privacy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ProfileVisibility string

const (
	ProfilePublic  ProfileVisibility = "public"
	ProfilePrivate ProfileVisibility = "private"
	ProfileLocked  ProfileVisibility = "locked"
)

func (v ProfileVisibility) Valid() bool {
	switch v {
	case ProfilePublic, ProfilePrivate, ProfileLocked:
		return true
	}
	return false
}

// Visibility controls who may see a single field.
type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityConnections Visibility = "connections"
	VisibilityPrivate     Visibility = "private"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityConnections, VisibilityPrivate:
		return true
	}
	return false
}

type Settings struct {
	UserID                 uuid.UUID            `json:"user_id"`
	ProfileVisibility      ProfileVisibility    `json:"profile_visibility"`
	DefaultFieldVisibility Visibility           `json:"default_field_visibility"`
	FieldVisibility        map[Field]Visibility `json:"field_visibility"`
	SearchVisibility       bool                 `json:"search_visibility"`
	CommunicationSettings  map[string]bool      `json:"communication_settings"`
	UpdatedAt              time.Time            `json:"updated_at"`
}

// DefaultSettings returns the settings created at registration. Minors get a
// private profile with contact and academic identifiers hidden.
func DefaultSettings(userID uuid.UUID, minor bool) Settings {
	s := Settings{
		UserID:                 userID,
		ProfileVisibility:      ProfilePublic,
		DefaultFieldVisibility: VisibilityPublic,
		FieldVisibility:        map[Field]Visibility{},
		SearchVisibility:       true,
		CommunicationSettings: map[string]bool{
			"allow_messages":      true,
			"allow_friend_invite": true,
		},
	}
	if minor {
		s.ProfileVisibility = ProfilePrivate
		s.SearchVisibility = false
		s.CommunicationSettings["allow_messages"] = false
		for _, f := range MinorHidden.Fields() {
			s.FieldVisibility[f] = VisibilityPrivate
		}
	}
	return s
}

// Validate rejects unknown visibility values. Field names are already typed.
func (s Settings) Validate() error {
	if !s.ProfileVisibility.Valid() {
		return fmt.Errorf("invalid profile visibility %q", s.ProfileVisibility)
	}
	if !s.DefaultFieldVisibility.Valid() {
		return fmt.Errorf("invalid default field visibility %q", s.DefaultFieldVisibility)
	}
	for f, v := range s.FieldVisibility {
		if !v.Valid() {
			return fmt.Errorf("invalid visibility %q for field %s", v, f)
		}
		if AlwaysPrivate.Has(f) || AlwaysPublic.Has(f) {
			return fmt.Errorf("visibility of field %s cannot be changed", f)
		}
	}
	return nil
}
