package privacy

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Record is a user's merged identity and profile data keyed by field.
type Record map[Field]any

func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r))
	for f, v := range r {
		out[f.String()] = v
	}
	return json.Marshal(out)
}

// Viewer is the caller looking at a record. A nil *Viewer is anonymous.
type Viewer struct {
	UserID uuid.UUID
	// Connected is true when the viewer has an accepted relationship with
	// the target.
	Connected bool
}

// Filter projects target's record for viewer according to settings.
//
// The owner sees everything except AlwaysPrivate. A locked profile shows only
// AlwaysPublic. A private profile shows only AlwaysPublic to viewers who are
// not connected. Otherwise each remaining field is visible according to its
// entry in FieldVisibility, falling back to DefaultFieldVisibility.
func Filter(viewer *Viewer, targetID uuid.UUID, rec Record, settings Settings) Record {
	out := make(Record, len(rec))

	if viewer != nil && viewer.UserID == targetID {
		for f, v := range rec {
			if !AlwaysPrivate.Has(f) {
				out[f] = v
			}
		}
		return out
	}

	connected := viewer != nil && viewer.Connected
	publicOnly := settings.ProfileVisibility == ProfileLocked ||
		(settings.ProfileVisibility == ProfilePrivate && !connected)

	for f, v := range rec {
		switch {
		case AlwaysPrivate.Has(f):
			continue
		case AlwaysPublic.Has(f):
			out[f] = v
		case publicOnly:
			continue
		case visible(settings.visibilityOf(f), connected):
			out[f] = v
		}
	}
	return out
}

func (s Settings) visibilityOf(f Field) Visibility {
	if v, ok := s.FieldVisibility[f]; ok {
		return v
	}
	if s.DefaultFieldVisibility == "" {
		return VisibilityPublic
	}
	return s.DefaultFieldVisibility
}

func visible(v Visibility, connected bool) bool {
	switch v {
	case VisibilityPublic:
		return true
	case VisibilityConnections:
		return connected
	default:
		return false
	}
}
