package privacy

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(id uuid.UUID) Record {
	return Record{
		FieldID:              id.String(),
		FieldUsername:        "ada",
		FieldUserType:        "student",
		FieldCreatedAt:       "2024-01-01T00:00:00Z",
		FieldEmail:           "ada@example.com",
		FieldPhoneNumber:     "+15550100",
		FieldGradeLevel:      "9",
		FieldGPA:             "3.80",
		FieldBio:             "likes maths",
		FieldPasswordHash:    "$2a$12$...",
		FieldTwoFactorSecret: "JBSWY3DP",
		FieldInternalNotes:   "watch list",
	}
}

func keys(r Record) FieldSet {
	var fs []Field
	for f := range r {
		fs = append(fs, f)
	}
	return NewFieldSet(fs...)
}

func TestFilter(t *testing.T) {
	target := uuid.New()
	other := uuid.New()
	rec := sampleRecord(target)

	t.Run("owner sees everything except secrets", func(t *testing.T) {
		settings := DefaultSettings(target, false)
		settings.ProfileVisibility = ProfileLocked

		out := Filter(&Viewer{UserID: target}, target, rec, settings)
		assert.Len(t, out, len(rec)-3)
		assert.NotContains(t, out, FieldPasswordHash)
		assert.NotContains(t, out, FieldTwoFactorSecret)
		assert.NotContains(t, out, FieldInternalNotes)
		assert.Equal(t, "3.80", out[FieldGPA])
	})

	t.Run("locked profile shows only always-public", func(t *testing.T) {
		settings := DefaultSettings(target, false)
		settings.ProfileVisibility = ProfileLocked
		settings.FieldVisibility[FieldBio] = VisibilityPublic

		out := Filter(&Viewer{UserID: other, Connected: true}, target, rec, settings)
		assert.Equal(t, AlwaysPublic, keys(out))
	})

	t.Run("anonymous viewer uses per-field then default visibility", func(t *testing.T) {
		settings := DefaultSettings(target, false)
		settings.DefaultFieldVisibility = VisibilityPrivate
		settings.FieldVisibility[FieldBio] = VisibilityPublic
		settings.FieldVisibility[FieldGradeLevel] = VisibilityConnections

		out := Filter(nil, target, rec, settings)
		assert.Equal(t, NewFieldSet(FieldID, FieldUsername, FieldUserType, FieldCreatedAt, FieldBio), keys(out))
	})

	t.Run("connections-level fields need a connected viewer", func(t *testing.T) {
		settings := DefaultSettings(target, false)
		settings.FieldVisibility[FieldEmail] = VisibilityConnections

		stranger := Filter(&Viewer{UserID: other}, target, rec, settings)
		assert.NotContains(t, stranger, FieldEmail)

		friend := Filter(&Viewer{UserID: other, Connected: true}, target, rec, settings)
		assert.Equal(t, "ada@example.com", friend[FieldEmail])
	})

	t.Run("always-private overrides stored preference", func(t *testing.T) {
		settings := DefaultSettings(target, false)
		settings.FieldVisibility[FieldPasswordHash] = VisibilityPublic

		out := Filter(&Viewer{UserID: other}, target, rec, settings)
		assert.NotContains(t, out, FieldPasswordHash)
	})

	t.Run("always-public overrides stored preference", func(t *testing.T) {
		settings := DefaultSettings(target, false)
		settings.FieldVisibility[FieldUsername] = VisibilityPrivate
		settings.DefaultFieldVisibility = VisibilityPrivate

		out := Filter(nil, target, rec, settings)
		assert.Equal(t, "ada", out[FieldUsername])
	})

	t.Run("private profile hides everything but public from strangers", func(t *testing.T) {
		settings := DefaultSettings(target, true)
		settings.FieldVisibility[FieldBio] = VisibilityPublic

		stranger := Filter(&Viewer{UserID: other}, target, rec, settings)
		assert.Equal(t, AlwaysPublic, keys(stranger))

		friend := Filter(&Viewer{UserID: other, Connected: true}, target, rec, settings)
		assert.Contains(t, friend, FieldBio)
		assert.NotContains(t, friend, FieldEmail, "minor defaults hide email")
		assert.NotContains(t, friend, FieldGPA)
	})
}

func TestRecord_MarshalJSON(t *testing.T) {
	rec := Record{FieldUsername: "ada", FieldGPA: "3.80"}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"ada","gpa":"3.80"}`, string(b))
}

func TestSettings_JSONRoundTripUsesFieldNames(t *testing.T) {
	s := DefaultSettings(uuid.New(), true)
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"date_of_birth":"private"`)

	var back Settings
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, VisibilityPrivate, back.FieldVisibility[FieldDateOfBirth])

	err = json.Unmarshal([]byte(`{"field_visibility":{"shoe_size":"public"}}`), &back)
	assert.Error(t, err)
}

func TestSettings_Validate(t *testing.T) {
	s := DefaultSettings(uuid.New(), false)
	require.NoError(t, s.Validate())

	s.ProfileVisibility = "hidden"
	assert.Error(t, s.Validate())

	s = DefaultSettings(uuid.New(), false)
	s.FieldVisibility[FieldBio] = "friends"
	assert.Error(t, s.Validate())

	s = DefaultSettings(uuid.New(), false)
	s.FieldVisibility[FieldID] = VisibilityPrivate
	assert.Error(t, s.Validate())
}

func TestFieldSet(t *testing.T) {
	s := NewFieldSet(FieldEmail, FieldGPA, FieldEmail)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(FieldGPA))
	assert.False(t, s.Has(FieldBio))
	assert.Equal(t, []Field{FieldEmail, FieldGPA}, s.Fields())

	f, ok := ParseField("years_of_experience")
	assert.True(t, ok)
	assert.Equal(t, FieldYearsOfExperience, f)
	_, ok = ParseField("nope")
	assert.False(t, ok)
}
