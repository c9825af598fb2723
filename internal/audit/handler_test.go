package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	got ListParams
}

func (f *fakeLister) List(_ context.Context, p ListParams) ([]Log, int64, error) {
	f.got = p
	return []Log{{ID: uuid.New(), EventType: EventUserLogin}}, 41, nil
}

func TestHandlerList_AppliesFiltersAndPagination(t *testing.T) {
	lister := &fakeLister{}
	h := NewHandler(lister)
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/admin/audit?user_id="+userID.String()+"&event_type=user.login&from=2026-01-01T00:00:00Z&page=3&page_size=10", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, lister.got.UserID)
	assert.Equal(t, userID, *lister.got.UserID)
	assert.Equal(t, "user.login", lister.got.EventType)
	require.NotNil(t, lister.got.From)
	assert.Nil(t, lister.got.To)
	assert.Equal(t, 10, lister.got.Limit)
	assert.Equal(t, 20, lister.got.Offset)

	var body struct {
		TotalCount int64 `json:"total_count"`
		Page       int   `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(41), body.TotalCount)
	assert.Equal(t, 3, body.Page)
}

func TestHandlerList_RejectsBadTimestamp(t *testing.T) {
	h := NewHandler(&fakeLister{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit?to=yesterday", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildFilter(t *testing.T) {
	where, args := buildFilter(ListParams{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = buildFilter(ListParams{EventType: "user.login", Severity: "warn"})
	assert.Equal(t, " WHERE event_type = $1 AND severity = $2", where)
	assert.Equal(t, []any{"user.login", "warn"}, args)
}
