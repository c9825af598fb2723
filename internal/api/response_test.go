package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"app error", NewConflictError("already a member"), http.StatusConflict, "already a member"},
		{"wrapped app error", fmt.Errorf("joining: %w", ErrInsufficientCredits), http.StatusPaymentRequired, "insufficient credits"},
		{"plain error is hidden", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["error"])
		})
	}
}

func TestJSONPaginated_NilSliceIsEmptyArray(t *testing.T) {
	w := httptest.NewRecorder()
	var items []string
	JSONPaginated(w, http.StatusOK, items, 0, 1, 20)

	assert.JSONEq(t, `{"data":[],"total_count":0,"page":1,"page_size":20}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	NoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())
}
