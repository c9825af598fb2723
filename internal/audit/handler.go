package audit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/api"
)

type Lister interface {
	List(ctx context.Context, params ListParams) ([]Log, int64, error)
}

// Handler serves the admin audit log endpoint.
type Handler struct {
	logs Lister
}

func NewHandler(logs Lister) *Handler {
	return &Handler{logs: logs}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := api.ParsePagination(r)
	params, err := parseListParams(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	params.Limit = page.Limit()
	params.Offset = page.Offset()

	logs, total, err := h.logs.List(r.Context(), params)
	if err != nil {
		slog.Error("listing audit logs", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, logs, total, page.Page, page.PageSize)
}

func parseListParams(r *http.Request) (ListParams, error) {
	q := r.URL.Query()
	params := ListParams{
		EventType: q.Get("event_type"),
		Severity:  q.Get("severity"),
	}

	if v := q.Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return params, api.NewBadRequestError("invalid user_id")
		}
		params.UserID = &id
	}
	for _, f := range []struct {
		key  string
		dest **time.Time
	}{{"from", &params.From}, {"to", &params.To}} {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, api.NewBadRequestError(f.key + " must be an RFC3339 timestamp")
		}
		*f.dest = &t
	}
	return params, nil
}
