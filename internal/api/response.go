package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the body of every non-paginated response. Exactly one field
// is set.
type envelope struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Page is the body of list endpoints.
type Page struct {
	Data       any   `json:"data"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("writing response body", "error", err)
	}
}

func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, envelope{Data: data})
}

func JSONMessage(w http.ResponseWriter, status int, message string) {
	write(w, status, envelope{Message: message})
}

// JSONPaginated wraps one page of a list. A nil slice is sent as [].
func JSONPaginated[T any](w http.ResponseWriter, status int, data []T, totalCount int64, page, pageSize int) {
	if data == nil {
		data = []T{}
	}
	write(w, status, Page{Data: data, TotalCount: totalCount, Page: page, PageSize: pageSize})
}

func JSONErrorMessage(w http.ResponseWriter, status int, message string) {
	write(w, status, envelope{Error: message})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
