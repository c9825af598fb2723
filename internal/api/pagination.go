package api

import (
	"net/http"
	"strconv"
)

const maxPageSize = 100

// Pagination holds page/page_size query parameters.
type Pagination struct {
	Page     int
	PageSize int
}

func DefaultPagination() Pagination {
	return Pagination{Page: 1, PageSize: 20}
}

// ParsePagination reads page and page_size from the query string, ignoring
// out-of-range values.
func ParsePagination(r *http.Request) Pagination {
	p := DefaultPagination()
	if v := r.URL.Query().Get("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil && page > 0 {
			p.Page = page
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 && size <= maxPageSize {
			p.PageSize = size
		}
	}
	return p
}

func (p Pagination) Limit() int  { return p.PageSize }
func (p Pagination) Offset() int { return (p.Page - 1) * p.PageSize }
