// Package pagination provides page/limit pagination utilities.
package pagination

import "strconv"

// Defaults and bounds for page parameters.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Params is a parsed page/limit pair.
type Params struct {
	Page  int
	Limit int
}

// Offset returns the number of records to skip.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Parse reads page and limit strings (typically query params), applying
// defaults and clamping limit to MaxLimit. Invalid values fall back to
// defaults rather than erroring, matching lenient query semantics.
func Parse(pageStr, limitStr string) Params {
	page := DefaultPage
	if v, err := strconv.Atoi(pageStr); err == nil && v > 0 {
		page = v
	}

	limit := DefaultLimit
	if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
		limit = v
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Params{Page: page, Limit: limit}
}

// Page describes a result page for responses.
type Page struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// NewPage builds page metadata from params and a total count.
func NewPage(p Params, total int64) Page {
	pages := total / int64(p.Limit)
	if total%int64(p.Limit) != 0 {
		pages++
	}
	return Page{Page: p.Page, Limit: p.Limit, Total: total, Pages: pages}
}
