package shared

import "math"

const (
	// DefaultPerPage applies when the caller omits perPage.
	DefaultPerPage = 10
	// MaxPerPage is the largest page a caller may request.
	MaxPerPage = 25
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"pages"`
}

// ValidatePage checks page and perPage bounds. A nil perPage selects the
// default; values outside [1, MaxPerPage] are rejected rather than clamped,
// as is any page whose row offset would not fit in an int.
func ValidatePage(page int, perPage *int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return 0, 0, BadRequest("page must be 1 or greater")
	}
	size := DefaultPerPage
	if perPage != nil {
		size = *perPage
	}
	if size < 1 || size > MaxPerPage {
		return 0, 0, BadRequest("the per page param must be between 1 and %d", MaxPerPage)
	}
	if page-1 > math.MaxInt/size {
		return 0, 0, BadRequest("page %d is out of range", page)
	}
	return page, size, nil
}

// NewPagination computes pagination metadata. An empty result still reports
// one page.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Offset returns the number of rows to skip for the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}
