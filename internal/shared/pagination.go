package shared

import "math"

// DefaultPageSize applies when the caller omits page_size.
const DefaultPageSize = 50

// Pagination contains metadata for paginated listings. Pages are zero-based.
type Pagination struct {
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata.
func NewPagination(page, pageSize, total int) Pagination {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 0 {
		page = 0
	}
	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}
}

// ValidatePageWindow rejects out-of-range paging parameters.
func ValidatePageWindow(page, pageSize int) error {
	if page < 0 {
		return Invalidf("page %d must be >= 0", page)
	}
	if pageSize <= 0 {
		return Invalidf("page size %d must be > 0", pageSize)
	}
	return nil
}
