package query

// Pagination is the page metadata computed fresh for every list response.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	PageSize    int  `json:"pageSize"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// Envelope wraps a result page together with its pagination metadata.
type Envelope[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// NewPagination computes page metadata for an offset-paginated result set.
// totalPages = ceil(totalItems/pageSize); the has-flags derive from it.
func NewPagination(page, limit, totalItems int) Pagination {
	totalPages := 0
	if totalItems > 0 {
		totalPages = (totalItems + limit - 1) / limit
	}
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  totalItems,
		PageSize:    limit,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
}

// NewEnvelope pairs a page of items with computed pagination metadata.
func NewEnvelope[T any](items []T, page, limit, totalItems int) Envelope[T] {
	if items == nil {
		items = make([]T, 0)
	}
	return Envelope[T]{Data: items, Pagination: NewPagination(page, limit, totalItems)}
}
