package models

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Current int `json:"current"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
	Limit   int `json:"limit"`
}

// NewPagination normalises page/limit and computes the page count as
// ceil(total/limit).
func NewPagination(page, limit, total int) *Pagination {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	pages := (total + limit - 1) / limit
	return &Pagination{Current: page, Pages: pages, Total: total, Limit: limit}
}
