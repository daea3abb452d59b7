package pagination

// Page carries page-number pagination input. Page is 1-based.
type Page struct {
	Page     int `json:"page" form:"page,default=1"`
	PageSize int `json:"page_size" form:"page_size,default=50" validate:"gte=1,lte=500"` // Min 1, Max 500
}

// Envelope echoes the applied window plus the total row count so
// callers can render page controls without a second query.
type Envelope struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Normalize clamps the requested window into the allowed bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

// Offset returns the row offset for the normalized window.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}
