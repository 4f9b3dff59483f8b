package pagination

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Page is an offset window. Cached list keys embed both fields, so pages are
// always normalised before use.
type Page struct {
	Limit  int `form:"limit,default=10"`
	Offset int `form:"offset,default=0"`
}

type PageInfo struct {
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	NextOffset int  `json:"next_offset,omitempty"`
	HasMore    bool `json:"has_more"`
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Fetch is the row count to query: one extra row reveals whether more exist.
func (p Page) Fetch() int {
	return p.Limit + 1
}

// Build trims the extra row fetched by Fetch and describes the window.
func Build[T any](items []T, page Page) ([]T, PageInfo) {
	info := PageInfo{Limit: page.Limit, Offset: page.Offset}
	if len(items) > page.Limit {
		items = items[:page.Limit]
		info.HasMore = true
		info.NextOffset = page.Offset + page.Limit
	}
	return items, info
}
