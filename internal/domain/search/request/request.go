package request

import (
	"fmt"

	"github.com/pressfeed/searchcore/internal/domain"
	"github.com/pressfeed/searchcore/internal/domain/search/filter"
	"github.com/pressfeed/searchcore/internal/domain/search/mode"
	"github.com/pressfeed/searchcore/internal/domain/search/query"
)

// Pagination limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Limits bounds request pagination. The zero value means the package
// defaults.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (l Limits) withDefaults() Limits {
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = DefaultPageSize
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = MaxPageSize
	}
	return l
}

// SortBy selects the result ordering.
type SortBy string

// Supported sort orderings.
const (
	SortRelevance SortBy = "relevance"
	SortDate      SortBy = "date"
	SortScore     SortBy = "score"
	SortTitle     SortBy = "title"
)

// IsValid reports whether s is a known sort ordering.
func (s SortBy) IsValid() bool {
	switch s {
	case SortRelevance, SortDate, SortScore, SortTitle:
		return true
	}
	return false
}

// SortOrder is the sort direction.
type SortOrder string

// Sort directions.
const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// IsValid reports whether o is a known sort direction.
func (o SortOrder) IsValid() bool { return o == OrderAsc || o == OrderDesc }

// Request is a validated search request. An empty query is allowed and
// means filter-only browsing.
type Request struct {
	query      string
	searchMode mode.Mode
	filters    filter.Filter
	page       int
	pageSize   int
	sortBy     SortBy
	sortOrder  SortOrder
	highlight  bool
}

// New validates and normalizes search parameters under the default
// pagination limits.
// Defaults: mode=hybrid, page=1, page_size=20, sort_by=relevance,
// sort_order=desc (asc for title sorts).
func New(
	q string,
	m mode.Mode,
	filters filter.Filter,
	page, pageSize int,
	sortBy SortBy,
	sortOrder SortOrder,
	highlight bool,
) (Request, error) {
	return NewWithLimits(Limits{}, q, m, filters, page, pageSize, sortBy, sortOrder, highlight)
}

// NewWithLimits is New with configured pagination limits.
func NewWithLimits(
	limits Limits,
	q string,
	m mode.Mode,
	filters filter.Filter,
	page, pageSize int,
	sortBy SortBy,
	sortOrder SortOrder,
	highlight bool,
) (Request, error) {
	lim := limits.withDefaults()
	if len(q) > query.MaxLength {
		return Request{}, domain.NewValidation("query", fmt.Sprintf("too long (max %d chars)", query.MaxLength))
	}
	if m == "" {
		m = mode.Hybrid
	}
	if !m.IsValid() {
		return Request{}, domain.NewValidation("mode", fmt.Sprintf("unknown search mode %q", m))
	}
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return Request{}, domain.NewValidation("page", "must be >= 1")
	}
	if pageSize == 0 {
		pageSize = lim.DefaultPageSize
	}
	if pageSize < 1 || pageSize > lim.MaxPageSize {
		return Request{}, domain.NewValidation("page_size", fmt.Sprintf("must be between 1 and %d", lim.MaxPageSize))
	}
	if sortBy == "" {
		sortBy = SortRelevance
	}
	if !sortBy.IsValid() {
		return Request{}, domain.NewValidation("sort_by", fmt.Sprintf("unknown sort %q", sortBy))
	}
	if sortOrder == "" {
		if sortBy == SortTitle {
			sortOrder = OrderAsc
		} else {
			sortOrder = OrderDesc
		}
	}
	if !sortOrder.IsValid() {
		return Request{}, domain.NewValidation("sort_order", fmt.Sprintf("unknown sort order %q", sortOrder))
	}
	if err := filters.Validate(); err != nil {
		return Request{}, domain.NewValidation("filters", err.Error())
	}

	return Request{
		query:      q,
		searchMode: m,
		filters:    filters,
		page:       page,
		pageSize:   pageSize,
		sortBy:     sortBy,
		sortOrder:  sortOrder,
		highlight:  highlight,
	}, nil
}

// Query returns the raw query text.
func (r *Request) Query() string { return r.query }

// Mode returns the search strategy.
func (r *Request) Mode() mode.Mode { return r.searchMode }

// Filters returns the structured filters.
func (r *Request) Filters() filter.Filter { return r.filters }

// Page returns the 1-based page number.
func (r *Request) Page() int { return r.page }

// PageSize returns the page size.
func (r *Request) PageSize() int { return r.pageSize }

// SortBy returns the requested ordering.
func (r *Request) SortBy() SortBy { return r.sortBy }

// SortOrder returns the sort direction.
func (r *Request) SortOrder() SortOrder { return r.sortOrder }

// Highlight reports whether match highlighting was requested.
func (r *Request) Highlight() bool { return r.highlight }

// SettingsFields returns the non-filter request fields that change the
// result set, in canonical form for cache keying. Page and page size are
// excluded: the full ranked set is cached and pagination happens on read.
func (r *Request) SettingsFields() []string {
	return []string{
		"sort_by=" + string(r.sortBy),
		"sort_order=" + string(r.sortOrder),
	}
}
