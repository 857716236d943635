package chi

import (
	"fmt"
	"time"

	domcontent "github.com/pressfeed/searchcore/internal/domain/content"
	"github.com/pressfeed/searchcore/internal/domain/search/filter"
	"github.com/pressfeed/searchcore/internal/domain/search/mode"
	"github.com/pressfeed/searchcore/internal/domain/search/request"
)

// Error codes returned to clients.
const (
	codeBadRequest           = "bad_request"
	codeValidationFailed     = "validation_failed"
	codeNotFound             = "not_found"
	codeUnauthorized         = "unauthorized"
	codeEmbeddingUnavailable = "embedding_unavailable"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type searchRequestDTO struct {
	Query          string     `json:"query"`
	Mode           string     `json:"mode,omitempty"`
	EnableSemantic *bool      `json:"enable_semantic,omitempty"`
	Filters        *filterDTO `json:"filters,omitempty"`
	Page           int        `json:"page,omitempty"`
	PageSize       int        `json:"page_size,omitempty"`
	SortBy         string     `json:"sort_by,omitempty"`
	SortOrder      string     `json:"sort_order,omitempty"`
	Highlight      bool       `json:"highlight,omitempty"`
}

type filterDTO struct {
	Sources      []string   `json:"sources,omitempty"`
	MinScore     *float64   `json:"min_score,omitempty"`
	MaxScore     *float64   `json:"max_score,omitempty"`
	DateFrom     *time.Time `json:"date_from,omitempty"`
	DateTo       *time.Time `json:"date_to,omitempty"`
	HasImage     *bool      `json:"has_image,omitempty"`
	IsStarred    *bool      `json:"is_starred,omitempty"`
	ExcludeSpam  *bool      `json:"exclude_spam,omitempty"`
	Labels       []string   `json:"labels,omitempty"`
	QualityFloor *int       `json:"quality_floor,omitempty"`
	MinWords     *int       `json:"min_words,omitempty"`
	MaxWords     *int       `json:"max_words,omitempty"`
	Language     string     `json:"language,omitempty"`
}

// searchRequestFromDTO builds a validated domain request. enable_semantic=false
// forces keyword mode regardless of the requested mode.
func searchRequestFromDTO(dto searchRequestDTO, limits request.Limits) (request.Request, error) {
	m := mode.Mode(dto.Mode)
	if dto.EnableSemantic != nil && !*dto.EnableSemantic {
		m = mode.Keyword
	}

	f := filterFromDTO(dto.Filters)

	return request.NewWithLimits(
		limits,
		dto.Query, m, f,
		dto.Page, dto.PageSize,
		request.SortBy(dto.SortBy), request.SortOrder(dto.SortOrder),
		dto.Highlight,
	)
}

func filterFromDTO(dto *filterDTO) filter.Filter {
	f := filter.New()
	if dto == nil {
		return f
	}
	if len(dto.Sources) > 0 {
		f = f.WithSources(dto.Sources...)
	}
	if dto.MinScore != nil || dto.MaxScore != nil {
		f = f.WithScoreBounds(dto.MinScore, dto.MaxScore)
	}
	if dto.DateFrom != nil || dto.DateTo != nil {
		f = f.WithDateRange(dto.DateFrom, dto.DateTo)
	}
	if dto.HasImage != nil {
		f = f.WithHasImage(*dto.HasImage)
	}
	if dto.IsStarred != nil {
		f = f.WithStarred(*dto.IsStarred)
	}
	if dto.ExcludeSpam != nil && !*dto.ExcludeSpam {
		f = f.WithIncludeSpam()
	}
	if len(dto.Labels) > 0 {
		f = f.WithLabels(dto.Labels...)
	}
	if dto.QualityFloor != nil {
		f = f.WithQualityFloor(*dto.QualityFloor)
	}
	if dto.MinWords != nil || dto.MaxWords != nil {
		f = f.WithWordBounds(dto.MinWords, dto.MaxWords)
	}
	if dto.Language != "" {
		f = f.WithLanguage(dto.Language)
	}
	return f
}

type contentItemDTO struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	BodyPreview  string     `json:"body_preview,omitempty"`
	URL          string     `json:"url,omitempty"`
	Source       string     `json:"source,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	QualityScore int        `json:"quality_score"`
	Language     string     `json:"language,omitempty"`
	HasImage     bool       `json:"has_image"`
	Labels       []string   `json:"labels,omitempty"`
}

func itemFromDTO(id string, dto contentItemDTO) (domcontent.Item, error) {
	item, err := domcontent.New(
		id, dto.Title, dto.BodyPreview, dto.URL, dto.Source,
		dto.PublishedAt, dto.QualityScore, dto.Language, dto.HasImage, dto.Labels,
	)
	if err != nil {
		return domcontent.Item{}, fmt.Errorf("build content item: %w", err)
	}
	return item, nil
}

func itemToDTO(item domcontent.Item) contentItemDTO {
	return contentItemDTO{
		ID:           item.ID(),
		Title:        item.Title(),
		BodyPreview:  item.BodyPreview(),
		URL:          item.URL(),
		Source:       item.Source(),
		PublishedAt:  item.PublishedAt(),
		QualityScore: item.QualityScore(),
		Language:     item.Language(),
		HasImage:     item.HasImage(),
		Labels:       item.Labels(),
	}
}

type invalidateRequestDTO struct {
	Pattern string `json:"pattern"`
}

type invalidateResponseDTO struct {
	Invalidated int `json:"invalidated"`
}

type precomputeRequestDTO struct {
	Queries []string `json:"queries"`
	Mode    string   `json:"mode,omitempty"`
}

type precomputeResponseDTO struct {
	Warmed   int `json:"warmed"`
	Cached   int `json:"cached"`
	TimedOut int `json:"timed_out"`
	Failed   int `json:"failed"`
}

type healthResponseDTO struct {
	Status       string            `json:"status"`
	Checks       map[string]string `json:"checks,omitempty"`
	IndexedItems int               `json:"indexed_items"`
}
