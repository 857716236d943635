// Package content defines the indexed content item aggregate.
package content

import (
	"fmt"
	"sort"
	"time"
)

// MaxPreviewSize is the maximum body preview length in bytes. Longer previews
// are rejected, not truncated, so the caller notices a misbehaving extractor.
const MaxPreviewSize = 8192

// Item is the indexed unit (immutable value object). It is owned exclusively
// by the content index once added; callers work with copies.
type Item struct {
	id           string
	title        string
	bodyPreview  string
	url          string
	source       string
	publishedAt  *time.Time
	qualityScore int
	language     string
	hasImage     bool
	labels       []string
}

// New validates and creates an Item. Labels are deduplicated and sorted so
// two items with the same label set compare equal regardless of input order.
func New(
	id, title, bodyPreview, url, source string,
	publishedAt *time.Time, qualityScore int,
	language string, hasImage bool, labels []string,
) (Item, error) {
	if id == "" {
		return Item{}, fmt.Errorf("item id is required")
	}
	if title == "" {
		return Item{}, fmt.Errorf("item title is required")
	}
	if len(bodyPreview) > MaxPreviewSize {
		return Item{}, fmt.Errorf("body preview too large (max %d bytes)", MaxPreviewSize)
	}

	return Item{
		id:           id,
		title:        title,
		bodyPreview:  bodyPreview,
		url:          url,
		source:       source,
		publishedAt:  cloneTime(publishedAt),
		qualityScore: qualityScore,
		language:     language,
		hasImage:     hasImage,
		labels:       normalizeLabels(labels),
	}, nil
}

// ID returns the stable item identifier.
func (i *Item) ID() string { return i.id }

// Title returns the item title.
func (i *Item) Title() string { return i.title }

// BodyPreview returns the bounded-length body text.
func (i *Item) BodyPreview() string { return i.bodyPreview }

// URL returns the item URL.
func (i *Item) URL() string { return i.url }

// Source returns the originating source name.
func (i *Item) Source() string { return i.source }

// PublishedAt returns the publication time, or nil when unknown.
func (i *Item) PublishedAt() *time.Time { return cloneTime(i.publishedAt) }

// QualityScore returns the external quality signal (opaque signed integer).
func (i *Item) QualityScore() int { return i.qualityScore }

// Language returns the optional language code.
func (i *Item) Language() string { return i.language }

// HasImage reports whether the item carries an image.
func (i *Item) HasImage() bool { return i.hasImage }

// Labels returns the sorted, deduplicated label set.
func (i *Item) Labels() []string {
	out := make([]string, len(i.labels))
	copy(out, i.labels)
	return out
}

// HasLabel reports whether the item carries the given label.
func (i *Item) HasLabel(label string) bool {
	for _, l := range i.labels {
		if l == label {
			return true
		}
	}
	return false
}

// SearchText returns the text the keyword index scores: title plus preview.
func (i *Item) SearchText() string {
	if i.bodyPreview == "" {
		return i.title
	}
	return i.title + "\n\n" + i.bodyPreview
}

// Patch holds partial fields for an update; nil means "leave unchanged".
type Patch struct {
	Title        *string
	BodyPreview  *string
	URL          *string
	Source       *string
	PublishedAt  *time.Time
	QualityScore *int
	Language     *string
	HasImage     *bool
	Labels       []string
}

// TouchesText reports whether the patch changes embedding-relevant text.
func (p *Patch) TouchesText() bool {
	return p.Title != nil || p.BodyPreview != nil
}

// Apply returns a copy of item with the patch applied.
func (p *Patch) Apply(item Item) (Item, error) {
	if p.Title != nil {
		item.title = *p.Title
	}
	if p.BodyPreview != nil {
		item.bodyPreview = *p.BodyPreview
	}
	if p.URL != nil {
		item.url = *p.URL
	}
	if p.Source != nil {
		item.source = *p.Source
	}
	if p.PublishedAt != nil {
		item.publishedAt = cloneTime(p.PublishedAt)
	}
	if p.QualityScore != nil {
		item.qualityScore = *p.QualityScore
	}
	if p.Language != nil {
		item.language = *p.Language
	}
	if p.HasImage != nil {
		item.hasImage = *p.HasImage
	}
	if p.Labels != nil {
		item.labels = normalizeLabels(p.Labels)
	}
	if item.title == "" {
		return Item{}, fmt.Errorf("item title is required")
	}
	if len(item.bodyPreview) > MaxPreviewSize {
		return Item{}, fmt.Errorf("body preview too large (max %d bytes)", MaxPreviewSize)
	}
	return item, nil
}

// Vector holds the embeddings derived from an Item. A Vector exists if and
// only if its Item is currently indexed.
type Vector struct {
	Title       []float32
	Body        []float32
	Combined    []float32
	LastUpdated time.Time
}

func normalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
