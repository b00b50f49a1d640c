package domain

import (
	"strings"
	"time"
)

// Record is the persisted metadata for one source reference.
// A freshly created record has an empty SourceReference and a zero LastUpdated,
// which is the same as "never fetched".
type Record struct {
	// Key is the normalized reference the record is stored under.
	Key string `json:"key"`

	// SourceReference is the reference as requested. It is set once a fetch has
	// been attempted for this record.
	SourceReference string `json:"source_reference"`

	// CanonicalURL is the og:url of the page (or the reference itself for embeds).
	CanonicalURL string `json:"canonical_url,omitempty"`

	// Title from og:title or the embed title.
	Title string `json:"title,omitempty"`

	// Description from og:description.
	Description string `json:"description,omitempty"`

	// PageType from og:type or the embed type.
	PageType string `json:"page_type,omitempty"`

	// SiteName from og:site_name or the embed provider name.
	SiteName string `json:"site_name,omitempty"`

	// ImageURL points at the preview image (og:image or the embed thumbnail).
	ImageURL string `json:"image_url,omitempty"`

	// LastUpdated is when a fetch last completed successfully.
	LastUpdated time.Time `json:"last_updated"`
}

// NormalizeReference returns the store key for a reference.
func NormalizeReference(reference string) string {
	return strings.TrimSpace(reference)
}

// NewRecord returns an empty record keyed by the normalized reference.
func NewRecord(reference string) *Record {
	return &Record{Key: NormalizeReference(reference)}
}

// Fetched reports whether a fetch was ever attempted for the record.
func (r *Record) Fetched() bool {
	return r.SourceReference != ""
}

// FreshAt reports whether the record was updated less than interval before now.
func (r *Record) FreshAt(now time.Time, interval time.Duration) bool {
	if r.LastUpdated.IsZero() {
		return false
	}
	return now.Sub(r.LastUpdated) < interval
}

// Apply copies the extracted metadata into the record and stamps LastUpdated.
// Absent fields are stored as empty strings.
func (r *Record) Apply(m Metadata, now time.Time) {
	r.Title = deref(m.Title)
	r.Description = deref(m.Description)
	r.PageType = deref(m.PageType)
	r.SiteName = deref(m.SiteName)
	r.ImageURL = urlString(m.ImageURL)
	r.CanonicalURL = urlString(m.CanonicalURL)
	r.LastUpdated = now
}
