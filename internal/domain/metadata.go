package domain

import "net/url"

// Metadata is an immutable snapshot of the metadata for a reference.
// Every field is optional; nil means absent.
type Metadata struct {
	ImageURL     *url.URL `json:"image_url,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Title        *string  `json:"title,omitempty"`
	PageType     *string  `json:"page_type,omitempty"`
	SiteName     *string  `json:"site_name,omitempty"`
	SourceURL    *url.URL `json:"source_url,omitempty"`
	CanonicalURL *url.URL `json:"canonical_url,omitempty"`
}

// FromRecord builds the snapshot for a stored record. Empty strings become
// absent values and unparseable URLs are dropped.
func FromRecord(r *Record) Metadata {
	if r == nil {
		return Metadata{}
	}
	return Metadata{
		ImageURL:     ParseURL(r.ImageURL),
		Description:  nonEmpty(r.Description),
		Title:        nonEmpty(r.Title),
		PageType:     nonEmpty(r.PageType),
		SiteName:     nonEmpty(r.SiteName),
		SourceURL:    ParseURL(r.SourceReference),
		CanonicalURL: ParseURL(r.CanonicalURL),
	}
}

// IsEmpty reports whether no field is set.
func (m Metadata) IsEmpty() bool {
	return m == Metadata{}
}

// ParseURL parses s and returns nil when s is empty or not a URL.
func ParseURL(s string) *url.URL {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil
	}
	return u
}

// String returns a pointer to s, keeping the empty string as a set value.
func String(s string) *string {
	return &s
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
