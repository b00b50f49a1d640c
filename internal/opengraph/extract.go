package opengraph

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"unfurl/internal/domain"
)

// FromEmbed maps an oEmbed response. Embeds carry no description; both the
// source and canonical URL are the requested reference.
func FromEmbed(e Embed, sourceReference string) domain.Metadata {
	return domain.Metadata{
		ImageURL:     domain.ParseURL(e.ThumbnailURL),
		Title:        domain.String(e.Title),
		PageType:     domain.String(e.Type),
		SiteName:     domain.String(e.ProviderName),
		SourceURL:    domain.ParseURL(sourceReference),
		CanonicalURL: domain.ParseURL(sourceReference),
	}
}

// FromMeta folds head meta tags into metadata. Markers are matched as
// case-sensitive substrings and a later tag for the same field overwrites an
// earlier one.
func FromMeta(metas []Meta, sourceReference string) domain.Metadata {
	m := domain.Metadata{SourceURL: domain.ParseURL(sourceReference)}
	for _, meta := range metas {
		p, c := meta.Property, meta.Content
		switch {
		case strings.Contains(p, "og:description"):
			m.Description = domain.String(strings.ReplaceAll(c, "\n", " "))
		case strings.Contains(p, "og:image") && strings.Contains(c, "http"):
			m.ImageURL = domain.ParseURL(c)
		case strings.Contains(p, "og:image"):
			// og:image without an absolute http(s) URL
		case strings.Contains(p, "og:site_name"):
			m.SiteName = domain.String(c)
		case strings.Contains(p, "og:title"):
			m.Title = domain.String(unescape(c))
		case strings.Contains(p, "og:type"):
			m.PageType = domain.String(c)
		case strings.Contains(p, "og:url"):
			m.CanonicalURL = domain.ParseURL(c)
		}
	}
	return m
}

// unescape decodes HTML entities. An invalid result yields "".
func unescape(s string) string {
	out := html.UnescapeString(s)
	if !utf8.ValidString(out) {
		return ""
	}
	return out
}
