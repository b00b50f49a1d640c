// Package opengraph turns page-scrape and video-embed responses into
// domain.Metadata.
package opengraph

import (
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
)

// Meta is one <meta> tag from a document head.
type Meta struct {
	Property string
	Content  string
}

// ParseHead returns the property/content pairs of the head's meta tags in
// document order. Tags without a content attribute are skipped; the property
// comes from the property attribute, falling back to name.
func ParseHead(r io.Reader) ([]Meta, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	var metas []Meta
	doc.Find("head meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		property, ok := s.Attr("property")
		if !ok {
			property, ok = s.Attr("name")
		}
		if !ok {
			return
		}
		metas = append(metas, Meta{Property: property, Content: content})
	})
	return metas, nil
}
