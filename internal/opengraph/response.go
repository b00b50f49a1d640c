package opengraph

import "unfurl/internal/domain"

// Response is a decoded network response: *PageResponse or *EmbedResponse.
type Response interface {
	response()
}

// PageResponse holds the head meta tags of a scraped page.
type PageResponse struct {
	Meta []Meta
}

// EmbedResponse holds a video platform's embed info.
type EmbedResponse struct {
	Embed Embed
}

func (*PageResponse) response()  {}
func (*EmbedResponse) response() {}

// Extract turns a decoded response into metadata for sourceReference.
func Extract(resp Response, sourceReference string) domain.Metadata {
	switch r := resp.(type) {
	case *EmbedResponse:
		return FromEmbed(r.Embed, sourceReference)
	case *PageResponse:
		return FromMeta(r.Meta, sourceReference)
	default:
		return domain.Metadata{SourceURL: domain.ParseURL(sourceReference)}
	}
}
