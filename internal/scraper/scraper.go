// Package scraper classifies references and performs the network exchange
// for page scrapes and video embed lookups.
package scraper

import (
	"context"
	"net/http"

	"unfurl/internal/opengraph"
)

// Fetcher performs one network exchange and returns the response body.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) ([]byte, error)
}

// Request is a strategy for one kind of metadata lookup: it builds the HTTP
// request and decodes the body it gets back.
type Request interface {
	// Reference is the reference the request was built for.
	Reference() string
	// Build returns the HTTP request bound to ctx.
	Build(ctx context.Context) (*http.Request, error)
	// Decode turns a response body into a structured response.
	Decode(body []byte) (opengraph.Response, error)
}
