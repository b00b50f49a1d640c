package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"unfurl/internal/domain"
	"unfurl/internal/opengraph"
)

// DefaultEmbedEndpoint is YouTube's oEmbed endpoint.
const DefaultEmbedEndpoint = "https://www.youtube.com/oembed"

// DefaultVideoHosts are the host markers that select an embed lookup.
var DefaultVideoHosts = []string{"youtube.com", "youtu.be"}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ParseReference parses reference as an absolute http(s) URL.
func ParseReference(reference string) (*url.URL, error) {
	u, err := url.Parse(reference)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrMalformedReference, reference)
	}
	return u, nil
}

// PageRequest scrapes the head meta tags of an ordinary page.
type PageRequest struct {
	url *url.URL
}

// NewPageRequest builds a page scrape for u.
func NewPageRequest(u *url.URL) *PageRequest {
	return &PageRequest{url: u}
}

func (r *PageRequest) Reference() string { return r.url.String() }

func (r *PageRequest) Build(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	return req, nil
}

func (r *PageRequest) Decode(body []byte) (opengraph.Response, error) {
	metas, err := opengraph.ParseHead(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &opengraph.PageResponse{Meta: metas}, nil
}

// EmbedRequest asks a video platform's oEmbed endpoint about one video.
type EmbedRequest struct {
	reference string
	endpoint  string
	videoURL  string
}

// NewEmbedRequest builds the embed lookup for a video page URL. It fails with
// domain.ErrMalformedReference when no video id can be found in u.
func NewEmbedRequest(u *url.URL, endpoint string) (*EmbedRequest, error) {
	id, ok := videoID(u)
	if !ok {
		return nil, fmt.Errorf("%w: no video id in %q", domain.ErrMalformedReference, u.String())
	}
	if endpoint == "" {
		endpoint = DefaultEmbedEndpoint
	}
	return &EmbedRequest{
		reference: u.String(),
		endpoint:  endpoint,
		videoURL:  "https://www.youtube.com/watch?v=" + id,
	}, nil
}

func (r *EmbedRequest) Reference() string { return r.reference }

func (r *EmbedRequest) Build(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: embed endpoint %q", domain.ErrMalformedReference, r.endpoint)
	}
	q := u.Query()
	q.Set("format", "json")
	q.Set("url", r.videoURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (r *EmbedRequest) Decode(body []byte) (opengraph.Response, error) {
	var e opengraph.Embed
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	return &opengraph.EmbedResponse{Embed: e}, nil
}

// videoID finds the video id in watch, embed, shorts, live and short-link URLs.
func videoID(u *url.URL) (string, bool) {
	var id string
	path := strings.Trim(u.Path, "/")
	switch {
	case strings.Contains(u.Host, "youtu.be"):
		id, _, _ = strings.Cut(path, "/")
	case path == "watch":
		id = u.Query().Get("v")
	default:
		for _, prefix := range []string{"embed/", "shorts/", "live/", "v/"} {
			if rest, ok := strings.CutPrefix(path, prefix); ok {
				id, _, _ = strings.Cut(rest, "/")
				break
			}
		}
	}
	return id, videoIDPattern.MatchString(id)
}
