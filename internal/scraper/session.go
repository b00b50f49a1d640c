package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"unfurl/internal/domain"
	"unfurl/internal/opengraph"
	"unfurl/internal/task"
)

// Options configures a Session.
type Options struct {
	// VideoHosts are host substrings that select an embed lookup.
	VideoHosts []string
	// EmbedEndpoint is the oEmbed endpoint used for embed lookups.
	EmbedEndpoint string
	// RateLimit caps outgoing requests per second; zero means unlimited.
	RateLimit float64
	// RateBurst is the limiter burst size.
	RateBurst int
	// Renderer, when set, fetches page scrapes instead of the HTTP fetcher.
	Renderer Fetcher
}

// Session classifies references and sends the matching request. It never
// retries: a failed send is reported once and the next fetch of the reference
// tries again.
type Session struct {
	fetcher  Fetcher
	renderer Fetcher
	limiter  *rate.Limiter
	hosts    []string
	endpoint string
	log      logrus.FieldLogger
}

// NewSession creates a session sending through fetcher.
func NewSession(fetcher Fetcher, opts Options, logger logrus.FieldLogger) *Session {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	hosts := opts.VideoHosts
	if len(hosts) == 0 {
		hosts = DefaultVideoHosts
	}
	return &Session{
		fetcher:  fetcher,
		renderer: opts.Renderer,
		limiter:  rate.NewLimiter(limit, burst),
		hosts:    hosts,
		endpoint: opts.EmbedEndpoint,
		log:      logger.WithField("component", "session"),
	}
}

// IsVideoHost reports whether u's host carries a video platform marker.
func (s *Session) IsVideoHost(u *url.URL) bool {
	for _, marker := range s.hosts {
		if strings.Contains(u.Host, marker) {
			return true
		}
	}
	return false
}

// NewRequest classifies reference. Video platform references that yield no
// embed request fail with domain.ErrMalformedReference rather than falling
// back to a page scrape.
func (s *Session) NewRequest(reference string) (Request, error) {
	u, err := ParseReference(reference)
	if err != nil {
		return nil, err
	}
	if s.IsVideoHost(u) {
		return NewEmbedRequest(u, s.endpoint)
	}
	return NewPageRequest(u), nil
}

// Do sends req under ctx. Transport and status errors wrap
// domain.ErrNetworkFailure; undecodable bodies wrap domain.ErrDecodeFailure.
// The providers call Do from coalesced work shared by many tasks; Send is the
// entry point for a single task.
func (s *Session) Do(ctx context.Context, req Request) (opengraph.Response, error) {
	log := s.log.WithField("reference", req.Reference())

	body, err := s.fetch(ctx, req)
	if err != nil {
		log.WithError(err).Warn("Request failed")
		return nil, err
	}
	resp, err := req.Decode(body)
	if err != nil {
		log.WithError(err).Warn("Failed to decode response")
		return nil, fmt.Errorf("%w: %w", domain.ErrDecodeFailure, err)
	}
	log.Debug("Response decoded")
	return resp, nil
}

// Send classifies reference and sends it bound to t. The returned bool is true
// when t was cancelled with continueInBackground before the response arrived:
// the result is still returned for caching but must not reach t's caller.
func (s *Session) Send(t *task.Task, reference string) (opengraph.Response, bool, error) {
	req, err := s.NewRequest(reference)
	if err != nil {
		return nil, t.Suppressed(), err
	}
	resp, err := s.Do(t.Context(), req)
	if err != nil && t.Aborted() {
		err = fmt.Errorf("%w: %w", task.ErrAborted, err)
	}
	return resp, t.Suppressed(), err
}

// Download fetches the raw bytes at reference with the plain fetcher.
func (s *Session) Download(ctx context.Context, reference string) ([]byte, error) {
	u, err := ParseReference(reference)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedReference, err)
	}
	body, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
	}
	return body, nil
}

func (s *Session) fetch(ctx context.Context, req Request) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
	}
	httpReq, err := req.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedReference, err)
	}
	fetcher := s.fetcher
	if _, isPage := req.(*PageRequest); isPage && s.renderer != nil {
		fetcher = s.renderer
	}
	body, err := fetcher.Fetch(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
	}
	return body, nil
}
