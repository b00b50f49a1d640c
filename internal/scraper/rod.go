package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// ErrNoBrowser is returned when no browser binary is available for rod.
var ErrNoBrowser = errors.New("rod browser dependency not found")

// RodFetcher renders pages in a headless browser and returns the resulting
// HTML, for sites that only emit their meta tags from JavaScript.
type RodFetcher struct {
	log     logrus.FieldLogger
	timeout time.Duration
}

// NewRodFetcher creates a fetcher that launches a browser per fetch.
func NewRodFetcher(timeout time.Duration, logger logrus.FieldLogger) *RodFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RodFetcher{
		log:     logger.WithField("component", "rod"),
		timeout: timeout,
	}
}

// Available reports whether a browser binary can be found.
func Available() bool {
	_, ok := launcher.LookPath()
	return ok
}

// Fetch loads req.URL and returns the rendered document.
func (f *RodFetcher) Fetch(ctx context.Context, req *http.Request) (body []byte, err error) {
	target := req.URL.String()
	log := f.log.WithField("url", target)

	path, ok := launcher.LookPath()
	if !ok {
		log.Error("Cannot find browser executable for rod")
		return nil, ErrNoBrowser
	}
	u, err := launcher.New().Bin(path).Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err = browser.Connect(); err != nil {
		log.WithError(err).Error("Failed to connect to rod browser")
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Error closing rod browser instance")
			if err == nil {
				err = fmt.Errorf("error closing browser: %w", closeErr)
			}
		}
	}()

	pageCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	page, err := browser.Context(pageCtx).Page(proto.TargetCreateTarget{URL: target})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	if err = page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			log.WithError(pageCtx.Err()).Warn("Rendering timed out")
			return nil, fmt.Errorf("rendering timed out for %s: %w", target, pageCtx.Err())
		}
		return nil, fmt.Errorf("failed waiting for page load: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered html: %w", err)
	}
	log.Debug("Page rendered")
	return []byte(html), nil
}
