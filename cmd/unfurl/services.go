package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"unfurl/internal/config"
	"unfurl/internal/imagecache"
	"unfurl/internal/provider"
	"unfurl/internal/scraper"
	"unfurl/internal/storage"
)

// services is everything a command needs, built once from config.
type services struct {
	store    storage.Store
	session  *scraper.Session
	cache    *imagecache.Cache
	metadata *provider.MetadataProvider
	images   *provider.ImageProvider
}

func newServices(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*services, error) {
	store, err := openStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	opts := scraper.Options{
		VideoHosts:    cfg.VideoHosts,
		EmbedEndpoint: cfg.EmbedEndpoint,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
	}
	if cfg.PageRenderer == config.RendererRod {
		if scraper.Available() {
			opts.Renderer = scraper.NewRodFetcher(cfg.HTTPTimeout, log)
		} else {
			log.Warn("PAGE_RENDERER=rod but no browser found, scraping pages over plain HTTP")
		}
	}
	fetcher := scraper.NewHTTPFetcher(cfg.HTTPTimeout, cfg.HTTPUserAgent, cfg.MaxBodyBytes)
	session := scraper.NewSession(fetcher, opts, log)

	cache, err := imagecache.New(afero.NewOsFs(), cfg.ImageCacheDir, cfg.ImageMemoryEntries, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize image cache: %w", err)
	}

	return &services{
		store:    store,
		session:  session,
		cache:    cache,
		metadata: provider.NewMetadataProvider(ctx, store, session, cfg.UpdateInterval, log),
		images:   provider.NewImageProvider(ctx, cache, session, log),
	}, nil
}

func openStore(cfg config.Config, log logrus.FieldLogger) (storage.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return storage.NewSQLiteStore(cfg.SQLitePath, log)
	case config.DriverBadger:
		return storage.NewBadgerStore(cfg.BadgerDBPath, log)
	default:
		return nil, errors.New("unknown store driver " + cfg.StoreDriver)
	}
}

// drainTimeout bounds how long Close waits for background refreshes.
const drainTimeout = 10 * time.Second

// Close waits for fetches cancelled with continueInBackground to land in the
// caches, then closes the store.
func (s *services) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.metadata.Wait(ctx); err != nil {
		log.WithError(err).Warn("Background metadata refreshes dropped")
	}
	if err := s.images.Wait(ctx); err != nil {
		log.WithError(err).Warn("Background image downloads dropped")
	}

	log.Debug("Closing store...")
	if err := s.store.Close(); err != nil {
		log.WithError(err).Error("Error closing store")
	}
}
