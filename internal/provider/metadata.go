// Package provider composes the store, fetch session and caches into the
// request/cancel operations consumed by the CLI and the bot.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"unfurl/internal/domain"
	"unfurl/internal/opengraph"
	"unfurl/internal/scraper"
	"unfurl/internal/storage"
	"unfurl/internal/task"
)

// DefaultUpdateInterval is how long a stored record is served without refresh.
const DefaultUpdateInterval = 10 * 24 * time.Hour

// MetadataCompletion receives metadata deliveries. It may be called twice for
// one fetch: once with the stored snapshot, once with the refreshed result.
type MetadataCompletion func(domain.Metadata, error)

// MetadataProvider serves metadata from the store and refreshes it from the
// network when it is missing or stale.
type MetadataProvider struct {
	store    storage.Store
	session  *scraper.Session
	interval time.Duration
	ctx      context.Context
	flights  *flights
	tasks    sync.WaitGroup
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewMetadataProvider creates a provider. Work started by it is bound to ctx.
func NewMetadataProvider(ctx context.Context, store storage.Store, session *scraper.Session, updateInterval time.Duration, logger logrus.FieldLogger) *MetadataProvider {
	if updateInterval <= 0 {
		updateInterval = DefaultUpdateInterval
	}
	return &MetadataProvider{
		store:    store,
		session:  session,
		interval: updateInterval,
		ctx:      ctx,
		flights:  newFlights(ctx),
		now:      time.Now,
		log:      logger.WithField("component", "metadata_provider"),
	}
}

// UpdateInterval is the default staleness window.
func (p *MetadataProvider) UpdateInterval() time.Duration {
	return p.interval
}

// Fetch delivers metadata for reference to completion and returns at once.
//
// A stored record is delivered first. If it is younger than updateInterval
// (the provider default when <= 0) nothing else happens; otherwise the
// reference is fetched and the refreshed metadata is saved and delivered.
// When the refresh fails and a stored snapshot exists, the snapshot is
// delivered again instead of the error.
func (p *MetadataProvider) Fetch(reference string, updateInterval time.Duration, completion MetadataCompletion) *task.Task {
	if updateInterval <= 0 {
		updateInterval = p.interval
	}
	if completion == nil {
		completion = func(domain.Metadata, error) {}
	}
	t := task.New(p.ctx)
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		defer t.Finish()
		p.fetch(t, reference, updateInterval, completion)
	}()
	return t
}

func (p *MetadataProvider) fetch(t *task.Task, reference string, interval time.Duration, completion MetadataCompletion) {
	log := p.log.WithFields(logrus.Fields{"reference": reference, "task_id": t.ID()})
	deliver := func(m domain.Metadata, err error) {
		t.Deliver(func() { completion(m, err) })
	}

	record, err := p.store.FetchOrCreate(t.Context(), reference)
	if err != nil {
		log.WithError(err).Error("Failed to load record")
		deliver(domain.Metadata{}, err)
		return
	}

	var snapshot domain.Metadata
	cached := record.Fetched()
	if cached {
		snapshot = domain.FromRecord(record)
		deliver(snapshot, nil)
		if record.FreshAt(p.now(), interval) {
			log.Debug("Record is fresh, skipping refresh")
			return
		}
	}

	record.SourceReference = reference
	req, err := p.session.NewRequest(reference)
	if err != nil {
		log.WithError(err).Warn("Cannot build request for reference")
		deliver(snapshot, err)
		return
	}

	val, err := p.flights.do(t, record.Key, func(ctx context.Context) (any, error) {
		return p.refresh(ctx, reference, req)
	})
	switch {
	case t.Aborted():
		log.Debug("Fetch aborted")
		return
	case t.Suppressed():
		log.WithError(err).Debug("Fetch finished after cancel, result not delivered")
		return
	case err != nil && cached:
		log.WithError(err).Warn("Refresh failed, delivering stored metadata")
		deliver(snapshot, nil)
	case err != nil:
		log.WithError(err).Warn("Fetch failed")
		deliver(domain.Metadata{}, err)
	default:
		deliver(val.(domain.Metadata), nil)
	}
}

// refresh fetches, extracts, applies and saves, in that order. It runs once
// per reference for all concurrent fetches.
func (p *MetadataProvider) refresh(ctx context.Context, reference string, req scraper.Request) (domain.Metadata, error) {
	resp, err := p.session.Do(ctx, req)
	if err != nil {
		return domain.Metadata{}, err
	}
	extracted := opengraph.Extract(resp, reference)

	record, err := p.store.FetchOrCreate(ctx, reference)
	if err != nil {
		return domain.Metadata{}, err
	}
	record.SourceReference = reference
	record.Apply(extracted, p.now())
	if err := p.store.Save(ctx, record); err != nil {
		return domain.Metadata{}, err
	}
	p.log.WithField("reference", reference).Info("Metadata refreshed")
	return domain.FromRecord(record), nil
}

// Cancel cancels t; see task.Task.Cancel.
func (p *MetadataProvider) Cancel(t *task.Task, continueInBackground bool) {
	t.Cancel(continueInBackground)
}

// Delete removes the stored metadata for reference. It returns
// domain.ErrNotFound when nothing is stored.
func (p *MetadataProvider) Delete(ctx context.Context, reference string) error {
	return p.store.Delete(ctx, reference)
}

// DeleteRecord removes record from the store.
func (p *MetadataProvider) DeleteRecord(ctx context.Context, record *domain.Record) error {
	return p.store.DeleteRecord(ctx, record)
}
