package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"unfurl/internal/imagecache"
	"unfurl/internal/task"
)

// Downloader fetches raw bytes for a reference.
type Downloader interface {
	Download(ctx context.Context, reference string) ([]byte, error)
}

// ImageCompletion receives the loaded image or an error.
type ImageCompletion func(*imagecache.Image, error)

// ImageProvider serves images from the cache, downloading on a miss. Cached
// images never expire.
type ImageProvider struct {
	cache      *imagecache.Cache
	downloader Downloader
	ctx        context.Context
	flights    *flights
	tasks      sync.WaitGroup
	log        logrus.FieldLogger
}

// NewImageProvider creates a provider. Work started by it is bound to ctx.
func NewImageProvider(ctx context.Context, cache *imagecache.Cache, downloader Downloader, logger logrus.FieldLogger) *ImageProvider {
	return &ImageProvider{
		cache:      cache,
		downloader: downloader,
		ctx:        ctx,
		flights:    newFlights(ctx),
		log:        logger.WithField("component", "image_provider"),
	}
}

// Load delivers the image for reference to completion and returns at once.
func (p *ImageProvider) Load(reference string, completion ImageCompletion) *task.Task {
	if completion == nil {
		completion = func(*imagecache.Image, error) {}
	}
	t := task.New(p.ctx)
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		defer t.Finish()
		p.load(t, reference, completion)
	}()
	return t
}

func (p *ImageProvider) load(t *task.Task, reference string, completion ImageCompletion) {
	log := p.log.WithFields(logrus.Fields{"reference": reference, "task_id": t.ID()})
	deliver := func(img *imagecache.Image, err error) {
		t.Deliver(func() { completion(img, err) })
	}

	if img, ok := p.cache.Get(reference); ok {
		log.Debug("Image cache hit")
		deliver(img, nil)
		return
	}

	val, err := p.flights.do(t, imagecache.Key(reference), func(ctx context.Context) (any, error) {
		return p.download(ctx, reference)
	})
	switch {
	case t.Aborted():
		log.Debug("Image load aborted")
	case t.Suppressed():
		log.Debug("Image load finished after cancel, result not delivered")
	case err != nil:
		log.WithError(err).Warn("Image load failed")
		deliver(nil, err)
	default:
		deliver(val.(*imagecache.Image), nil)
	}
}

// download fetches, decodes and stores. A failed disk write is logged; the
// decoded image is still returned.
func (p *ImageProvider) download(ctx context.Context, reference string) (*imagecache.Image, error) {
	data, err := p.downloader.Download(ctx, reference)
	if err != nil {
		return nil, err
	}
	img, err := imagecache.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", reference, err)
	}
	if err := p.cache.Put(reference, img); err != nil {
		p.log.WithError(err).WithField("reference", reference).Error("Failed to cache image")
	}
	return img, nil
}

// Cancel cancels t; see task.Task.Cancel.
func (p *ImageProvider) Cancel(t *task.Task, continueInBackground bool) {
	t.Cancel(continueInBackground)
}

// Cache exposes the underlying image cache for maintenance commands.
func (p *ImageProvider) Cache() *imagecache.Cache {
	return p.cache
}
