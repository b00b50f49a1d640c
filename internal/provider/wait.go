package provider

import (
	"context"
	"sync"
	"time"

	"unfurl/internal/domain"
	"unfurl/internal/imagecache"
	"unfurl/internal/task"
)

// Get runs Fetch and waits for the task to finish, returning the last
// delivery. If ctx ends first the task is cancelled with
// continueInBackground=true, so the refresh still lands in the store, and the
// stale snapshot (if one was delivered) is returned.
func (p *MetadataProvider) Get(ctx context.Context, reference string, updateInterval time.Duration) (domain.Metadata, error) {
	var (
		mu        sync.Mutex
		last      domain.Metadata
		lastErr   error
		delivered bool
	)
	t := p.Fetch(reference, updateInterval, func(m domain.Metadata, err error) {
		mu.Lock()
		defer mu.Unlock()
		last, lastErr, delivered = m, err, true
	})

	select {
	case <-t.Done():
	case <-ctx.Done():
		p.Cancel(t, true)
	}

	mu.Lock()
	defer mu.Unlock()
	if !delivered {
		if err := ctx.Err(); err != nil {
			return domain.Metadata{}, err
		}
		return domain.Metadata{}, task.ErrAborted
	}
	return last, lastErr
}

// Get runs Load and waits for it. On ctx expiry the download keeps going in
// the background and warms the cache.
func (p *ImageProvider) Get(ctx context.Context, reference string) (*imagecache.Image, error) {
	type result struct {
		img *imagecache.Image
		err error
	}
	ch := make(chan result, 1)
	t := p.Load(reference, func(img *imagecache.Image, err error) {
		ch <- result{img, err}
	})

	select {
	case r := <-ch:
		return r.img, r.err
	case <-t.Done():
		// finished without delivering
		select {
		case r := <-ch:
			return r.img, r.err
		default:
			return nil, task.ErrAborted
		}
	case <-ctx.Done():
		p.Cancel(t, true)
		return nil, ctx.Err()
	}
}

// Wait blocks until every fetch started by p, including ones cancelled with
// continueInBackground, has finished, or until ctx ends. Call it before
// closing the store.
func (p *MetadataProvider) Wait(ctx context.Context) error {
	if err := waitGroup(ctx, &p.tasks); err != nil {
		return err
	}
	return p.flights.wait(ctx)
}

// Wait blocks until every load started by p has finished, or until ctx ends.
func (p *ImageProvider) Wait(ctx context.Context) error {
	if err := waitGroup(ctx, &p.tasks); err != nil {
		return err
	}
	return p.flights.wait(ctx)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
