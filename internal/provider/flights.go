package provider

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"unfurl/internal/task"
)

// flights runs at most one piece of work per key at a time and hands its
// result to every task waiting on that key. The work runs under a context of
// its own, cancelled once every waiting task has been aborted.
type flights struct {
	base  context.Context
	group singleflight.Group

	mu   sync.Mutex
	live map[string]*flight

	// running counts do calls whose shared result has not arrived yet,
	// including abandoned ones still unwinding.
	running sync.WaitGroup
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func newFlights(base context.Context) *flights {
	return &flights{base: base, live: make(map[string]*flight)}
}

func (f *flights) join(key string) *flight {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.live[key]
	if !ok {
		ctx, cancel := context.WithCancel(f.base)
		fl = &flight{ctx: ctx, cancel: cancel}
		f.live[key] = fl
	}
	fl.waiters++
	return fl
}

func (f *flights) leave(key string, fl *flight, abandoned bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	if f.live[key] == fl {
		delete(f.live, key)
	}
	if abandoned {
		// The cancelled execution must not be joined by later callers.
		f.group.Forget(key)
	}
	fl.cancel()
}

// do runs fn for key, or joins the run already in progress. It returns
// task.ErrAborted if t is aborted before the result is ready.
func (f *flights) do(t *task.Task, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	fl := f.join(key)
	f.running.Add(1)
	ch := f.group.DoChan(key, func() (any, error) {
		return fn(fl.ctx)
	})
	select {
	case res := <-ch:
		f.running.Done()
		f.leave(key, fl, false)
		return res.Val, res.Err
	case <-t.Context().Done():
		f.leave(key, fl, true)
		go func() {
			<-ch
			f.running.Done()
		}()
		return nil, task.ErrAborted
	}
}

// wait blocks until the work behind every do call has returned or ctx ends.
func (f *flights) wait(ctx context.Context) error {
	return waitGroup(ctx, &f.running)
}
