package dispatch

import (
	"context"
	"sync"

	"github.com/paulmach/orb/geojson"
)

// Pending is the completion handle of one filter request.
type Pending struct {
	once     sync.Once
	done     chan struct{}
	features []*geojson.Feature
	err      error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Resolved returns a handle that has already completed with features.
func Resolved(features []*geojson.Feature) *Pending {
	p := newPending()
	p.resolve(features, nil)
	return p
}

// Rejected returns a handle that has already failed with err.
func Rejected(err error) *Pending {
	p := newPending()
	p.resolve(nil, err)
	return p
}

func (p *Pending) resolve(features []*geojson.Feature, err error) {
	p.once.Do(func() {
		p.features, p.err = features, err
		close(p.done)
	})
}

func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the request completes or ctx ends. A ctx error does not
// stop the request itself.
func (p *Pending) Wait(ctx context.Context) ([]*geojson.Feature, error) {
	select {
	case <-p.done:
		return p.features, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Async runs fn on its own goroutine and returns its handle.
func Async(fn func() ([]*geojson.Feature, error)) *Pending {
	p := newPending()
	go func() {
		p.resolve(fn())
	}()
	return p
}
