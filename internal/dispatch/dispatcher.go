// Package dispatch runs the filter engine off the caller's goroutine. Each
// request gets a fresh worker that communicates only through encoded
// messages, and the caller gets a Pending handle for the result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/map-search/internal/convert"
	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/core/observability"
	mylog "github.com/mohammed-shakir/map-search/internal/logger"
)

// ErrWorkerFault means the worker crashed or ended without a result.
var ErrWorkerFault = errors.New("filter worker fault")

type Options struct {
	// MaxWorkers bounds how many workers run at once; queued requests wait.
	MaxWorkers int
}

type Dispatcher struct {
	logger *slog.Logger
	reg    *convert.Registry
	slots  chan struct{}
	work   worker
	now    func() time.Time
}

func New(logger *slog.Logger, reg *convert.Registry, opts Options) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = convert.NewRegistry()
	}
	n := opts.MaxWorkers
	if n <= 0 {
		n = 8
	}
	return &Dispatcher{
		logger: logger,
		reg:    reg,
		slots:  make(chan struct{}, n),
		work:   runWorker,
		now:    time.Now,
	}
}

// FilterDataset filters ds against filters. With no filters the handle
// resolves at once with the dataset's own features. Once dispatched a
// request runs to completion; ctx only bounds waiting for a worker slot.
func (d *Dispatcher) FilterDataset(ctx context.Context, ds *model.Dataset, filters []model.FilterInstance) *Pending {
	if len(filters) == 0 {
		observability.IncFilterBypass()
		return Resolved(ds.Features())
	}

	ctx = mylog.WithDataset(ctx, string(ds.ID), ds.Layer)
	p := newPending()
	payload, err := encode(newRequest(ds, filters))
	if err != nil {
		p.resolve(nil, fmt.Errorf("dataset %s: %w", ds.ID, err))
		return p
	}

	go func() {
		start := d.now()
		select {
		case d.slots <- struct{}{}:
		case <-ctx.Done():
			p.resolve(nil, fmt.Errorf("dataset %s: waiting for worker: %w", ds.ID, ctx.Err()))
			return
		}
		defer func() { <-d.slots }()

		feats, err := d.exchange(ctx, ds, payload)
		observability.ObserveFilter(err, d.now().Sub(start), len(ds.Features()), len(feats))
		if err != nil {
			d.logger.ErrorContext(ctx, "filter dataset failed", "err", err)
			p.resolve(nil, fmt.Errorf("dataset %s: %w", ds.ID, err))
			return
		}
		d.logger.DebugContext(ctx, "filter dataset done",
			"in", len(ds.Features()), "out", len(feats),
			"duration", d.now().Sub(start).String())
		p.resolve(feats, nil)
	}()
	return p
}

// exchange starts a worker and reads its messages until a terminal one.
func (d *Dispatcher) exchange(ctx context.Context, ds *model.Dataset, payload []byte) ([]*geojson.Feature, error) {
	out := make(chan []byte, 4)
	go d.work(d.reg, payload, out)

	for raw := range out {
		var m Message
		if err := decode(raw, &m); err != nil {
			observability.IncWorkerFault()
			drain(out)
			return nil, fmt.Errorf("%w: %w", ErrWorkerFault, err)
		}
		switch m.Kind {
		case KindLog:
			d.logger.DebugContext(ctx, "from worker", "message", m.Log)
		case KindResult:
			drain(out)
			return pick(ds.Features(), m.Indices)
		case KindError:
			drain(out)
			err := m.asError()
			if errors.Is(err, ErrWorkerFault) {
				observability.IncWorkerFault()
			}
			return nil, err
		default:
			observability.IncWorkerFault()
			drain(out)
			return nil, fmt.Errorf("%w: unknown message kind %d", ErrWorkerFault, m.Kind)
		}
	}
	observability.IncWorkerFault()
	return nil, fmt.Errorf("%w: worker exited without a result", ErrWorkerFault)
}

// pick maps surviving indices back to the caller's features.
func pick(features []*geojson.Feature, idx []int) ([]*geojson.Feature, error) {
	out := make([]*geojson.Feature, 0, len(idx))
	for _, i := range idx {
		if i < 0 || i >= len(features) {
			observability.IncWorkerFault()
			return nil, fmt.Errorf("%w: result index %d out of range [0,%d)", ErrWorkerFault, i, len(features))
		}
		out = append(out, features[i])
	}
	return out, nil
}

// lets a worker that keeps talking finish without blocking
func drain(ch <-chan []byte) {
	go func() {
		for range ch {
		}
	}()
}
