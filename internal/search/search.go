// Package search holds the active search: the datasets being browsed, their
// filtered features, and the filter list applied to them.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/core/observability"
	"github.com/mohammed-shakir/map-search/internal/dispatch"
	mylog "github.com/mohammed-shakir/map-search/internal/logger"
)

var (
	ErrUnknownDataset   = errors.New("unknown dataset")
	ErrDuplicateDataset = errors.New("dataset already active")
	// ErrSuperseded is returned by SetFilters when a newer filter list was
	// set before its results were ready; the newer results win.
	ErrSuperseded = errors.New("filter results superseded")
)

type Filterer interface {
	FilterDataset(ctx context.Context, ds *model.Dataset, filters []model.FilterInstance) *dispatch.Pending
}

// Entry pairs an active dataset with its filtered features.
type Entry struct {
	ID       model.DatasetID
	Dataset  *model.Dataset
	Filtered []*geojson.Feature
}

type Search struct {
	logger *slog.Logger
	f      Filterer

	mu      sync.Mutex
	entries []Entry
	filters []model.FilterInstance
	gen     uint64
}

func New(logger *slog.Logger, f Filterer) *Search {
	if logger == nil {
		logger = slog.Default()
	}
	return &Search{logger: logger, f: f}
}

// AddDataset filters ds with the current filters and appends it. If the
// filters change while it is being filtered, it is filtered again.
func (s *Search) AddDataset(ctx context.Context, ds *model.Dataset) (model.DatasetID, error) {
	if ds.ID == "" {
		ds.ID = model.NewDatasetID()
	}
	ctx = mylog.WithDataset(ctx, string(ds.ID), ds.Layer)
	for {
		s.mu.Lock()
		if s.indexOf(ds.ID) >= 0 {
			s.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrDuplicateDataset, ds.ID)
		}
		gen, filters := s.gen, cloneFilters(s.filters)
		s.mu.Unlock()

		feats, err := s.f.FilterDataset(ctx, ds, filters).Wait(ctx)
		if err != nil {
			return "", fmt.Errorf("add dataset %s: %w", ds.ID, err)
		}

		s.mu.Lock()
		if gen == s.gen {
			if s.indexOf(ds.ID) >= 0 {
				s.mu.Unlock()
				return "", fmt.Errorf("%w: %s", ErrDuplicateDataset, ds.ID)
			}
			s.entries = append(s.entries, Entry{ID: ds.ID, Dataset: ds, Filtered: feats})
			s.mu.Unlock()
			s.logger.DebugContext(ctx, "dataset added", "filtered", len(feats))
			return ds.ID, nil
		}
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "filters changed while adding dataset; refiltering")
	}
}

// AddDatasetSync appends ds unfiltered. Only valid while no filters are set.
func (s *Search) AddDatasetSync(ds *model.Dataset) (model.DatasetID, error) {
	if ds.ID == "" {
		ds.ID = model.NewDatasetID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.filters) > 0 {
		return "", errors.New("add dataset without filtering: filters are active")
	}
	if s.indexOf(ds.ID) >= 0 {
		return "", fmt.Errorf("%w: %s", ErrDuplicateDataset, ds.ID)
	}
	s.entries = append(s.entries, Entry{ID: ds.ID, Dataset: ds, Filtered: ds.Features()})
	return ds.ID, nil
}

func (s *Search) RemoveDataset(id model.DatasetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownDataset, id)
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	return nil
}

// SetFilters replaces the filter list and refilters every active dataset
// concurrently. Results are published only when all datasets finished and
// only if no newer SetFilters started meanwhile.
func (s *Search) SetFilters(ctx context.Context, filters []model.FilterInstance) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.filters = cloneFilters(filters)
	snapshot := make([]Entry, len(s.entries))
	copy(snapshot, s.entries)
	mine := cloneFilters(s.filters)
	s.mu.Unlock()

	results := make([][]*geojson.Feature, len(snapshot))
	var g errgroup.Group
	for i, e := range snapshot {
		g.Go(func() error {
			feats, err := s.f.FilterDataset(ctx, e.Dataset, mine).Wait(ctx)
			if err != nil {
				return err
			}
			results[i] = feats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("set filters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		observability.IncStaleResult()
		s.logger.Debug("discarding superseded filter results", "generation", gen, "latest", s.gen)
		return ErrSuperseded
	}
	byID := make(map[model.DatasetID][]*geojson.Feature, len(snapshot))
	for i, e := range snapshot {
		byID[e.ID] = results[i]
	}
	for i := range s.entries {
		if feats, ok := byID[s.entries[i].ID]; ok {
			s.entries[i].Filtered = feats
		}
	}
	return nil
}

// Filters returns a copy of the current filter list.
func (s *Search) Filters() []model.FilterInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneFilters(s.filters)
}

// Results returns the entries in the order their datasets were added.
func (s *Search) Results() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Search) Datasets() []*model.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Dataset, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Dataset
	}
	return out
}

func (s *Search) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// caller holds mu
func (s *Search) indexOf(id model.DatasetID) int {
	return slices.IndexFunc(s.entries, func(e Entry) bool { return e.ID == id })
}

func cloneFilters(in []model.FilterInstance) []model.FilterInstance {
	if in == nil {
		return nil
	}
	out := make([]model.FilterInstance, len(in))
	for i, f := range in {
		out[i] = f.Clone()
	}
	return out
}
