// Package api serves search results and URL state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/map-search/internal/catalog"
	"github.com/mohammed-shakir/map-search/internal/convert"
	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/datasource"
	"github.com/mohammed-shakir/map-search/internal/engine"
	mylog "github.com/mohammed-shakir/map-search/internal/logger"
	"github.com/mohammed-shakir/map-search/internal/predicate"
	"github.com/mohammed-shakir/map-search/internal/search"
	"github.com/mohammed-shakir/map-search/internal/urlstate"
)

// LayerLister is implemented by sources that can enumerate their layers.
type LayerLister interface {
	Layers() ([]string, error)
}

type Options struct {
	// Timeout bounds one search request end to end.
	Timeout time.Duration
}

type Handler struct {
	logger  *slog.Logger
	catalog catalog.Lookup
	data    datasource.Source
	filter  search.Filterer
	timeout time.Duration
}

func New(logger *slog.Logger, cat catalog.Lookup, data datasource.Source, f search.Filterer, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Handler{logger: logger, catalog: cat, data: data, filter: f, timeout: opts.Timeout}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/search", h.Search)
	r.Post("/state", h.EncodeState)
	r.Post("/state/decode", h.DecodeState)
	r.Get("/templates", h.Templates)
	r.Get("/layers", h.Layers)
}

type layerResult struct {
	Layer    string                     `json:"layer"`
	ID       model.DatasetID            `json:"id"`
	Total    int                        `json:"total"`
	Matched  int                        `json:"matched"`
	Features *geojson.FeatureCollection `json:"features"`
}

type searchResponse struct {
	State       string        `json:"state"`
	Fingerprint string        `json:"fingerprint"`
	Bounds      *[4]float64   `json:"bounds,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	Layers      []layerResult `json:"layers"`
}

// Search decodes the state in the query string, loads its layers, filters
// them and returns the matches per layer in the order the layers were given.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	d := urlstate.Decode(r.URL.Query())
	canonical := d.Values()
	fp := urlstate.Fingerprint(canonical)
	ctx = mylog.WithState(ctx, fp)
	for _, warn := range d.Warnings {
		h.logger.WarnContext(ctx, "state decode", "warning", warn)
	}

	filters, err := d.Filters(ctx, h.catalog)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	s := search.New(h.logger, h.filter)
	for _, layer := range uniqueLayers(d.Layers) {
		ds, err := h.data.Load(ctx, layer)
		if err != nil {
			h.fail(ctx, w, err)
			return
		}
		if _, err := s.AddDatasetSync(ds); err != nil {
			h.fail(ctx, w, err)
			return
		}
	}

	etag := etagFor(fp, s.Datasets())
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if err := s.SetFilters(ctx, filters); err != nil {
		h.fail(ctx, w, err)
		return
	}

	resp := searchResponse{
		State:       canonical.Encode(),
		Fingerprint: fp,
		Warnings:    d.Warnings,
		Layers:      make([]layerResult, 0, s.Len()),
	}
	if d.Bounds != nil {
		resp.Bounds = &[4]float64{d.Bounds.Min.Lon(), d.Bounds.Min.Lat(), d.Bounds.Max.Lon(), d.Bounds.Max.Lat()}
	}
	for _, e := range s.Results() {
		fc := geojson.NewFeatureCollection()
		fc.Features = e.Filtered
		if fc.Features == nil {
			fc.Features = []*geojson.Feature{}
		}
		resp.Layers = append(resp.Layers, layerResult{
			Layer:    e.Dataset.Layer,
			ID:       e.ID,
			Total:    len(e.Dataset.Features()),
			Matched:  len(e.Filtered),
			Features: fc,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// StateFilter is the JSON form of one filter in a state document.
type StateFilter struct {
	Template string   `json:"template"`
	Subtypes []string `json:"subtypes,omitempty"`
	Values   []string `json:"values"`
}

// StateDoc is the JSON form of a search state.
type StateDoc struct {
	Filters []StateFilter `json:"filters"`
	Layers  []string      `json:"layers"`
	Bounds  []float64     `json:"bounds,omitempty"`
}

type encodeResponse struct {
	Query       string         `json:"query"`
	Params      map[string]any `json:"params"`
	Fingerprint string         `json:"fingerprint"`
}

// EncodeState turns a JSON state document into URL parameters.
func (h *Handler) EncodeState(w http.ResponseWriter, r *http.Request) {
	var doc StateDoc
	if err := decodeBody(w, r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := doc.State(r.Context(), h.catalog)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	q := urlstate.Encode(st)
	writeJSON(w, http.StatusOK, encodeResponse{
		Query:       q.Encode(),
		Params:      urlstate.Flatten(q),
		Fingerprint: urlstate.Fingerprint(q),
	})
}

type decodedFilter struct {
	Template model.FilterTemplate `json:"template"`
	Subtypes []string             `json:"subtypes"`
	Values   []string             `json:"values"`
}

type decodeResponse struct {
	Filters     []decodedFilter `json:"filters"`
	Layers      []string        `json:"layers"`
	Bounds      []float64       `json:"bounds,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	Fingerprint string          `json:"fingerprint"`
}

// DecodeState accepts the flat parameter map (single values may be plain
// strings) and returns the structured state with templates resolved.
func (h *Handler) DecodeState(w http.ResponseWriter, r *http.Request) {
	var flat map[string]any
	if err := decodeBody(w, r, &flat); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q, err := urlstate.Unflatten(flat)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d := urlstate.Decode(q)
	filters, err := d.Filters(r.Context(), h.catalog)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	resp := decodeResponse{
		Filters:     make([]decodedFilter, 0, len(filters)),
		Layers:      d.Layers,
		Warnings:    d.Warnings,
		Fingerprint: urlstate.Fingerprint(d.Values()),
	}
	if resp.Layers == nil {
		resp.Layers = []string{}
	}
	for _, f := range filters {
		resp.Filters = append(resp.Filters, decodedFilter{
			Template: f.Template,
			Subtypes: f.SelectedSubtypes(),
			Values:   f.Values,
		})
	}
	if d.Bounds != nil {
		resp.Bounds = []float64{d.Bounds.Min.Lon(), d.Bounds.Min.Lat(), d.Bounds.Max.Lon(), d.Bounds.Max.Lat()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Templates(w http.ResponseWriter, r *http.Request) {
	ts, err := h.catalog.Templates(r.Context())
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": ts})
}

func (h *Handler) Layers(w http.ResponseWriter, r *http.Request) {
	ll, ok := h.data.(LayerLister)
	if !ok {
		writeError(w, http.StatusNotImplemented, errors.New("data source cannot list layers"))
		return
	}
	layers, err := ll.Layers()
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	if layers == nil {
		layers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"layers": layers})
}

// State resolves the document's template names into a codec state.
func (doc StateDoc) State(ctx context.Context, lookup urlstate.TemplateLookup) (urlstate.State, error) {
	st := urlstate.State{Layers: doc.Layers}
	for i, f := range doc.Filters {
		t, err := lookup.Template(ctx, f.Template)
		if err != nil {
			return urlstate.State{}, fmt.Errorf("filter %d: %w", i, err)
		}
		subs := make(map[string]bool, len(f.Subtypes))
		for _, s := range f.Subtypes {
			subs[s] = true
		}
		st.Filters = append(st.Filters, model.FilterInstance{Template: t, Subtypes: subs, Values: f.Values})
	}
	switch len(doc.Bounds) {
	case 0:
	case 4:
		b, err := urlstate.ParseBounds(urlstate.FormatBounds(orb.Bound{
			Min: orb.Point{doc.Bounds[0], doc.Bounds[1]},
			Max: orb.Point{doc.Bounds[2], doc.Bounds[3]},
		}))
		if err != nil {
			return urlstate.State{}, badRequest{fmt.Errorf("bounds: %w", err)}
		}
		if b.Min.Lat() < -90 || b.Max.Lat() > 90 {
			return urlstate.State{}, badRequest{errors.New("bounds: latitude outside [-90,90]")}
		}
		st.Bounds = &b
	default:
		return urlstate.State{}, badRequest{fmt.Errorf("bounds: want 4 numbers, got %d", len(doc.Bounds))}
	}
	return st, nil
}

type badRequest struct{ error }

func (b badRequest) Unwrap() error { return b.error }

// status maps an error to the HTTP status a client should see.
func status(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, catalog.ErrUnknownTemplate),
		errors.Is(err, engine.ErrConfig),
		errors.Is(err, convert.ErrUnknownConversion),
		errors.Is(err, predicate.ErrUnknownPredicate),
		errors.Is(err, search.ErrDuplicateDataset):
		return http.StatusBadRequest
	case errors.Is(err, datasource.ErrLayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, search.ErrSuperseded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	code := status(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", "status", code, "err", err)
	} else {
		h.logger.DebugContext(ctx, "request rejected", "status", code, "err", err)
	}
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

const maxBody = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func uniqueLayers(layers []string) []string {
	out := make([]string, 0, len(layers))
	for _, l := range layers {
		if !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

// etagFor changes when the state or any loaded dataset changes.
func etagFor(fp string, datasets []*model.Dataset) string {
	ids := make([]string, len(datasets))
	for i, ds := range datasets {
		ids[i] = string(ds.ID)
	}
	sum := xxhash.Sum64String(fp + "|" + strings.Join(ids, ","))
	return `"` + strconv.FormatUint(sum, 16) + `"`
}
