// Package urlstate encodes the search state (filters, layers, viewport) into
// flat query parameters and back.
//
// Key grammar:
//
//	filter-<i>.template   template name
//	filter-<i>.subtypes   selected subtypes, one value per subtype
//	filter-<i>.value_<j>  j-th input value
//	layers                active layer names, in order
//	mapBounds             minLon,minLat,maxLon,maxLat
//
// Any other key is left alone by Decode.
package urlstate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/core/observability"
)

const (
	KeyLayers    = "layers"
	KeyMapBounds = "mapBounds"

	filterPrefix = "filter-"
	fieldTmpl    = "template"
	fieldSubs    = "subtypes"
	fieldValue   = "value_"

	// MaxValues bounds the value_<j> index a filter may carry.
	MaxValues = 64
)

// State is what gets written to the URL.
type State struct {
	Filters []model.FilterInstance
	Layers  []string
	Bounds  *model.Bounds
}

// FilterRef is a decoded filter whose template is still only a name.
type FilterRef struct {
	Template string   `json:"template"`
	Subtypes []string `json:"subtypes"`
	Values   []string `json:"values"`
}

type Decoded struct {
	Refs     []FilterRef   `json:"filters"`
	Layers   []string      `json:"layers"`
	Bounds   *model.Bounds `json:"-"`
	Warnings []string      `json:"warnings,omitempty"`
}

// TemplateLookup resolves a template name. Implemented by the catalog.
type TemplateLookup interface {
	Template(ctx context.Context, name string) (model.FilterTemplate, error)
}

func filterKey(i int, field string) string {
	return filterPrefix + strconv.Itoa(i) + "." + field
}

func Encode(s State) url.Values {
	q := url.Values{}
	for i, f := range s.Filters {
		q.Set(filterKey(i, fieldTmpl), f.Template.Name)
		if subs := f.SelectedSubtypes(); len(subs) > 0 {
			q[filterKey(i, fieldSubs)] = subs
		}
		for j, v := range f.Values {
			q.Set(filterKey(i, fieldValue+strconv.Itoa(j)), v)
		}
	}
	if len(s.Layers) > 0 {
		q[KeyLayers] = slices.Clone(s.Layers)
	}
	if s.Bounds != nil {
		q.Set(KeyMapBounds, FormatBounds(*s.Bounds))
	}
	return q
}

type partial struct {
	template    string
	hasTemplate bool
	subtypes    []string
	values      map[int]string
}

// Decode never fails: malformed parts are dropped and reported in Warnings.
func Decode(q url.Values) Decoded {
	var d Decoded
	parts := map[int]*partial{}

	for key, vals := range q {
		switch key {
		case KeyLayers:
			for _, l := range vals {
				if l = strings.TrimSpace(l); l != "" {
					d.Layers = append(d.Layers, l)
				}
			}
			continue
		case KeyMapBounds:
			if len(vals) == 0 {
				continue
			}
			b, err := ParseBounds(vals[0])
			if err != nil {
				d.Warnings = append(d.Warnings, fmt.Sprintf("mapBounds dropped: %v", err))
				continue
			}
			d.Bounds = &b
			continue
		}

		i, field, ok := splitFilterKey(key)
		if !ok {
			continue
		}
		p := parts[i]
		if p == nil {
			p = &partial{values: map[int]string{}}
			parts[i] = p
		}
		switch {
		case field == fieldTmpl:
			if len(vals) > 0 {
				p.template, p.hasTemplate = vals[0], true
			}
		case field == fieldSubs:
			p.subtypes = append(p.subtypes, vals...)
		case strings.HasPrefix(field, fieldValue):
			j, err := strconv.Atoi(strings.TrimPrefix(field, fieldValue))
			if err != nil || j < 0 || j >= MaxValues || len(vals) == 0 {
				d.Warnings = append(d.Warnings, fmt.Sprintf("%s ignored: bad value index", key))
				continue
			}
			p.values[j] = vals[0]
		}
	}

	idx := make([]int, 0, len(parts))
	for i := range parts {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	for _, i := range idx {
		p := parts[i]
		if !p.hasTemplate || p.template == "" {
			d.Warnings = append(d.Warnings, fmt.Sprintf("filter-%d dropped: no template", i))
			continue
		}
		ref := FilterRef{Template: p.template}
		if len(p.subtypes) > 0 {
			ref.Subtypes = slices.Compact(slices.Sorted(slices.Values(p.subtypes)))
		}
		if n := maxKey(p.values); n >= 0 {
			ref.Values = make([]string, n+1)
			for j, v := range p.values {
				ref.Values[j] = v
			}
		}
		d.Refs = append(d.Refs, ref)
	}
	return d
}

// Filters resolves every template name and builds the filter instances. An
// unknown template fails the whole call.
func (d Decoded) Filters(ctx context.Context, lookup TemplateLookup) ([]model.FilterInstance, error) {
	out := make([]model.FilterInstance, 0, len(d.Refs))
	for i, ref := range d.Refs {
		t, err := lookup.Template(ctx, ref.Template)
		if err != nil {
			observability.IncStateDecode("error")
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		subs := make(map[string]bool, len(ref.Subtypes))
		for _, s := range ref.Subtypes {
			subs[s] = true
		}
		out = append(out, model.FilterInstance{
			Template: t,
			Subtypes: subs,
			Values:   slices.Clone(ref.Values),
		})
	}
	observability.IncStateDecode("ok")
	return out, nil
}

// Values re-encodes the decoded state, leaving out anything Decode dropped
// or ignored. Equal states give equal Values.
func (d Decoded) Values() url.Values {
	q := url.Values{}
	for i, ref := range d.Refs {
		q.Set(filterKey(i, fieldTmpl), ref.Template)
		if len(ref.Subtypes) > 0 {
			q[filterKey(i, fieldSubs)] = slices.Clone(ref.Subtypes)
		}
		for j, v := range ref.Values {
			q.Set(filterKey(i, fieldValue+strconv.Itoa(j)), v)
		}
	}
	if len(d.Layers) > 0 {
		q[KeyLayers] = slices.Clone(d.Layers)
	}
	if d.Bounds != nil {
		q.Set(KeyMapBounds, FormatBounds(*d.Bounds))
	}
	return q
}

// splitFilterKey parses "filter-<i>.<field>".
func splitFilterKey(key string) (int, string, bool) {
	rest, ok := strings.CutPrefix(key, filterPrefix)
	if !ok {
		return 0, "", false
	}
	num, field, ok := strings.Cut(rest, ".")
	if !ok || field == "" {
		return 0, "", false
	}
	i, err := strconv.Atoi(num)
	if err != nil || i < 0 {
		return 0, "", false
	}
	return i, field, true
}

func maxKey(m map[int]string) int {
	n := -1
	for k := range m {
		n = max(n, k)
	}
	return n
}

func FormatBounds(b orb.Bound) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(b.Min.Lon()) + "," + f(b.Min.Lat()) + "," + f(b.Max.Lon()) + "," + f(b.Max.Lat())
}

// ParseBounds accepts any finite min<=max box. Longitudes past the
// antimeridian are kept as given.
func ParseBounds(s string) (orb.Bound, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return orb.Bound{}, fmt.Errorf("want 4 numbers, got %d", len(fields))
	}
	var n [4]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return orb.Bound{}, fmt.Errorf("bad number %q", f)
		}
		n[i] = v
	}
	if n[0] > n[2] || n[1] > n[3] {
		return orb.Bound{}, errors.New("min exceeds max")
	}
	return orb.Bound{Min: orb.Point{n[0], n[1]}, Max: orb.Point{n[2], n[3]}}, nil
}

// Fingerprint identifies a state independent of key order.
func Fingerprint(q url.Values) string {
	return strconv.FormatUint(xxhash.Sum64String(q.Encode()), 16)
}
