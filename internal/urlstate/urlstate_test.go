package urlstate

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-search/internal/core/model"
)

var errUnknown = errors.New("unknown template")

type lookupMap map[string]model.FilterTemplate

func (m lookupMap) Template(_ context.Context, name string) (model.FilterTemplate, error) {
	t, ok := m[name]
	if !ok {
		return model.FilterTemplate{}, errUnknown
	}
	return t, nil
}

var templates = lookupMap{
	"name": {
		Name: "matching-case-insensitive-word-prefix", ApplicableType: model.TypeOf("text"),
		UIInputFormat: "string", FunctionInputFormat: "string",
	},
	"date": {
		Name: "overlapping-date-range", ApplicableType: model.TypeOf("date"),
		UIInputFormat: "string, string", FunctionInputFormat: "number-range",
	},
	"keyword": {
		Name: "keyword", UIInputFormat: "string", FunctionInputFormat: "string",
	},
}

// the catalog keys templates by their own name
func byName() lookupMap {
	out := lookupMap{}
	for _, t := range templates {
		out[t.Name] = t
	}
	return out
}

func instance(key string, subs []string, values ...string) model.FilterInstance {
	m := map[string]bool{}
	for _, s := range subs {
		m[s] = true
	}
	return model.FilterInstance{Template: templates[key], Subtypes: m, Values: values}
}

// viaJSON pushes query values through the flat JSON form, which collapses
// single values to scalars.
func viaJSON(t *testing.T, q url.Values) url.Values {
	t.Helper()
	b, err := json.Marshal(Flatten(q))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := Unflatten(m)
	if err != nil {
		t.Fatalf("Unflatten: %v", err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	bounds := orb.Bound{Min: orb.Point{12.45, 41.87}, Max: orb.Point{12.52, 41.91}}
	cases := []struct {
		name  string
		state State
	}{
		{"single layer and subtype", State{
			Filters: []model.FilterInstance{instance("name", []string{"name"}, "mar")},
			Layers:  []string{"churches"},
			Bounds:  &bounds,
		}},
		{"multiple layers and subtypes", State{
			Filters: []model.FilterInstance{
				instance("name", []string{"alt", "name"}, "santa"),
				instance("date", []string{"built", "restored"}, "-509", "323"),
				instance("keyword", nil, "civ"),
			},
			Layers: []string{"churches", "forum", "aqueducts"},
			Bounds: &bounds,
		}},
		{"empty", State{}},
	}
	for _, tc := range cases {
		for _, transport := range []string{"query", "json"} {
			t.Run(tc.name+"/"+transport, func(t *testing.T) {
				q := Encode(tc.state)
				switch transport {
				case "query":
					var err error
					if q, err = url.ParseQuery(q.Encode()); err != nil {
						t.Fatalf("ParseQuery: %v", err)
					}
				case "json":
					q = viaJSON(t, q)
				}
				d := Decode(q)
				if len(d.Warnings) != 0 {
					t.Fatalf("warnings: %v", d.Warnings)
				}
				filters, err := d.Filters(context.Background(), byName())
				if err != nil {
					t.Fatalf("Filters: %v", err)
				}
				if len(filters) != len(tc.state.Filters) {
					t.Fatalf("got %d filters want %d", len(filters), len(tc.state.Filters))
				}
				for i := range filters {
					if !reflect.DeepEqual(filters[i], tc.state.Filters[i]) {
						t.Fatalf("filter %d: got %+v want %+v", i, filters[i], tc.state.Filters[i])
					}
				}
				if !slices.Equal(d.Layers, tc.state.Layers) {
					t.Fatalf("layers=%v want %v", d.Layers, tc.state.Layers)
				}
				if !reflect.DeepEqual(d.Bounds, tc.state.Bounds) {
					t.Fatalf("bounds=%v want %v", d.Bounds, tc.state.Bounds)
				}
			})
		}
	}
}

func TestDecode_ScalarAndArrayAgree(t *testing.T) {
	scalar, err := Unflatten(map[string]any{
		"filter-0.template": "keyword",
		"filter-0.subtypes": "name",
		"filter-0.value_0":  "civ",
		"layers":            "forum",
	})
	if err != nil {
		t.Fatalf("Unflatten: %v", err)
	}
	array, err := Unflatten(map[string]any{
		"filter-0.template": "keyword",
		"filter-0.subtypes": []any{"name"},
		"filter-0.value_0":  "civ",
		"layers":            []any{"forum"},
	})
	if err != nil {
		t.Fatalf("Unflatten: %v", err)
	}
	if a, b := Decode(scalar), Decode(array); !reflect.DeepEqual(a, b) {
		t.Fatalf("scalar %+v != array %+v", a, b)
	}
}

func TestDecode_IgnoresReservedKeysAndCompactsIndices(t *testing.T) {
	q := url.Values{
		"filter-3.template":   {"keyword"},
		"filter-3.value_1":    {"b"},
		"filter-3.value_0":    {"a"},
		"filter-3.colour":     {"red"},
		"filter-1.template":   {"matching-type"},
		"filter-1.value_0":    {"church"},
		"basemap":             {"satellite"},
		"filter-x.template":   {"nope"},
		"filter-7.value_zero": {"?"},
	}
	d := Decode(q)
	if len(d.Refs) != 2 {
		t.Fatalf("refs=%+v", d.Refs)
	}
	if d.Refs[0].Template != "matching-type" || d.Refs[1].Template != "keyword" {
		t.Fatalf("order by index not kept: %+v", d.Refs)
	}
	if !slices.Equal(d.Refs[1].Values, []string{"a", "b"}) {
		t.Fatalf("values=%v", d.Refs[1].Values)
	}
	// filter-7 has a bad value index and no template
	if len(d.Warnings) != 2 {
		t.Fatalf("warnings=%v", d.Warnings)
	}
}

func TestDecode_BadBoundsDropped(t *testing.T) {
	for _, raw := range []string{"1,2,3", "a,b,c,d", "10,0,5,1", "NaN,0,1,1", "0,0,Inf,1"} {
		d := Decode(url.Values{KeyMapBounds: {raw}, KeyLayers: {"forum"}})
		if d.Bounds != nil {
			t.Fatalf("%q: expected bounds to be dropped, got %v", raw, d.Bounds)
		}
		if len(d.Warnings) != 1 {
			t.Fatalf("%q: warnings=%v", raw, d.Warnings)
		}
		if !slices.Equal(d.Layers, []string{"forum"}) {
			t.Fatalf("%q: layers lost: %v", raw, d.Layers)
		}
	}
}

func TestFilters_UnknownTemplateFails(t *testing.T) {
	d := Decode(url.Values{"filter-0.template": {"soundex"}})
	if _, err := d.Filters(context.Background(), byName()); !errors.Is(err, errUnknown) {
		t.Fatalf("err=%v want unknown template", err)
	}
}

func TestFingerprint_StableAcrossKeyOrder(t *testing.T) {
	a := url.Values{"layers": {"a", "b"}, "filter-0.template": {"keyword"}}
	b := url.Values{"filter-0.template": {"keyword"}, "layers": {"a", "b"}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("fingerprint depends on key order")
	}
	c := url.Values{"layers": {"b", "a"}, "filter-0.template": {"keyword"}}
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatal("layer order must change the fingerprint")
	}
}

func TestUnflatten_RejectsNestedObjects(t *testing.T) {
	if _, err := Unflatten(map[string]any{"layers": map[string]any{"a": 1}}); err == nil {
		t.Fatal("expected an error")
	}
	q, err := Unflatten(map[string]any{"filter-0.value_0": float64(300)})
	if err != nil || q.Get("filter-0.value_0") != "300" {
		t.Fatalf("q=%v err=%v", q, err)
	}
}

func TestDecodedValues_IsCanonical(t *testing.T) {
	a := Decode(url.Values{
		"filter-4.template": {"keyword"},
		"filter-4.value_0":  {"civ"},
		"layers":            {"forum"},
		"utm_source":        {"newsletter"},
	})
	b := Decode(url.Values{
		"filter-0.template": {"keyword"},
		"filter-0.value_0":  {"civ"},
		"layers":            {"forum"},
	})
	if Fingerprint(a.Values()) != Fingerprint(b.Values()) {
		t.Fatalf("%v != %v", a.Values(), b.Values())
	}
	if got := Decode(a.Values()); !reflect.DeepEqual(got, a) {
		t.Fatalf("re-decoding changed the state: %+v vs %+v", got, a)
	}
}

func TestDecode_BoundsPastAntimeridianRoundTrip(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-200, 41.8}, Max: orb.Point{-170, 42}}
	q, err := url.ParseQuery(Encode(State{Bounds: &b}).Encode())
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	d := Decode(q)
	if len(d.Warnings) != 0 || d.Bounds == nil || *d.Bounds != b {
		t.Fatalf("bounds=%v warnings=%v", d.Bounds, d.Warnings)
	}
}

func TestDecode_HugeValueIndexIsDropped(t *testing.T) {
	q := url.Values{
		"filter-0.template":                  {"keyword"},
		"filter-0.value_0":                   {"civ"},
		"filter-0.value_9223372036854775807": {"x"},
		"filter-0.value_300000000":           {"y"},
	}
	q.Set("filter-0.value_"+strconv.Itoa(MaxValues), "z")
	d := Decode(q)
	if len(d.Refs) != 1 || !slices.Equal(d.Refs[0].Values, []string{"civ"}) {
		t.Fatalf("refs=%+v", d.Refs)
	}
	if len(d.Warnings) != 3 {
		t.Fatalf("warnings=%v", d.Warnings)
	}
}
