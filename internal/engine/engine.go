// Package engine decides which features of a dataset survive a list of
// filters. A feature is kept when every filter is satisfied by at least one
// of the fields it applies to.
package engine

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/map-search/internal/convert"
	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/predicate"
)

// ErrConfig marks a filter setup that can never evaluate, such as a missing
// conversion or predicate. It aborts the whole evaluation.
var ErrConfig = errors.New("filter configuration error")

type Plan struct {
	filters []filterPlan
}

type filterPlan struct {
	name  string
	match predicate.Matcher
	// false when the input converted to "no match"; the filter then rejects everything
	satisfiable bool
	fields      []fieldPlan
}

type fieldPlan struct {
	name string
	conv *convert.Converter // nil when the field is already in function-input format
}

// Compile resolves every predicate and conversion the filters need against
// the given schema. Nothing is evaluated until all of them resolve.
func Compile(reg *convert.Registry, fields []model.Field, filters []model.FilterInstance) (*Plan, error) {
	p := &Plan{filters: make([]filterPlan, 0, len(filters))}
	for i, f := range filters {
		fp, err := compileFilter(reg, fields, f)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %d (%s): %w", ErrConfig, i, f.Template.Name, err)
		}
		p.filters = append(p.filters, fp)
	}
	return p, nil
}

func compileFilter(reg *convert.Registry, fields []model.Field, f model.FilterInstance) (filterPlan, error) {
	tmpl := f.Template
	pred, err := predicate.Lookup(tmpl.Name)
	if err != nil {
		return filterPlan{}, err
	}

	input := convert.Text(f.Values...)
	satisfiable := true
	if tmpl.UIInputFormat != tmpl.FunctionInputFormat {
		c, err := reg.Lookup(tmpl.Type(), tmpl.UIInputFormat)
		if err != nil {
			return filterPlan{}, fmt.Errorf("input: %w", err)
		}
		input, satisfiable = c.Convert(f.Values)
	}

	fp := filterPlan{name: tmpl.Name, satisfiable: satisfiable}
	if satisfiable {
		fp.match = pred.Bind(input)
	}

	for _, field := range applicableFields(tmpl, f.Subtypes, fields) {
		pl := fieldPlan{name: field.Name}
		if !tmpl.AppliesToAll() && field.Format != tmpl.FunctionInputFormat {
			c, err := reg.Lookup(tmpl.Type(), field.Format)
			if err != nil {
				return filterPlan{}, fmt.Errorf("field %q: %w", field.Name, err)
			}
			pl.conv = c
		}
		fp.fields = append(fp.fields, pl)
	}
	return fp, nil
}

func applicableFields(tmpl model.FilterTemplate, subtypes map[string]bool, fields []model.Field) []model.Field {
	if tmpl.AppliesToAll() {
		return fields
	}
	out := make([]model.Field, 0, len(fields))
	for _, f := range fields {
		if f.Type == *tmpl.ApplicableType && subtypes[f.Subtype] {
			out = append(out, f)
		}
	}
	return out
}

// Len is the number of compiled filters.
func (p *Plan) Len() int { return len(p.filters) }

// Keep reports whether a feature with these properties passes every filter.
func (p *Plan) Keep(props map[string]any) bool {
	for i := range p.filters {
		if !p.filters[i].satisfied(props) {
			return false
		}
	}
	return true
}

func (fp *filterPlan) satisfied(props map[string]any) bool {
	if !fp.satisfiable {
		return false
	}
	for _, field := range fp.fields {
		raw, ok := text(props[field.name])
		if !ok {
			continue
		}
		v := convert.Text(raw)
		if field.conv != nil {
			if v, ok = field.conv.Convert([]string{raw}); !ok {
				continue
			}
		}
		if fp.match(v) {
			return true
		}
	}
	return false
}

// Indices returns the positions of the kept entries, in order.
func (p *Plan) Indices(props []map[string]any) []int {
	out := make([]int, 0, len(props))
	for i, pr := range props {
		if p.Keep(pr) {
			out = append(out, i)
		}
	}
	return out
}

// Evaluate filters a dataset's features. An empty filter list returns the
// features unchanged.
func Evaluate(reg *convert.Registry, ds *model.Dataset, filters []model.FilterInstance) ([]*geojson.Feature, error) {
	features := ds.Features()
	if len(filters) == 0 {
		return features, nil
	}
	plan, err := Compile(reg, ds.Fields, filters)
	if err != nil {
		return nil, err
	}
	out := make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		if f != nil && plan.Keep(f.Properties) {
			out = append(out, f)
		}
	}
	return out, nil
}

// text normalises a raw property value. Empty strings, zero, false and nil
// are treated as missing.
func text(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		return "true", t
	case float64:
		if t == 0 || math.IsNaN(t) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return text(float64(t))
	case int:
		return text(float64(t))
	case int8:
		return text(float64(t))
	case int16:
		return text(float64(t))
	case int32:
		return text(float64(t))
	case int64:
		if t == 0 {
			return "", false
		}
		return strconv.FormatInt(t, 10), true
	case uint8:
		return text(float64(t))
	case uint16:
		return text(float64(t))
	case uint32:
		return text(float64(t))
	case uint64:
		if t == 0 {
			return "", false
		}
		return strconv.FormatUint(t, 10), true
	default:
		return fmt.Sprint(t), true
	}
}
