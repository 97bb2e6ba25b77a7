// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/oklog/ulid/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DatasetID identifies an active dataset for as long as it stays in a search.
type DatasetID string

func NewDatasetID() DatasetID {
	return DatasetID(ulid.Make().String())
}

type Field struct {
	Name    string `json:"name" yaml:"name" msgpack:"name"`
	Type    string `json:"type" yaml:"type" msgpack:"type"`
	Subtype string `json:"subtype" yaml:"subtype" msgpack:"subtype"`
	Format  string `json:"format" yaml:"format" msgpack:"format"`
}

type Dataset struct {
	ID     DatasetID                  `json:"id,omitempty"`
	Layer  string                     `json:"layer,omitempty"`
	Fields []Field                    `json:"fields"`
	Data   *geojson.FeatureCollection `json:"data"`
}

// Features returns the dataset's features, or nil when it carries no data.
func (d *Dataset) Features() []*geojson.Feature {
	if d == nil || d.Data == nil {
		return nil
	}
	return d.Data.Features
}

// ReadDataset parses a {"fields": [...], "data": FeatureCollection} document.
func ReadDataset(r io.Reader) (*Dataset, error) {
	var raw struct {
		Fields []Field          `json:"fields"`
		Data   *json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	ds := &Dataset{Fields: raw.Fields}
	if raw.Data == nil {
		ds.Data = geojson.NewFeatureCollection()
		return ds, nil
	}
	fc, err := geojson.UnmarshalFeatureCollection(*raw.Data)
	if err != nil {
		return nil, fmt.Errorf(`decode dataset "data": %w`, err)
	}
	ds.Data = fc
	return ds, nil
}

// FilterTemplate is the static definition of a filter. A nil ApplicableType
// means the filter runs against every field of a dataset.
type FilterTemplate struct {
	Name                string  `json:"name" yaml:"name" msgpack:"name"`
	ApplicableType      *string `json:"applicable-type" yaml:"applicable-type" msgpack:"applicable_type"`
	UIInputFormat       string  `json:"ui-input-format" yaml:"ui-input-format" msgpack:"ui_input_format"`
	FunctionInputFormat string  `json:"function-input-format" yaml:"function-input-format" msgpack:"function_input_format"`
}

func (t FilterTemplate) AppliesToAll() bool { return t.ApplicableType == nil }

// Type returns the applicable type, or "" for templates that apply to every field.
func (t FilterTemplate) Type() string {
	if t.ApplicableType == nil {
		return ""
	}
	return *t.ApplicableType
}

// TypeOf is a small helper for building templates in code.
func TypeOf(s string) *string { return &s }

type FilterInstance struct {
	Template FilterTemplate
	Subtypes map[string]bool
	Values   []string
}

// SelectedSubtypes returns the enabled subtypes in sorted order.
func (f FilterInstance) SelectedSubtypes() []string {
	out := make([]string, 0, len(f.Subtypes))
	for s, on := range f.Subtypes {
		if on {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

func (f FilterInstance) Clone() FilterInstance {
	c := FilterInstance{
		Template: f.Template,
		Subtypes: maps.Clone(f.Subtypes),
		Values:   slices.Clone(f.Values),
	}
	if f.Template.ApplicableType != nil {
		c.Template.ApplicableType = TypeOf(*f.Template.ApplicableType)
	}
	return c
}

// Bounds is the map viewport.
type Bounds = orb.Bound
