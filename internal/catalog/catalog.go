// Package catalog serves filter templates by name.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/map-search/internal/convert"
	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/predicate"
)

var ErrUnknownTemplate = errors.New("unknown filter template")

type Lookup interface {
	Template(ctx context.Context, name string) (model.FilterTemplate, error)
	Templates(ctx context.Context) ([]model.FilterTemplate, error)
}

// Defaults are the templates the map browser ships with.
func Defaults() []model.FilterTemplate {
	return []model.FilterTemplate{
		{
			Name:                predicate.NameWordPrefix,
			ApplicableType:      model.TypeOf("text"),
			UIInputFormat:       "string",
			FunctionInputFormat: "string",
		},
		{
			Name:                predicate.NameDateRange,
			ApplicableType:      model.TypeOf(convert.TypeDate),
			UIInputFormat:       convert.FormatStringPair,
			FunctionInputFormat: convert.FormatNumberRange,
		},
		{
			Name:                predicate.NameExact,
			ApplicableType:      model.TypeOf("category"),
			UIInputFormat:       "string",
			FunctionInputFormat: "string",
		},
		{
			Name:                predicate.NameSubstring,
			ApplicableType:      model.TypeOf("text"),
			UIInputFormat:       "string",
			FunctionInputFormat: "string",
		},
		{
			Name:                predicate.NameKeyword,
			UIInputFormat:       "string",
			FunctionInputFormat: "string",
		},
	}
}

// Validate checks that t names a known predicate and that its input can be
// converted. Field conversions depend on the dataset and are checked when a
// filter is compiled.
func Validate(reg *convert.Registry, t model.FilterTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("template without a name")
	}
	if _, err := predicate.Lookup(t.Name); err != nil {
		return fmt.Errorf("template %s: %w", t.Name, err)
	}
	if t.UIInputFormat != t.FunctionInputFormat {
		if _, err := reg.Lookup(t.Type(), t.UIInputFormat); err != nil {
			return fmt.Errorf("template %s: %w", t.Name, err)
		}
	}
	return nil
}

// Static is an in-memory catalog.
type Static struct {
	byName map[string]model.FilterTemplate
	order  []string
}

func NewStatic(reg *convert.Registry, templates ...model.FilterTemplate) (*Static, error) {
	s := &Static{byName: make(map[string]model.FilterTemplate, len(templates))}
	for _, t := range templates {
		if reg != nil {
			if err := Validate(reg, t); err != nil {
				return nil, err
			}
		}
		if _, dup := s.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate template %q", t.Name)
		}
		s.byName[t.Name] = t
		s.order = append(s.order, t.Name)
	}
	return s, nil
}

type fileFormat struct {
	Templates []model.FilterTemplate `yaml:"templates"`
}

// ReadYAML parses a catalog of the form
//
//	templates:
//	  - name: keyword
//	    applicable-type: null
//	    ui-input-format: string
//	    function-input-format: string
func ReadYAML(reg *convert.Registry, r io.Reader) (*Static, error) {
	var f fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewStatic(reg, f.Templates...)
}

func LoadFile(reg *convert.Registry, path string) (*Static, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = fh.Close() }()
	return ReadYAML(reg, fh)
}

func (s *Static) Template(_ context.Context, name string) (model.FilterTemplate, error) {
	t, ok := s.byName[name]
	if !ok {
		return model.FilterTemplate{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return cloneTemplate(t), nil
}

func (s *Static) Templates(_ context.Context) ([]model.FilterTemplate, error) {
	out := make([]model.FilterTemplate, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, cloneTemplate(s.byName[n]))
	}
	return out, nil
}

func cloneTemplate(t model.FilterTemplate) model.FilterTemplate {
	if t.ApplicableType != nil {
		t.ApplicableType = model.TypeOf(*t.ApplicableType)
	}
	return t
}

func sortByName(ts []model.FilterTemplate) {
	slices.SortFunc(ts, func(a, b model.FilterTemplate) int { return strings.Compare(a.Name, b.Name) })
}
