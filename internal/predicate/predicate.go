// Package predicate holds the filter functions. Each predicate compares a
// canonical field value against a canonical input value.
package predicate

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/mohammed-shakir/map-search/internal/convert"
)

const (
	NameWordPrefix = "matching-case-insensitive-word-prefix"
	NameDateRange  = "overlapping-date-range"
	NameExact      = "matching-type"
	NameSubstring  = "matching-case-insensitive-substring"
	NameKeyword    = "keyword"
)

var ErrUnknownPredicate = errors.New("unknown predicate")

// Matcher tests one field value against an input already bound to it.
type Matcher func(field convert.Value) bool

type Predicate interface {
	Name() string
	// Bind prepares the input once per filter.
	Bind(input convert.Value) Matcher
}

// Test is the unbound form, mostly useful in tests and one-off checks.
func Test(p Predicate, field, input convert.Value) bool {
	return p.Bind(input)(field)
}

var byName = map[string]Predicate{
	NameWordPrefix: wordPrefix{},
	NameDateRange:  rangeOverlap{},
	NameExact:      exact{},
	NameSubstring:  substring{name: NameSubstring},
	NameKeyword:    substring{name: NameKeyword},
}

func Lookup(name string) (Predicate, error) {
	p, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPredicate, name)
	}
	return p, nil
}

// Names lists the known predicates in sorted order.
func Names() []string {
	out := make([]string, 0, len(byName))
	for n := range byName {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

type wordPrefix struct{}

func (wordPrefix) Name() string { return NameWordPrefix }

func (wordPrefix) Bind(input convert.Value) Matcher {
	in := strings.ToLower(input.Str())
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(in))
	if err != nil {
		return never
	}
	return func(field convert.Value) bool {
		return re.MatchString(strings.ToLower(field.Str()))
	}
}

// closed intervals; a NaN input lower bound never matches
type rangeOverlap struct{}

func (rangeOverlap) Name() string { return NameDateRange }

func (rangeOverlap) Bind(input convert.Value) Matcher {
	inLo, inHi := input.AsRange()
	if math.IsNaN(inLo) {
		return never
	}
	return func(field convert.Value) bool {
		lo, hi := field.AsRange()
		if inLo > hi || inHi < lo {
			return false
		}
		// comparisons with NaN are false above, so reject them explicitly
		return !math.IsNaN(lo) && !math.IsNaN(hi) && !math.IsNaN(inHi)
	}
}

type exact struct{}

func (exact) Name() string { return NameExact }

func (exact) Bind(input convert.Value) Matcher {
	in := input.Str()
	return func(field convert.Value) bool {
		return field.Kind == convert.KindText && field.Str() == in
	}
}

// substring also backs the keyword filter
type substring struct {
	name string
}

func (s substring) Name() string { return s.name }

func (substring) Bind(input convert.Value) Matcher {
	in := strings.ToLower(input.Str())
	return func(field convert.Value) bool {
		return strings.Contains(strings.ToLower(field.Str()), in)
	}
}

func never(convert.Value) bool { return false }
