// Package convert turns raw field and input values into canonical values
// that predicates can compare.
package convert

import (
	"math"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindText Kind = iota + 1
	KindRange
)

// Value is a canonical value: either an ordered list of text scalars or a
// closed numeric range.
type Value struct {
	Kind  Kind
	Texts []string
	Lo    float64
	Hi    float64
}

func Text(s ...string) Value {
	return Value{Kind: KindText, Texts: s}
}

func Range(lo, hi float64) Value {
	return Value{Kind: KindRange, Lo: lo, Hi: hi}
}

// Str returns the first text scalar, or "" for ranges and empty lists.
func (v Value) Str() string {
	if v.Kind != KindText || len(v.Texts) == 0 {
		return ""
	}
	return v.Texts[0]
}

// AsRange returns the value as [lo, hi]. Text values are coerced element-wise;
// anything that cannot be coerced comes back as NaN.
func (v Value) AsRange() (lo, hi float64) {
	switch v.Kind {
	case KindRange:
		return v.Lo, v.Hi
	case KindText:
		lo, hi = math.NaN(), math.NaN()
		if len(v.Texts) > 0 {
			lo = number(v.Texts[0])
		}
		if len(v.Texts) > 1 {
			hi = number(v.Texts[1])
		}
		return lo, hi
	default:
		return math.NaN(), math.NaN()
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindRange:
		return "[" + strconv.FormatFloat(v.Lo, 'f', -1, 64) + "," + strconv.FormatFloat(v.Hi, 'f', -1, 64) + "]"
	case KindText:
		return strings.Join(v.Texts, ",")
	default:
		return "<none>"
	}
}

// blank input is NaN rather than zero
func number(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
