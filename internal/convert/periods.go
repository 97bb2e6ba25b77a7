package convert

import "strings"

const (
	firstYear = -2000
	lastYear  = 2015
)

// named historical periods of the city, in years (negative is BCE)
var periods = map[string][2]float64{
	"Kingdom":           {-1000, -508},
	"Republic":          {-509, -26},
	"Empire":            {-27, 323},
	"Early Medieval":    {324, 599},
	"Medieval":          {600, 1419},
	"Early Modern":      {1420, 1797},
	"Modern":            {1798, 2015},
	"Early Christian":   {700, 1420},
	"Early Renaissance": {1421, 1500},
	"High Renaissance":  {1501, 1527},
	"Late Renaissance":  {1528, 1600},
	"Baroque":           {1601, 1700},
	"Late Baroque":      {1701, 1750},
	"Neoclassical":      {1751, 1850},
	"Roma Capitale":     {1870, 1922},
	"Fascism":           {1923, 1945},
	"Post-WWII":         {1946, 2015},
}

// Period returns the year range of a named period.
func Period(name string) (lo, hi float64, ok bool) {
	p, ok := periods[strings.TrimSpace(name)]
	return p[0], p[1], ok
}

// periodRange converts "Republic/Empire" style lists to the widest span of
// the recognised tokens. Unknown tokens are ignored.
func periodRange(raw []string) (Value, bool) {
	if len(raw) == 0 {
		return Value{}, false
	}
	tokens := strings.Split(raw[0], "/")
	if len(tokens) == 1 {
		lo, hi, ok := Period(tokens[0])
		if !ok {
			return Value{}, false
		}
		return Range(lo, hi), true
	}

	lo, hi := float64(lastYear), float64(firstYear)
	for _, tok := range tokens {
		plo, phi, ok := Period(tok)
		if !ok {
			continue
		}
		if plo < lo {
			lo = plo
		}
		if phi > hi {
			hi = phi
		}
	}
	if lo >= hi {
		return Value{}, false
	}
	return Range(lo, hi), true
}

// numericPair coerces a two-element input to a range.
func numericPair(raw []string) (Value, bool) {
	return Range(Text(raw...).AsRange()), true
}
