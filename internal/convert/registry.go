package convert

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Format names understood by the built-in conversions.
const (
	TypeDate = "date"

	FormatPeriodSlashDelim = "text-period-slash-delim"
	FormatStringPair       = "string, string"
	FormatNumberRange      = "number-range"
)

var ErrUnknownConversion = errors.New("unknown conversion")

// Func converts a raw value sequence. ok=false means the value can never
// satisfy a filter; it is not an error.
type Func func(raw []string) (v Value, ok bool)

type Key struct {
	Type   string
	Format string
}

type Option func(*Registry)

// WithMemo caches field conversions in an LRU of the given size.
func WithMemo(size int) Option {
	return func(r *Registry) {
		if size <= 0 {
			return
		}
		c, err := lru.New[string, memoEntry](size)
		if err == nil {
			r.memo = c
		}
	}
}

type memoEntry struct {
	v  Value
	ok bool
}

// Registry maps (type, source format) to a conversion into the type's
// function-input format. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[Key]Func
	memo  *lru.Cache[string, memoEntry]
}

// NewRegistry returns a registry holding the built-in conversions.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{funcs: map[Key]Func{}}
	r.Register(TypeDate, FormatPeriodSlashDelim, periodRange)
	r.Register(TypeDate, FormatStringPair, numericPair)
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Register(typ, format string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[Key{Type: typ, Format: format}] = fn
}

// Has reports whether a conversion is registered.
func (r *Registry) Has(typ, format string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[Key{Type: typ, Format: format}]
	return ok
}

func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, 0, len(r.funcs))
	for k := range r.funcs {
		out = append(out, k)
	}
	return out
}

// Lookup resolves a conversion once so callers can apply it per value
// without touching the registry again.
func (r *Registry) Lookup(typ, format string) (*Converter, error) {
	r.mu.RLock()
	fn, ok := r.funcs[Key{Type: typ, Format: format}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: type %q from format %q", ErrUnknownConversion, typ, format)
	}
	return &Converter{key: Key{Type: typ, Format: format}, fn: fn, memo: r.memo}, nil
}

// Convert is the one-shot form of Lookup + Converter.Convert.
func (r *Registry) Convert(typ, format string, raw []string) (Value, bool, error) {
	c, err := r.Lookup(typ, format)
	if err != nil {
		return Value{}, false, err
	}
	v, ok := c.Convert(raw)
	return v, ok, nil
}

type Converter struct {
	key  Key
	fn   Func
	memo *lru.Cache[string, memoEntry]
}

func (c *Converter) Key() Key { return c.key }

func (c *Converter) Convert(raw []string) (Value, bool) {
	// only single values are memoised; those are field values and repeat a lot
	if c.memo == nil || len(raw) != 1 {
		return c.fn(raw)
	}
	mk := memoKey(c.key, raw[0])
	if e, ok := c.memo.Get(mk); ok {
		return e.v, e.ok
	}
	v, ok := c.fn(raw)
	c.memo.Add(mk, memoEntry{v: v, ok: ok})
	return v, ok
}

func memoKey(k Key, raw string) string {
	var b strings.Builder
	b.Grow(len(k.Type) + len(k.Format) + len(raw) + 2)
	b.WriteString(k.Type)
	b.WriteByte(0)
	b.WriteString(k.Format)
	b.WriteByte(0)
	b.WriteString(raw)
	return b.String()
}
