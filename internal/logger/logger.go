// Package logger builds the zerolog root logger and carries request-scoped
// fields through contexts so slog calls made with a context pick them up.
package logger

import (
	"context"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Component string
}

type field int

const (
	fieldRequestID field = iota
	fieldComponent
	fieldState
	fieldDataset
	fieldLayer
	numFields
)

// log keys, written in this order
var fieldNames = [numFields]string{
	fieldRequestID: "request_id",
	fieldComponent: "component",
	fieldState:     "state",
	fieldDataset:   "dataset",
	fieldLayer:     "layer",
}

type fields [numFields]string

type ctxKey struct{}

func with(ctx context.Context, f field, v string) context.Context {
	if v == "" {
		return ctx
	}
	cur, _ := ctx.Value(ctxKey{}).(fields)
	cur[f] = v
	return context.WithValue(ctx, ctxKey{}, cur)
}

// WithRequestID tags the context with reqID, or a fresh ID when empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return with(ctx, fieldRequestID, reqID)
}

func WithComponent(ctx context.Context, component string) context.Context {
	return with(ctx, fieldComponent, component)
}

// WithState tags log lines with the fingerprint of the search state being served.
func WithState(ctx context.Context, fingerprint string) context.Context {
	return with(ctx, fieldState, fingerprint)
}

// WithDataset tags log lines with the dataset being filtered and its layer.
func WithDataset(ctx context.Context, id, layer string) context.Context {
	return with(with(ctx, fieldDataset, id), fieldLayer, layer)
}

// NewID returns a sortable request ID.
func NewID() string {
	return ulid.Make().String()
}

func parseLevel(s string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// Build configures zerolog globally and returns the root logger.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "msg"
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out)
	if cfg.SampleN > 1 {
		base = base.Sample(&zerolog.BasicSampler{N: uint32(min(cfg.SampleN, math.MaxUint32))})
	}

	zc := base.With().Timestamp()
	if cfg.Component != "" {
		zc = zc.Str(fieldNames[fieldComponent], cfg.Component)
	}
	return zc.Logger()
}

// FromContext returns a child of parent carrying the context's fields. A nil
// parent discards output.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.New(io.Discard)
	if parent != nil {
		base = *parent
	}
	fs, ok := ctx.Value(ctxKey{}).(fields)
	if !ok {
		return &base
	}
	zc := base.With()
	for f, v := range fs {
		if v != "" {
			zc = zc.Str(fieldNames[f], v)
		}
	}
	l := zc.Logger()
	return &l
}
