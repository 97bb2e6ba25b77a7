package dispatch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mohammed-shakir/map-search/internal/convert"
	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/engine"
	"github.com/mohammed-shakir/map-search/internal/predicate"
)

// Request is what a worker receives. ActiveFilterValues is index-aligned
// with ActiveFilters.
type Request struct {
	DatasetID          string                 `msgpack:"dataset_id"`
	Fields             []model.Field          `msgpack:"fields"`
	Properties         []map[string]any       `msgpack:"properties"`
	ActiveFilters      []model.FilterTemplate `msgpack:"active_filters"`
	ActiveFilterValues []FilterValues         `msgpack:"active_filter_values"`
}

type FilterValues struct {
	Subtypes []string `msgpack:"subtypes"`
	Input    []string `msgpack:"input"`
}

type Kind uint8

const (
	KindLog Kind = iota + 1
	KindResult
	KindError
)

// error causes carried across the worker boundary
const (
	causeConfig     = "config"
	causeConversion = "conversion"
	causePredicate  = "predicate"
	causeFault      = "fault"
)

// Message is one worker reply. Log messages are diagnostic and never end
// the exchange; Result and Error are terminal.
type Message struct {
	Kind    Kind     `msgpack:"kind"`
	Log     string   `msgpack:"log,omitempty"`
	Indices []int    `msgpack:"indices,omitempty"`
	Err     string   `msgpack:"err,omitempty"`
	Causes  []string `msgpack:"causes,omitempty"`
}

func (m Message) Terminal() bool { return m.Kind == KindResult || m.Kind == KindError }

func newRequest(ds *model.Dataset, filters []model.FilterInstance) Request {
	feats := ds.Features()
	req := Request{
		DatasetID:          string(ds.ID),
		Fields:             ds.Fields,
		Properties:         make([]map[string]any, len(feats)),
		ActiveFilters:      make([]model.FilterTemplate, len(filters)),
		ActiveFilterValues: make([]FilterValues, len(filters)),
	}
	for i, f := range feats {
		if f != nil {
			req.Properties[i] = f.Properties
		}
	}
	for i, f := range filters {
		req.ActiveFilters[i] = f.Template
		req.ActiveFilterValues[i] = FilterValues{Subtypes: f.SelectedSubtypes(), Input: f.Values}
	}
	return req
}

// instances rebuilds filter instances on the worker side.
func (r Request) instances() ([]model.FilterInstance, error) {
	if len(r.ActiveFilters) != len(r.ActiveFilterValues) {
		return nil, fmt.Errorf("%d filters but %d value sets", len(r.ActiveFilters), len(r.ActiveFilterValues))
	}
	out := make([]model.FilterInstance, len(r.ActiveFilters))
	for i, t := range r.ActiveFilters {
		st := make(map[string]bool, len(r.ActiveFilterValues[i].Subtypes))
		for _, s := range r.ActiveFilterValues[i].Subtypes {
			st[s] = true
		}
		out[i] = model.FilterInstance{Template: t, Subtypes: st, Values: r.ActiveFilterValues[i].Input}
	}
	return out, nil
}

func encode(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}

func decode(b []byte, v any) error {
	if len(b) == 0 {
		return fmt.Errorf("empty message")
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

func errorMessage(err error) Message {
	m := Message{Kind: KindError, Err: err.Error()}
	if errors.Is(err, engine.ErrConfig) {
		m.Causes = append(m.Causes, causeConfig)
	}
	if errors.Is(err, convert.ErrUnknownConversion) {
		m.Causes = append(m.Causes, causeConversion)
	}
	if errors.Is(err, predicate.ErrUnknownPredicate) {
		m.Causes = append(m.Causes, causePredicate)
	}
	if len(m.Causes) == 0 {
		m.Causes = []string{causeFault}
	}
	return m
}

// remoteError is an error that crossed the worker boundary. It still
// matches the sentinels it was built from.
type remoteError struct {
	msg    string
	causes []string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Is(target error) bool {
	switch target {
	case engine.ErrConfig:
		return slices.Contains(e.causes, causeConfig)
	case convert.ErrUnknownConversion:
		return slices.Contains(e.causes, causeConversion)
	case predicate.ErrUnknownPredicate:
		return slices.Contains(e.causes, causePredicate)
	case ErrWorkerFault:
		return slices.Contains(e.causes, causeFault)
	}
	return false
}

func (m Message) asError() error {
	return &remoteError{msg: m.Err, causes: m.Causes}
}
