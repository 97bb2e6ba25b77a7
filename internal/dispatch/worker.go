package dispatch

import (
	"fmt"

	"github.com/mohammed-shakir/map-search/internal/convert"
	"github.com/mohammed-shakir/map-search/internal/engine"
)

// worker runs one filter request in isolation. It only sees the encoded
// request and only answers with encoded messages; the conversion registry
// it compiles against holds code, not request state.
type worker func(reg *convert.Registry, payload []byte, out chan<- []byte)

func runWorker(reg *convert.Registry, payload []byte, out chan<- []byte) {
	defer close(out)

	send := func(m Message) {
		b, err := encode(m)
		if err != nil {
			// a message that cannot be encoded is a fault of the worker itself
			b, _ = encode(Message{Kind: KindError, Err: err.Error(), Causes: []string{causeFault}})
		}
		out <- b
	}

	defer func() {
		if rec := recover(); rec != nil {
			send(Message{Kind: KindError, Err: fmt.Sprintf("worker panic: %v", rec), Causes: []string{causeFault}})
		}
	}()

	var req Request
	if err := decode(payload, &req); err != nil {
		send(errorMessage(err))
		return
	}

	send(Message{Kind: KindLog, Log: fmt.Sprintf("filtering %d features of %s against %d filters",
		len(req.Properties), req.DatasetID, len(req.ActiveFilters))})

	filters, err := req.instances()
	if err != nil {
		send(errorMessage(err))
		return
	}
	plan, err := engine.Compile(reg, req.Fields, filters)
	if err != nil {
		send(errorMessage(err))
		return
	}
	send(Message{Kind: KindResult, Indices: plan.Indices(req.Properties)})
}
