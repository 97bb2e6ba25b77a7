// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Readiness runs every check with a shared timeout; the service is ready
// only when all of them pass.
func Readiness(timeout time.Duration, checks map[string]Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	slices.Sort(names)

	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Failed map[string]string `json:"failed,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		out := resp{Status: "ready"}
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				if out.Failed == nil {
					out.Failed = map[string]string{}
				}
				out.Failed[n] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(out.Failed) > 0 {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
