package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	cases := []struct {
		name   string
		checks map[string]Check
		code   int
		failed []string
	}{
		{"no checks", nil, http.StatusOK, nil},
		{"all pass", map[string]Check{"catalog": ok, "data": ok}, http.StatusOK, nil},
		{"one down", map[string]Check{"catalog": down, "data": ok}, http.StatusServiceUnavailable, []string{"catalog"}},
		{"timeout", map[string]Check{"catalog": slow}, http.StatusServiceUnavailable, []string{"catalog"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Readiness(20*time.Millisecond, tc.checks)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.code {
				t.Fatalf("status=%d want %d", rr.Code, tc.code)
			}
			var body struct {
				Status string            `json:"status"`
				Failed map[string]string `json:"failed"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Failed) != len(tc.failed) {
				t.Fatalf("failed=%v want %v", body.Failed, tc.failed)
			}
			for _, n := range tc.failed {
				if _, ok := body.Failed[n]; !ok {
					t.Fatalf("missing failed check %q in %v", n, body.Failed)
				}
			}
		})
	}
}
