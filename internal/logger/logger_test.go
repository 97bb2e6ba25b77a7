package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSlogBridge_CarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "search"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithDataset(ctx, "01HX", "churches")
	ctx = WithState(ctx, "abc123")
	log.InfoContext(ctx, "filtered", "kept", 3, "took", 2*time.Millisecond, "err", errors.New("x"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	want := map[string]any{
		"level": "info", "msg": "filtered", "component": "search",
		"request_id": "req-1", "dataset": "01HX", "layer": "churches", "state": "abc123", "err": "x",
	}
	for k, v := range want {
		if line[k] != v {
			t.Fatalf("%s=%v want %v (line %v)", k, line[k], v, line)
		}
	}
	if line["kept"] != float64(3) {
		t.Fatalf("kept=%v", line["kept"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatal("missing timestamp")
	}
}

func TestSlogBridge_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)
	t.Cleanup(func() { Build(Config{Level: "info"}, &bytes.Buffer{}) })

	if log.Enabled(context.Background(), -4) {
		t.Fatal("debug should be disabled at warn level")
	}
	log.Info("dropped")
	log.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestWithHelpers_IgnoreEmpty(t *testing.T) {
	ctx := context.Background()
	if WithDataset(ctx, "", "") != ctx || WithState(ctx, "") != ctx || WithComponent(ctx, "") != ctx {
		t.Fatal("empty values must not wrap the context")
	}
	fs, _ := WithRequestID(ctx, "").Value(ctxKey{}).(fields)
	if id := fs[fieldRequestID]; len(id) != 26 {
		t.Fatalf("generated id %q", id)
	}
}

func TestWithDataset_DoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl)

	parent := WithState(context.Background(), "fp")
	child := WithDataset(parent, "01HY", "forum")
	log.InfoContext(parent, "parent")
	log.InfoContext(child, "child")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%q", lines)
	}
	var p, c map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &p); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &c); err != nil {
		t.Fatal(err)
	}
	if _, ok := p["dataset"]; ok || p["state"] != "fp" {
		t.Fatalf("parent line %v", p)
	}
	if c["dataset"] != "01HY" || c["layer"] != "forum" || c["state"] != "fp" {
		t.Fatalf("child line %v", c)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"": "info", "DEBUG": "debug", " warn ": "warn", "loud": "info", "error": "error"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q)=%s want %s", in, got, want)
		}
	}
}
