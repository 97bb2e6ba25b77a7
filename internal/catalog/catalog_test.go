package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/map-search/internal/convert"
	"github.com/mohammed-shakir/map-search/internal/core/model"
	"github.com/mohammed-shakir/map-search/internal/predicate"
)

func TestDefaults_AreValid(t *testing.T) {
	reg := convert.NewRegistry()
	s, err := NewStatic(reg, Defaults()...)
	if err != nil {
		t.Fatalf("NewStatic(Defaults): %v", err)
	}
	ts, _ := s.Templates(context.Background())
	if len(ts) != len(Defaults()) {
		t.Fatalf("got %d templates", len(ts))
	}
	kw, err := s.Template(context.Background(), predicate.NameKeyword)
	if err != nil || !kw.AppliesToAll() {
		t.Fatalf("keyword template=%+v err=%v", kw, err)
	}
}

func TestValidate(t *testing.T) {
	reg := convert.NewRegistry()
	cases := []struct {
		name string
		tmpl model.FilterTemplate
		want error
	}{
		{"unknown predicate", model.FilterTemplate{Name: "soundex", UIInputFormat: "string", FunctionInputFormat: "string"}, predicate.ErrUnknownPredicate},
		{"unknown input conversion", model.FilterTemplate{
			Name: predicate.NameDateRange, ApplicableType: model.TypeOf("date"),
			UIInputFormat: "roman-numerals", FunctionInputFormat: convert.FormatNumberRange,
		}, convert.ErrUnknownConversion},
		{"same formats need no conversion", model.FilterTemplate{
			Name: predicate.NameExact, ApplicableType: model.TypeOf("anything"),
			UIInputFormat: "x", FunctionInputFormat: "x",
		}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(reg, tc.tmpl)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestReadYAML(t *testing.T) {
	const doc = `
templates:
  - name: keyword
    applicable-type: null
    ui-input-format: string
    function-input-format: string
  - name: overlapping-date-range
    applicable-type: date
    ui-input-format: string, string
    function-input-format: number-range
`
	s, err := ReadYAML(convert.NewRegistry(), strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ReadYAML: %v", err)
	}
	d, err := s.Template(context.Background(), "overlapping-date-range")
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	if d.Type() != "date" || d.UIInputFormat != "string, string" {
		t.Fatalf("unexpected template %+v", d)
	}
	if _, err := s.Template(context.Background(), "matching-type"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("err=%v want ErrUnknownTemplate", err)
	}
}

func TestReadYAML_RejectsBadCatalogs(t *testing.T) {
	cases := map[string]string{
		"unknown field": "templates:\n  - name: keyword\n    colour: red\n",
		"duplicate":     "templates:\n  - {name: keyword, ui-input-format: s, function-input-format: s}\n  - {name: keyword, ui-input-format: s, function-input-format: s}\n",
		"bad predicate": "templates:\n  - {name: soundex, ui-input-format: s, function-input-format: s}\n",
	}
	for name, doc := range cases {
		if _, err := ReadYAML(convert.NewRegistry(), strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestStatic_ReturnsCopies(t *testing.T) {
	s, _ := NewStatic(nil, Defaults()...)
	a, _ := s.Template(context.Background(), predicate.NameWordPrefix)
	*a.ApplicableType = "mutated"
	b, _ := s.Template(context.Background(), predicate.NameWordPrefix)
	if b.Type() != "text" {
		t.Fatalf("catalog entry was mutated through a returned template: %q", b.Type())
	}
}

func newMini(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	r, err := NewRedis(ctx, mr.Addr(), "", nil)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_PutAndLookup(t *testing.T) {
	r, mr := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Put(ctx, Defaults()...); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !mr.Exists("filter-templates") {
		t.Fatal("expected the default hash key")
	}

	got, err := r.Template(ctx, predicate.NameDateRange)
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	if got.Type() != "date" || got.FunctionInputFormat != convert.FormatNumberRange {
		t.Fatalf("unexpected template %+v", got)
	}
	kw, err := r.Template(ctx, predicate.NameKeyword)
	if err != nil || !kw.AppliesToAll() {
		t.Fatalf("keyword=%+v err=%v", kw, err)
	}

	all, err := r.Templates(ctx)
	if err != nil {
		t.Fatalf("Templates: %v", err)
	}
	if len(all) != len(Defaults()) {
		t.Fatalf("got %d templates", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name > all[i].Name {
			t.Fatalf("templates not sorted: %v", all)
		}
	}

	if err := r.Delete(ctx, predicate.NameKeyword); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Template(ctx, predicate.NameKeyword); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("err=%v want ErrUnknownTemplate", err)
	}
}

func TestRedis_PutValidates(t *testing.T) {
	r, mr := newMini(t)
	err := r.Put(context.Background(), model.FilterTemplate{Name: "soundex", UIInputFormat: "s", FunctionInputFormat: "s"})
	if !errors.Is(err, predicate.ErrUnknownPredicate) {
		t.Fatalf("err=%v want ErrUnknownPredicate", err)
	}
	if mr.Exists("filter-templates") {
		t.Fatal("invalid template must not be stored")
	}
}

func TestRedis_CorruptEntry(t *testing.T) {
	r, mr := newMini(t)
	mr.HSet("filter-templates", "keyword", "{not json")
	if _, err := r.Template(context.Background(), "keyword"); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestNewRedis_RequiresAddr(t *testing.T) {
	if _, err := NewRedis(context.Background(), "", "k", nil); err == nil {
		t.Fatal("expected an error")
	}
}
