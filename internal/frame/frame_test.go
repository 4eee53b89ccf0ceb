package frame

import (
	"strings"
	"testing"
	"time"
)

func TestValueAccessors(t *testing.T) {
	if v := Null(KindFloat); !v.IsNull() || v.Kind() != KindFloat {
		t.Errorf("Null(KindFloat) = %#v", v)
	}
	if v := Int(7); v.Int64() != 7 || v.IsNull() {
		t.Errorf("Int(7) = %#v", v)
	}
	if _, ok := Null(KindInt).AsFloat(); ok {
		t.Error("AsFloat on a null reported ok")
	}
	if f, ok := Int(3).AsFloat(); !ok || f != 3 {
		t.Errorf("AsFloat(Int(3)) = %v, %v", f, ok)
	}
	if f, ok := Float(2.5).AsFloat(); !ok || f != 2.5 {
		t.Errorf("AsFloat(Float(2.5)) = %v, %v", f, ok)
	}
	if _, ok := String("3").AsFloat(); ok {
		t.Error("AsFloat widened a string")
	}
}

func TestValueAny(t *testing.T) {
	ts := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		v    Value
		want any
	}{
		{Null(KindString), nil},
		{String("x"), "x"},
		{Int(1), int64(1)},
		{Float(1.5), 1.5},
		{Bool(true), true},
		{Time(ts), ts},
	}
	for _, tt := range tests {
		if got := tt.v.Any(); got != tt.want {
			t.Errorf("Any(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestSchemaLookup(t *testing.T) {
	s := NewSchema([]Column{
		{Name: "id", Kind: KindInt},
		{Name: "name", Kind: KindString},
	})
	if ix := s.Index("name"); ix != 1 {
		t.Errorf("Index(name) = %d, want 1", ix)
	}
	if ix := s.Index("missing"); ix != -1 {
		t.Errorf("Index(missing) = %d, want -1", ix)
	}

	ext := s.WithColumns(Column{Name: "score_level", Kind: KindString})
	if ext.Len() != 3 || ext.Index("score_level") != 2 {
		t.Errorf("WithColumns produced %v", ext.Names())
	}
	if s.Len() != 2 {
		t.Error("WithColumns mutated the receiver")
	}

	if !s.SameNames([]string{"id", "name"}) {
		t.Error("SameNames rejected identical names")
	}
	if s.SameNames([]string{"name", "id"}) {
		t.Error("SameNames accepted reordered names")
	}
	if s.SameNames([]string{"id"}) {
		t.Error("SameNames accepted a shorter header")
	}
}

func TestMismatchError(t *testing.T) {
	err := Mismatchf("data.tsv", "required column %q is absent", "SCORE")
	if !strings.Contains(err.Error(), "data.tsv") || !strings.Contains(err.Error(), "SCORE") {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestFormatRow(t *testing.T) {
	row := []Value{Int(1), Null(KindString), String("x")}
	got := FormatRow(row)
	if got != "[1 <null> x]" {
		t.Errorf("FormatRow = %q", got)
	}
}
