package frame

import (
	"testing"
	"time"
)

func TestInferKind(t *testing.T) {
	tests := []struct {
		name   string
		sample []string
		want   Kind
	}{
		{"ints", []string{"1", "42", "-7"}, KindInt},
		{"floats", []string{"1.5", "2", "-0.25"}, KindFloat},
		{"bools", []string{"True", "false", "FALSE"}, KindBool},
		{"timestamps", []string{"2023-05-01 10:30:00", "2023-05-01 11:00:00"}, KindTime},
		{"dates", []string{"2023-05-01", "2023-06-02"}, KindTime},
		{"strings", []string{"abc", "def"}, KindString},
		{"mixed numeric and text", []string{"1", "abc"}, KindString},
		{"empty cells carry no evidence", []string{"", "3", ""}, KindInt},
		{"all empty resolves to string", []string{"", "", ""}, KindString},
		{"no sample resolves to string", nil, KindString},
		{"zero one stays numeric not bool", []string{"0", "1"}, KindInt},
		{"int beats float on whole numbers", []string{"1", "2"}, KindInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferKind(tt.sample); got != tt.want {
				t.Errorf("InferKind(%v) = %s, want %s", tt.sample, got, tt.want)
			}
		})
	}
}

func TestParseCell(t *testing.T) {
	ts := time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		kind Kind
		raw  string
		want Value
	}{
		{"empty is null", KindInt, "", Null(KindInt)},
		{"int", KindInt, "42", Int(42)},
		{"unparsable int is null", KindInt, "4x", Null(KindInt)},
		{"float", KindFloat, "1.5", Float(1.5)},
		{"bool", KindBool, "True", Bool(true)},
		{"numeric bool spelling is null", KindBool, "1", Null(KindBool)},
		{"timestamp", KindTime, "2023-05-01 10:30:00", Time(ts)},
		{"unparsable timestamp is null", KindTime, "soon", Null(KindTime)},
		{"string passthrough", KindString, "abc", String("abc")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCell(tt.kind, tt.raw)
			if got != tt.want {
				t.Errorf("ParseCell(%s, %q) = %#v, want %#v", tt.kind, tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseTimeLayouts(t *testing.T) {
	for _, s := range []string{
		"2023-05-01 10:30:00",
		"2023-05-01T10:30:00",
		"2023-05-01T10:30:00Z",
		"2023-05-01",
	} {
		if _, ok := ParseTime(s); !ok {
			t.Errorf("ParseTime(%q) failed", s)
		}
	}
	if _, ok := ParseTime("01/05/2023"); ok {
		t.Error("ParseTime accepted an unsupported layout")
	}
}

func TestInferSchema(t *testing.T) {
	header := []string{"id", "SCORE", "EVENT_TIME", "name"}
	sample := [][]string{
		{"1", "120.5", "2023-05-01 10:30:00", "alpha"},
		{"2", "", "2023-05-01 11:00:00", ""},
	}
	s := InferSchema(header, sample)
	want := []Kind{KindInt, KindFloat, KindTime, KindString}
	for i, k := range want {
		if s.Col(i).Kind != k {
			t.Errorf("column %s inferred as %s, want %s", s.Col(i).Name, s.Col(i).Kind, k)
		}
	}
}

func TestNormalizeHeader(t *testing.T) {
	got := NormalizeHeader([]string{"\ufeffid", " SCORE ", "name"})
	want := []string{"id", "SCORE", "name"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("header[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
