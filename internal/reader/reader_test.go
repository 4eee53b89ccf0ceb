package reader

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Chando-ra/fraudprep/internal/frame"
)

const sampleInput = "id\tSCORE\tEVENT_TIME\tname\n" +
	"1\t120.5\t2023-05-01 10:30:00\talpha\n" +
	"2\t\t2023-05-01 11:00:00\t\n" +
	"3\t900\t\tgamma\n"

func readAll(t *testing.T, r *Reader) []*frame.Batch {
	t.Helper()
	var batches []*frame.Batch
	for {
		b, err := r.Next()
		if err == io.EOF {
			return batches
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		batches = append(batches, b)
	}
}

func TestReaderInfersSchemaAndTypes(t *testing.T) {
	r := New(strings.NewReader(sampleInput), "test", Options{})
	batches := readAll(t, r)
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	b := batches[0]
	if b.Len() != 3 {
		t.Fatalf("got %d rows, want 3", b.Len())
	}

	s := r.Schema()
	wantKinds := []frame.Kind{frame.KindInt, frame.KindFloat, frame.KindTime, frame.KindString}
	for i, k := range wantKinds {
		if s.Col(i).Kind != k {
			t.Errorf("column %s inferred as %s, want %s", s.Col(i).Name, s.Col(i).Kind, k)
		}
	}

	if got := b.Rows[0][1]; got.Float64() != 120.5 {
		t.Errorf("row 0 SCORE = %#v", got)
	}
	if !b.Rows[1][1].IsNull() || !b.Rows[1][3].IsNull() {
		t.Error("empty cells did not parse as nulls")
	}
	if !b.Rows[2][2].IsNull() {
		t.Error("empty timestamp did not parse as null")
	}
}

func TestReaderBatching(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("id\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("1\n")
	}
	r := New(strings.NewReader(sb.String()), "test", Options{BatchSize: 4})
	batches := readAll(t, r)
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = b.Len()
	}
	if len(batches) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("batch sizes = %v, want [4 4 2]", sizes)
	}
}

func TestReaderMalformedRows(t *testing.T) {
	input := "id\tname\n1\talpha\n2\tbeta\textra\n3\tgamma\n"

	t.Run("lenient drops and counts", func(t *testing.T) {
		r := New(strings.NewReader(input), "test", Options{})
		batches := readAll(t, r)
		if total := batches[0].Len(); total != 2 {
			t.Errorf("got %d rows, want 2", total)
		}
		if r.Dropped() != 1 {
			t.Errorf("Dropped() = %d, want 1", r.Dropped())
		}
	})

	t.Run("strict fails the file", func(t *testing.T) {
		r := New(strings.NewReader(input), "test", Options{Strict: true})
		_, err := r.Next()
		var merr *MalformedRowError
		if !errors.As(err, &merr) {
			t.Fatalf("got %v, want MalformedRowError", err)
		}
		if merr.Want != 2 || merr.Got != 3 {
			t.Errorf("error = %+v", merr)
		}
	})
}

func TestReaderEmptyInput(t *testing.T) {
	r := New(strings.NewReader(""), "test", Options{})
	if _, err := r.Next(); err == nil || err == io.EOF {
		t.Errorf("got %v, want a header-required error", err)
	}
}

func TestReaderHeaderOnly(t *testing.T) {
	r := New(strings.NewReader("id\tname\n"), "test", Options{})
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("got %v, want io.EOF", err)
	}
	if r.Schema() == nil || r.Schema().Len() != 2 {
		t.Error("header-only input did not resolve a schema")
	}
}

func TestReaderSkipsBlankLinesAndCR(t *testing.T) {
	input := "id\tname\r\n\r\n1\talpha\r\n\n2\tbeta\n"
	r := New(strings.NewReader(input), "test", Options{})
	batches := readAll(t, r)
	if batches[0].Len() != 2 {
		t.Errorf("got %d rows, want 2", batches[0].Len())
	}
	if got := batches[0].Rows[0][1].Str(); got != "alpha" {
		t.Errorf("row 0 name = %q, carriage return not stripped", got)
	}
}

func TestReaderPinnedSchema(t *testing.T) {
	first := New(strings.NewReader(sampleInput), "member-1", Options{})
	readAll(t, first)
	schema := first.Schema()

	t.Run("matching member reuses kinds", func(t *testing.T) {
		r := NewWithSchema(strings.NewReader("id\tSCORE\tEVENT_TIME\tname\n9\t5\t2023-06-01\tz\n"),
			"member-2", schema, Options{})
		batches := readAll(t, r)
		// SCORE stays float even though this member's cells look integral.
		if got := batches[0].Rows[0][1]; got.Kind() != frame.KindFloat || got.Float64() != 5 {
			t.Errorf("pinned SCORE = %#v", got)
		}
	})

	t.Run("header drift fails the member", func(t *testing.T) {
		r := NewWithSchema(strings.NewReader("id\tSCORE\tname\n"), "member-3", schema, Options{})
		_, err := r.Next()
		var merr *frame.MismatchError
		if !errors.As(err, &merr) {
			t.Fatalf("got %v, want MismatchError", err)
		}
	})
}

func TestReaderLatin1(t *testing.T) {
	// 0xE9 is e-acute in latin1 and invalid UTF-8 on its own.
	input := "id\tname\n1\tcaf\xe9\n"
	r := New(strings.NewReader(input), "test", Options{Encoding: "latin1"})
	batches := readAll(t, r)
	if got := batches[0].Rows[0][1].Str(); got != "café" {
		t.Errorf("name = %q, want café", got)
	}
}
