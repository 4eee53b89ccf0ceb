// Package frame defines the typed data model shared by all pipeline stages:
// a per-cell nullable tagged value, a per-source column schema, and the
// fixed-capacity row batch that flows from the reader through the transform
// stage into the sinks and the aggregator.
//
// Design goals:
//
//   - One schema per source, resolved once; batches never re-infer types.
//   - Nullability is explicit (no nil-interface sentinels in hot paths).
//   - A batch is owned by exactly one stage at a time and handed off whole;
//     nothing in this package is safe for concurrent mutation.
package frame

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the semantic type of a column.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

// String returns a short lowercase name for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a nullable cell. The zero Value is a null string.
//
// Only the field matching Kind is meaningful; accessors return the zero of
// their type for nulls and mismatched kinds so callers can stay branch-light.
type Value struct {
	kind Kind
	null bool
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

// Null returns a null value of the given kind.
func Null(k Kind) Value { return Value{kind: k, null: true} }

// String returns a non-null string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns a non-null integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a non-null floating-point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a non-null boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a non-null timestamp value.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Kind reports the value's semantic type.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.null }

// Str returns the string payload ("" when null or not a string).
func (v Value) Str() string { return v.s }

// Int64 returns the integer payload (0 when null or not an int).
func (v Value) Int64() int64 { return v.i }

// Float64 returns the float payload (0 when null or not a float).
func (v Value) Float64() float64 { return v.f }

// Bool2 returns the boolean payload (false when null or not a bool).
func (v Value) Bool2() bool { return v.b }

// Time2 returns the timestamp payload (zero time when null or not a time).
func (v Value) Time2() time.Time { return v.t }

// AsFloat widens numeric values to float64. Non-numeric and null values
// report ok=false.
func (v Value) AsFloat() (f float64, ok bool) {
	if v.null {
		return 0, false
	}
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Any converts the value to the database/sql friendly representation used by
// the storage backends: nil for nulls, otherwise the native Go type.
func (v Value) Any() any {
	if v.null {
		return nil
	}
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	default:
		return nil
	}
}

// Column is one named, typed column of a schema.
type Column struct {
	Name string
	Kind Kind
}

// Schema is the ordered column set shared by every batch of one source. It is
// immutable after construction.
type Schema struct {
	cols  []Column
	index map[string]int
}

// NewSchema builds a schema from an ordered column list. Duplicate names keep
// the first occurrence in the lookup index.
func NewSchema(cols []Column) *Schema {
	s := &Schema{cols: cols, index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, ok := s.index[c.Name]; !ok {
			s.index[c.Name] = i
		}
	}
	return s
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.cols) }

// Col returns the i-th column.
func (s *Schema) Col(i int) Column { return s.cols[i] }

// Columns returns a copy of the ordered column list.
func (s *Schema) Columns() []Column {
	out := make([]Column, len(s.cols))
	copy(out, s.cols)
	return out
}

// Names returns the ordered column names.
func (s *Schema) Names() []string {
	out := make([]string, len(s.cols))
	for i, c := range s.cols {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column, or -1 when absent.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// WithColumns returns a new schema extending s with extra columns.
func (s *Schema) WithColumns(extra ...Column) *Schema {
	cols := make([]Column, 0, len(s.cols)+len(extra))
	cols = append(cols, s.cols...)
	cols = append(cols, extra...)
	return NewSchema(cols)
}

// SameNames reports whether the other header has the same column names in the
// same order. Kinds are not compared; archive members share the kinds
// resolved from the first member.
func (s *Schema) SameNames(names []string) bool {
	if len(names) != len(s.cols) {
		return false
	}
	for i, n := range names {
		if s.cols[i].Name != n {
			return false
		}
	}
	return true
}

// Batch is an ordered chunk of rows sharing one schema. Rows are aligned to
// Schema positionally; len(row) == Schema.Len() always holds for rows
// produced by this repository.
type Batch struct {
	Schema *Schema
	Rows   [][]Value
}

// NewBatch allocates an empty batch with the given row capacity.
func NewBatch(s *Schema, capacity int) *Batch {
	return &Batch{Schema: s, Rows: make([][]Value, 0, capacity)}
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int { return len(b.Rows) }

// MismatchError reports a structural schema problem that fails the whole
// source file: a required column is missing, an archive member disagrees with
// the established column set, or a column has an unusable kind.
type MismatchError struct {
	Source string
	Reason string
}

func (e *MismatchError) Error() string {
	if e.Source == "" {
		return "schema mismatch: " + e.Reason
	}
	return fmt.Sprintf("schema mismatch in %s: %s", e.Source, e.Reason)
}

// Mismatchf builds a MismatchError with a formatted reason.
func Mismatchf(source, format string, args ...any) *MismatchError {
	return &MismatchError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

// FormatRow renders a row for diagnostics, eliding nulls.
func FormatRow(row []Value) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range row {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if v.IsNull() {
			sb.WriteString("<null>")
			continue
		}
		fmt.Fprintf(&sb, "%v", v.Any())
	}
	sb.WriteByte(']')
	return sb.String()
}
