// Type inference for delimited sources. Kinds are resolved once per source
// from a bounded sample of leading rows and then held fixed; cells that later
// fail to parse under the resolved kind become nulls (upstream exports are
// allowed to contain corrupt trailing values).
package frame

import (
	"strconv"
	"strings"
	"time"
)

// timeLayouts is the fixed set of layouts a column must satisfy to be
// inferred as a timestamp. Order matters: the first layout that parses wins,
// and the reader caches the winning layout per column.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseTime attempts each supported layout in order.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseBoolWord recognizes the boolean spellings produced by the upstream
// exporters. Bare "0"/"1" are deliberately excluded here so that numeric
// columns are not inferred as boolean.
func parseBoolWord(s string) (bool, bool) {
	switch s {
	case "True", "true", "TRUE":
		return true, true
	case "False", "false", "FALSE":
		return false, true
	}
	return false, false
}

// InferKind resolves the kind of one column from its sampled raw cells.
// Empty cells are nulls and carry no evidence; an all-null sample resolves to
// string. Precedence: int, float, bool, timestamp, string.
func InferKind(sample []string) Kind {
	var seen bool
	isInt, isFloat, isBool, isTime := true, true, true, true
	for _, s := range sample {
		if s == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, ok := parseBoolWord(s); !ok {
				isBool = false
			}
		}
		if isTime {
			if _, ok := ParseTime(s); !ok {
				isTime = false
			}
		}
		if !isInt && !isFloat && !isBool && !isTime {
			return KindString
		}
	}
	if !seen {
		return KindString
	}
	switch {
	case isInt:
		return KindInt
	case isFloat:
		return KindFloat
	case isBool:
		return KindBool
	case isTime:
		return KindTime
	default:
		return KindString
	}
}

// InferSchema resolves a full schema from header names and sampled raw rows
// (row-major, aligned to the header).
func InferSchema(header []string, sample [][]string) *Schema {
	cols := make([]Column, len(header))
	cell := make([]string, 0, len(sample))
	for i, name := range header {
		cell = cell[:0]
		for _, row := range sample {
			if i < len(row) {
				cell = append(cell, row[i])
			}
		}
		cols[i] = Column{Name: name, Kind: InferKind(cell)}
	}
	return NewSchema(cols)
}

// ParseCell converts one raw cell into a Value of the given kind. Empty cells
// are nulls; cells that fail to parse under the kind are also nulls, matching
// the lenient upstream readers.
func ParseCell(k Kind, s string) Value {
	if s == "" {
		return Null(k)
	}
	switch k {
	case KindInt:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
	case KindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f)
		}
	case KindBool:
		if b, ok := parseBoolWord(s); ok {
			return Bool(b)
		}
	case KindTime:
		if t, ok := ParseTime(s); ok {
			return Time(t)
		}
	case KindString:
		return String(s)
	}
	return Null(k)
}

// NormalizeHeader canonicalizes raw header cells: trims edge whitespace and
// strips a UTF-8 BOM from the first cell.
func NormalizeHeader(h []string) []string {
	out := make([]string, len(h))
	for i, c := range h {
		c = strings.TrimSpace(c)
		if i == 0 {
			c = strings.TrimPrefix(c, "\uFEFF")
		}
		out[i] = c
	}
	return out
}
