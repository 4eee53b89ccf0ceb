// Package aggregate accumulates per-bucket rule-hit counts across every
// processed source and renders the summary once at the end of a run.
//
// The accumulator holds integers only (hit counts and row counts); the
// derived hit rate is computed in float64 exactly once, at output time, so no
// rounding error accumulates across batches. Tables merge by per-key
// per-metric addition, which is commutative and associative, so partial
// tables built by parallel workers combine into the same result in any
// order.
package aggregate

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Chando-ra/fraudprep/internal/frame"
	"github.com/Chando-ra/fraudprep/internal/transform"
)

// Config names the columns the accumulator reads and the bucketing applied
// to the time column.
type Config struct {
	// RuleColumn holds zero or more space-separated rule identifiers per
	// row.
	RuleColumn string

	// TimeColumn drives the bucket key; rows with a null time cannot
	// reach the accumulator (the transform stage resolves every
	// timestamp or fails the file).
	TimeColumn string

	// Granularity floors TimeColumn into the bucket key. Default hour.
	Granularity transform.Granularity
}

// DefaultConfig returns the accumulator bound to the upstream export's
// column names.
func DefaultConfig() Config {
	return Config{
		RuleColumn:  "hit_rule",
		TimeColumn:  "EVENT_TIME",
		Granularity: transform.Hour,
	}
}

// bucket carries the integer metrics of one time bucket.
type bucket struct {
	txns int64
	hits map[string]int64
}

// Table is the accumulator: bucket metrics keyed by floored time, plus the
// set of rules seen anywhere. It is not safe for concurrent use; parallel
// workers each build their own Table and Merge at the end.
type Table struct {
	buckets map[int64]*bucket // keyed by floored time, unix seconds UTC
	rules   map[string]struct{}
}

// NewTable returns an empty accumulator table.
func NewTable() *Table {
	return &Table{
		buckets: make(map[int64]*bucket),
		rules:   make(map[string]struct{}),
	}
}

// Len returns the number of populated time buckets.
func (t *Table) Len() int { return len(t.buckets) }

// add counts one row: its bucket's row count plus one hit per rule token.
func (t *Table) add(key int64, rules []string) {
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{hits: make(map[string]int64)}
		t.buckets[key] = b
	}
	b.txns++
	for _, r := range rules {
		t.rules[r] = struct{}{}
		b.hits[r]++
	}
}

// Merge folds other into t by per-key per-metric addition. other must not be
// used afterwards.
func (t *Table) Merge(other *Table) {
	for r := range other.rules {
		t.rules[r] = struct{}{}
	}
	for key, ob := range other.buckets {
		b, ok := t.buckets[key]
		if !ok {
			t.buckets[key] = ob
			continue
		}
		b.txns += ob.txns
		for r, n := range ob.hits {
			b.hits[r] += n
		}
	}
}

// Accumulator feeds transformed batches of one source into a Table.
type Accumulator struct {
	cfg   Config
	table *Table

	bound          bool
	ruleIx, timeIx int
}

// NewAccumulator builds an accumulator writing into table, so a sequential
// run can share one table across all sources.
func NewAccumulator(cfg Config, table *Table) *Accumulator {
	if cfg.Granularity == "" {
		cfg.Granularity = transform.Hour
	}
	return &Accumulator{cfg: cfg, table: table}
}

// Add counts every row of one batch. The first batch binds the column
// positions; a missing rule or time column fails the file.
func (a *Accumulator) Add(b *frame.Batch) error {
	if !a.bound {
		a.ruleIx = b.Schema.Index(a.cfg.RuleColumn)
		a.timeIx = b.Schema.Index(a.cfg.TimeColumn)
		if a.ruleIx < 0 {
			return frame.Mismatchf("", "required column %q is absent", a.cfg.RuleColumn)
		}
		if a.timeIx < 0 {
			return frame.Mismatchf("", "required column %q is absent", a.cfg.TimeColumn)
		}
		a.bound = true
	}
	for _, row := range b.Rows {
		ts := row[a.timeIx]
		if ts.IsNull() {
			// The transform stage resolves every timestamp or fails the
			// file; a null here means a batch bypassed the stage.
			return fmt.Errorf("unresolved %q timestamp reached the aggregator", a.cfg.TimeColumn)
		}
		key := a.cfg.Granularity.Truncate(ts.Time2().UTC()).Unix()
		a.table.add(key, splitRules(row[a.ruleIx]))
	}
	return nil
}

// splitRules tokenizes the space-separated rule cell. Null and empty cells
// contribute no hits (the row still counts toward its bucket's total).
func splitRules(v frame.Value) []string {
	if v.IsNull() {
		return nil
	}
	s := strings.TrimSpace(v.Str())
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// WriteTSV renders the summary: one row per time bucket in ascending key
// order, a leading transaction-count column, then hits and rate per rule in
// sorted rule order. The header spans two lines (rule name, then metric) the
// way the downstream analysis notebooks expect.
func (t *Table) WriteTSV(w io.Writer) error {
	rules := make([]string, 0, len(t.rules))
	for r := range t.rules {
		rules = append(rules, r)
	}
	sort.Strings(rules)

	keys := make([]int64, 0, len(t.buckets))
	for k := range t.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	head1 := []string{"", "txn"}
	head2 := []string{"hour", "count"}
	for _, r := range rules {
		head1 = append(head1, r, r)
		head2 = append(head2, "hits", "rate")
	}
	if err := writeRow(w, head1); err != nil {
		return err
	}
	if err := writeRow(w, head2); err != nil {
		return err
	}

	row := make([]string, 0, len(head1))
	for _, k := range keys {
		b := t.buckets[k]
		row = row[:0]
		row = append(row,
			time.Unix(k, 0).UTC().Format("2006-01-02 15:04:05"),
			strconv.FormatInt(b.txns, 10))
		for _, r := range rules {
			hits := b.hits[r]
			row = append(row,
				strconv.FormatInt(hits, 10),
				formatRate(hits, b.txns))
		}
		if err := writeRow(w, row); err != nil {
			return err
		}
	}
	return nil
}

// formatRate divides once, in float64, at output time.
func formatRate(hits, txns int64) string {
	if txns == 0 {
		return "0"
	}
	return strconv.FormatFloat(float64(hits)/float64(txns), 'g', -1, 64)
}

func writeRow(w io.Writer, cells []string) error {
	if _, err := io.WriteString(w, strings.Join(cells, "\t")+"\n"); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
