// Package transform applies the fixed cleaning and derivation rule set to
// batches: all-null row dropping, per-column null fills, boolean
// normalization, timestamp forward/backward fill, and the derived
// score_level and event_month columns.
//
// The stage is a pure batch-to-batch function except for two pieces of
// carried state, both scoped to one source file: the last non-null timestamp
// (forward fill) and a bounded buffer of leading rows whose timestamp is
// still unresolved (backward fill). Rows leave the stage in input order.
package transform

import (
	"fmt"
	"time"

	"github.com/Chando-ra/fraudprep/internal/frame"
)

// Granularity selects the flooring applied when deriving time buckets.
type Granularity string

const (
	Month Granularity = "month"
	Week  Granularity = "week"
	Day   Granularity = "day"
	Hour  Granularity = "hour"
)

// Truncate floors t to the granularity. Weeks start on Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	switch g {
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case Week:
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case Hour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	}
}

// Valid reports whether g is a recognized granularity.
func (g Granularity) Valid() bool {
	switch g {
	case Month, Week, Day, Hour:
		return true
	}
	return false
}

// Derived column names appended by the stage.
const (
	ScoreLevelColumn = "score_level"
	TimeBucketColumn = "event_month"
)

// Score level labels, a deterministic monotonic function of the score.
const (
	LevelLow  = "low"
	LevelMid  = "mid"
	LevelHigh = "high"
)

// Config names the columns the rule set operates on and the bucketing knobs.
type Config struct {
	// ScoreColumn and ValueColumn are numeric columns whose nulls are
	// filled with 0.
	ScoreColumn string
	ValueColumn string

	// FlagColumn is normalized to a boolean.
	FlagColumn string

	// TimeColumn is forward/backward filled and drives event_month.
	TimeColumn string

	// T1 < T2 split the score into low/mid/high.
	T1, T2 float64

	// Granularity floors TimeColumn into the event_month bucket.
	Granularity Granularity

	// ExcludeStringFill lists additional columns exempt from the
	// "unknown" string fill (FlagColumn and TimeColumn are always
	// exempt).
	ExcludeStringFill []string

	// MaxPending bounds the backward-fill buffer of leading rows with
	// unresolved timestamps. Default 500_000.
	MaxPending int
}

// DefaultConfig returns the rule set bound to the upstream export's column
// names.
func DefaultConfig() Config {
	return Config{
		ScoreColumn: "SCORE",
		ValueColumn: "EVENT_VALUE",
		FlagColumn:  "is_fraud",
		TimeColumn:  "EVENT_TIME",
		T1:          500,
		T2:          1500,
		Granularity: Month,
	}
}

// Stage applies the rule set to successive batches of one source.
type Stage struct {
	cfg Config
	in  *frame.Schema
	out *frame.Schema

	scoreIx, valueIx, flagIx, timeIx int
	fillUnknown                      []bool // per input column

	anchored bool
	lastTime time.Time
	pending  [][]frame.Value // output-shaped rows awaiting a timestamp anchor
}

// NewStage validates the schema against the rule set and resolves the output
// schema (input columns, flag column retyped to bool, plus score_level and
// event_month). A missing required column or a non-timestamp time column is a
// schema mismatch that fails the whole file.
func NewStage(in *frame.Schema, cfg Config) (*Stage, error) {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 500_000
	}
	if !(cfg.T1 < cfg.T2) {
		return nil, fmt.Errorf("score thresholds must be ascending: t1=%v t2=%v", cfg.T1, cfg.T2)
	}
	st := &Stage{cfg: cfg, in: in}

	for _, req := range []struct {
		name string
		ix   *int
	}{
		{cfg.ScoreColumn, &st.scoreIx},
		{cfg.ValueColumn, &st.valueIx},
		{cfg.FlagColumn, &st.flagIx},
		{cfg.TimeColumn, &st.timeIx},
	} {
		*req.ix = in.Index(req.name)
		if *req.ix < 0 {
			return nil, frame.Mismatchf("", "required column %q is absent", req.name)
		}
	}
	if k := in.Col(st.timeIx).Kind; k != frame.KindTime {
		return nil, frame.Mismatchf("", "column %q must be a timestamp, inferred as %s", cfg.TimeColumn, k)
	}

	exempt := map[int]bool{st.flagIx: true, st.timeIx: true}
	for _, name := range cfg.ExcludeStringFill {
		if ix := in.Index(name); ix >= 0 {
			exempt[ix] = true
		}
	}
	st.fillUnknown = make([]bool, in.Len())
	for i := 0; i < in.Len(); i++ {
		st.fillUnknown[i] = in.Col(i).Kind == frame.KindString && !exempt[i]
	}

	cols := in.Columns()
	cols[st.flagIx].Kind = frame.KindBool
	st.out = frame.NewSchema(cols).WithColumns(
		frame.Column{Name: ScoreLevelColumn, Kind: frame.KindString},
		frame.Column{Name: TimeBucketColumn, Kind: frame.KindTime},
	)
	return st, nil
}

// Schema returns the output schema.
func (st *Stage) Schema() *frame.Schema { return st.out }

// Apply transforms one input batch. The returned batch may hold fewer rows
// (all-null rows dropped, leading rows withheld until a timestamp anchor is
// seen) or more (previously withheld rows released by this batch's anchor).
func (st *Stage) Apply(b *frame.Batch) (*frame.Batch, error) {
	if b.Schema != st.in {
		if !b.Schema.SameNames(st.in.Names()) {
			return nil, frame.Mismatchf("", "batch schema drifted from the established column set")
		}
	}
	out := frame.NewBatch(st.out, b.Len())
	for _, row := range b.Rows {
		if allNull(row) {
			continue
		}
		res := st.transformRow(row)
		ts := res[st.timeIx]
		if !ts.IsNull() {
			st.lastTime = ts.Time2()
			if !st.anchored {
				st.anchored = true
				st.release(&out.Rows)
			}
			st.finishRow(res, ts.Time2())
			out.Rows = append(out.Rows, res)
			continue
		}
		if st.anchored {
			st.finishRow(res, st.lastTime)
			out.Rows = append(out.Rows, res)
			continue
		}
		if len(st.pending) >= st.cfg.MaxPending {
			return nil, fmt.Errorf("no timestamp in %q within the first %d rows", st.cfg.TimeColumn, st.cfg.MaxPending)
		}
		st.pending = append(st.pending, res)
	}
	return out, nil
}

// Flush ends the source. If rows are still withheld, the file contained no
// usable timestamp at all; that is an explicit failure rather than emitting
// unfilled rows.
func (st *Stage) Flush() (*frame.Batch, error) {
	if len(st.pending) > 0 {
		n := len(st.pending)
		st.pending = nil
		return nil, fmt.Errorf("column %q has no non-null value in the entire file (%d rows withheld)", st.cfg.TimeColumn, n)
	}
	return frame.NewBatch(st.out, 0), nil
}

// release backward-fills the withheld leading rows with the first anchor and
// appends them, preserving input order.
func (st *Stage) release(dst *[][]frame.Value) {
	for _, row := range st.pending {
		st.finishRow(row, st.lastTime)
		*dst = append(*dst, row)
	}
	st.pending = nil
}

// finishRow sets the timestamp and its derived bucket on an output row.
func (st *Stage) finishRow(row []frame.Value, t time.Time) {
	row[st.timeIx] = frame.Time(t)
	row[len(row)-1] = frame.Time(st.cfg.Granularity.Truncate(t))
}

// transformRow applies the per-cell fill and normalization rules and
// computes score_level. The timestamp and event_month cells are finalized by
// finishRow once fill state is known.
func (st *Stage) transformRow(row []frame.Value) []frame.Value {
	res := make([]frame.Value, st.out.Len())
	copy(res, row)

	res[st.scoreIx] = fillZero(res[st.scoreIx])
	res[st.valueIx] = fillZero(res[st.valueIx])
	for i, fill := range st.fillUnknown {
		if fill && res[i].IsNull() {
			res[i] = frame.String("unknown")
		}
	}
	res[st.flagIx] = frame.Bool(truthy(row[st.flagIx]))

	score, _ := res[st.scoreIx].AsFloat()
	res[st.out.Len()-2] = frame.String(scoreLevel(score, st.cfg.T1, st.cfg.T2))
	return res
}

// fillZero replaces a null numeric cell with zero of its kind. Non-numeric
// cells pass through so a misconfigured column name surfaces as data, not a
// panic.
func fillZero(v frame.Value) frame.Value {
	if !v.IsNull() {
		return v
	}
	switch v.Kind() {
	case frame.KindFloat:
		return frame.Float(0)
	default:
		return frame.Int(0)
	}
}

// truthy implements the boolean normalization rule: {"True","1",1,true} are
// true, everything else including null is false.
func truthy(v frame.Value) bool {
	if v.IsNull() {
		return false
	}
	switch v.Kind() {
	case frame.KindBool:
		return v.Bool2()
	case frame.KindInt:
		return v.Int64() == 1
	case frame.KindString:
		s := v.Str()
		return s == "True" || s == "true" || s == "1"
	default:
		return false
	}
}

// scoreLevel buckets a score against ascending thresholds.
func scoreLevel(score, t1, t2 float64) string {
	switch {
	case score < t1:
		return LevelLow
	case score < t2:
		return LevelMid
	default:
		return LevelHigh
	}
}

func allNull(row []frame.Value) bool {
	for _, v := range row {
		if !v.IsNull() {
			return false
		}
	}
	return true
}
