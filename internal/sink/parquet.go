package sink

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/Chando-ra/fraudprep/internal/frame"
	"github.com/Chando-ra/fraudprep/internal/transform"
)

// Partitioned routes each row to a Parquet segment keyed by the derived
// (event_month, score_level) tuple. Segments open lazily on the first routed
// row, each is written by this single sink instance, and all are closed when
// the source's batches are exhausted. Keys are never renamed after a segment
// opens.
type Partitioned struct {
	staging   string // per-source staging root; segments live underneath
	canonical string // final directory for this source
	gran      transform.Granularity
	pool      memory.Allocator

	as       *arrow.Schema
	monthIx  int
	levelIx  int
	segments map[string]SegmentWriter
	rows     int64
}

// NewPartitioned builds the partition router for one source. staging must be
// inside the run's temp area; canonical is the source's output directory
// whose existence is the completion marker.
func NewPartitioned(staging, canonical string, gran transform.Granularity) *Partitioned {
	return &Partitioned{
		staging:   filepath.Join(staging, "segments"),
		canonical: canonical,
		gran:      gran,
		pool:      memory.NewGoAllocator(),
		segments:  make(map[string]SegmentWriter),
		monthIx:   -1,
	}
}

// bind resolves the Arrow schema and partition column positions from the
// first batch; every later batch must match it (enforced upstream by the
// fixed per-source schema).
func (p *Partitioned) bind(s *frame.Schema) error {
	as, err := arrowSchema(s)
	if err != nil {
		return err
	}
	p.as = as
	p.monthIx = s.Index(transform.TimeBucketColumn)
	p.levelIx = s.Index(transform.ScoreLevelColumn)
	if p.monthIx < 0 || p.levelIx < 0 {
		return frame.Mismatchf("", "partition columns %s/%s are absent",
			transform.TimeBucketColumn, transform.ScoreLevelColumn)
	}
	return nil
}

// partitionValue formats a truncated time bucket for its directory name.
func partitionValue(g transform.Granularity, t time.Time) string {
	switch g {
	case transform.Hour:
		return t.Format("2006-01-02T15")
	case transform.Day, transform.Week:
		return t.Format("2006-01-02")
	default:
		return t.Format("2006-01")
	}
}

// WriteBatch groups the batch's rows by partition key and appends each group
// to its segment.
func (p *Partitioned) WriteBatch(b *frame.Batch) error {
	if p.as == nil {
		if err := p.bind(b.Schema); err != nil {
			return err
		}
	}
	groups := make(map[string][]int)
	keys := make([]string, 0, 4)
	for i, row := range b.Rows {
		key := filepath.Join(
			fmt.Sprintf("%s=%s", transform.TimeBucketColumn, partitionValue(p.gran, row[p.monthIx].Time2())),
			fmt.Sprintf("%s=%s", transform.ScoreLevelColumn, row[p.levelIx].Str()),
		)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}
	// Deterministic segment open order keeps retries byte-comparable.
	sort.Strings(keys)
	for _, key := range keys {
		seg, ok := p.segments[key]
		if !ok {
			var err error
			seg, err = newSegmentWriterFn(filepath.Join(p.staging, key, "part-0.parquet"), p.as, p.pool)
			if err != nil {
				return fmt.Errorf("open segment %s: %w", key, err)
			}
			p.segments[key] = seg
		}
		rec, err := buildRecord(p.pool, p.as, b, groups[key])
		if err != nil {
			return err
		}
		err = seg.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}
	p.rows += int64(b.Len())
	return nil
}

// Close finalizes every open segment and promotes the staged directory to
// its canonical path. Nothing becomes visible at the canonical path unless
// every segment closed cleanly.
func (p *Partitioned) Close() error {
	keys := make([]string, 0, len(p.segments))
	for key := range p.segments {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := p.segments[key].Close(); err != nil {
			return err
		}
	}
	if len(p.segments) == 0 {
		if p.as == nil {
			// No batch ever arrived; leave no marker so the source is
			// retried next run.
			return nil
		}
		// Every row was dropped; an empty canonical directory is still
		// the completion marker.
		if err := ensureDir(p.staging); err != nil {
			return err
		}
	}
	if err := promote(p.staging, p.canonical); err != nil {
		return err
	}
	log.Info().Str("output", p.canonical).Int("segments", len(p.segments)).
		Int64("rows", p.rows).Msg("partitioned output complete")
	return nil
}

// Abandon drops writer state without promoting; staged files are reclaimed
// by the per-source temp cleanup.
func (p *Partitioned) Abandon() {
	for key, seg := range p.segments {
		if err := seg.Close(); err != nil {
			log.Debug().Err(err).Str("segment", key).Msg("abandoning segment")
		}
	}
	p.segments = nil
}
