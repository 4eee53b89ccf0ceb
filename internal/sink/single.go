package sink

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/Chando-ra/fraudprep/internal/frame"
)

// SingleFile appends every batch of one source into a single staged Parquet
// artifact, flushed batch-by-batch to bound memory, and promotes it on Close.
type SingleFile struct {
	staged    string
	canonical string
	pool      memory.Allocator

	as   *arrow.Schema
	seg  SegmentWriter
	rows int64
}

// NewSingleFile builds the chunked-append sink for one source.
func NewSingleFile(staging, canonical string) *SingleFile {
	return &SingleFile{
		staged:    staging + string(os.PathSeparator) + "out.parquet",
		canonical: canonical,
		pool:      memory.NewGoAllocator(),
	}
}

// WriteBatch lazily opens the artifact with the first batch's schema and
// appends one row group per batch.
func (s *SingleFile) WriteBatch(b *frame.Batch) error {
	if s.seg == nil {
		as, err := arrowSchema(b.Schema)
		if err != nil {
			return err
		}
		s.as = as
		s.seg, err = newSegmentWriterFn(s.staged, as, s.pool)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	rec, err := buildRecord(s.pool, s.as, b, nil)
	if err != nil {
		return err
	}
	err = s.seg.Write(rec)
	rec.Release()
	if err != nil {
		return err
	}
	s.rows += int64(b.Len())
	return nil
}

// Close finalizes the artifact and promotes it to the canonical path. A
// source whose every row was dropped still promotes a rowless artifact, so
// its completion marker appears and the source is not reprocessed. A source
// that never yielded a batch leaves nothing.
func (s *SingleFile) Close() error {
	if s.seg == nil {
		return nil
	}
	if err := s.seg.Close(); err != nil {
		return err
	}
	if err := promote(s.staged, s.canonical); err != nil {
		return err
	}
	log.Info().Str("output", s.canonical).Int64("rows", s.rows).Msg("single-file output complete")
	return nil
}

// Abandon drops the staged artifact; temp cleanup reclaims the bytes.
func (s *SingleFile) Abandon() {
	if s.seg != nil {
		if err := s.seg.Close(); err != nil {
			log.Debug().Err(err).Str("path", s.staged).Msg("abandoning output")
		}
		s.seg = nil
	}
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}
