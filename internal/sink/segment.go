package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/rs/zerolog/log"

	"github.com/Chando-ra/fraudprep/internal/frame"
)

// Sink consumes transformed batches for one source file. Exactly one of
// Close or Abandon must be called; Close promotes staged output to its
// canonical location, Abandon leaves staging for the caller's temp cleanup.
type Sink interface {
	WriteBatch(b *frame.Batch) error
	Close() error
	Abandon()
}

// SegmentWriter appends Arrow records to one physical output artifact. It is
// written by exactly one sink instance and closed exactly once.
type SegmentWriter interface {
	Write(rec arrow.Record) error
	Close() error
}

// newSegmentWriterFn is a test seam mirroring the repository factory seams in
// cmd; production code always points at the Parquet implementation.
var newSegmentWriterFn = newParquetSegment

type parquetSegment struct {
	path string
	f    *os.File
	w    *pqarrow.FileWriter
	rows int64
}

func newParquetSegment(path string, as *arrow.Schema, pool memory.Allocator) (SegmentWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("segment dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("segment create: %w", err)
	}
	props := parquet.NewWriterProperties(
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
		parquet.WithAllocator(pool),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	w, err := pqarrow.NewFileWriter(as, f, props, arrowProps)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parquet writer: %w", err)
	}
	log.Debug().Str("path", path).Msg("opened segment")
	return &parquetSegment{path: path, f: f, w: w}, nil
}

func (s *parquetSegment) Write(rec arrow.Record) error {
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.rows += rec.NumRows()
	return nil
}

func (s *parquetSegment) Close() error {
	// pqarrow's Close finalizes the footer and closes the underlying file.
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	log.Debug().Str("path", s.path).Int64("rows", s.rows).Msg("closed segment")
	return nil
}

// promote moves a staged artifact (file or directory) to its canonical path.
func promote(staged, canonical string) error {
	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	if err := os.Rename(staged, canonical); err != nil {
		return fmt.Errorf("promote output: %w", err)
	}
	return nil
}
