// Package sink routes transformed batches into columnar output artifacts.
//
// Two file-backed sinks exist: a partition router writing one Parquet segment
// per (source, event_month, score_level) and a single-file sink appending all
// of a source's batches into one Parquet artifact. Both write into a
// per-source staging directory and promote the result to its canonical path
// only on Close, so an interrupted run leaves no completion marker behind.
package sink

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/Chando-ra/fraudprep/internal/frame"
)

// arrowSchema maps a frame schema onto Arrow field types. Timestamps are
// stored with microsecond precision, matching the upstream columnar layout.
func arrowSchema(s *frame.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, s.Len())
	for i := 0; i < s.Len(); i++ {
		col := s.Col(i)
		var dt arrow.DataType
		switch col.Kind {
		case frame.KindString:
			dt = arrow.BinaryTypes.String
		case frame.KindInt:
			dt = arrow.PrimitiveTypes.Int64
		case frame.KindFloat:
			dt = arrow.PrimitiveTypes.Float64
		case frame.KindBool:
			dt = arrow.FixedWidthTypes.Boolean
		case frame.KindTime:
			dt = arrow.FixedWidthTypes.Timestamp_us
		default:
			return nil, fmt.Errorf("column %s: unsupported kind %s", col.Name, col.Kind)
		}
		fields[i] = arrow.Field{Name: col.Name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

// buildRecord materializes the given rows of a batch as an Arrow record. The
// caller must Release the record. rows indexes into b.Rows; nil means all.
func buildRecord(pool memory.Allocator, as *arrow.Schema, b *frame.Batch, rows []int) (arrow.Record, error) {
	rb := array.NewRecordBuilder(pool, as)
	defer rb.Release()

	appendCell := func(fb array.Builder, v frame.Value) error {
		if v.IsNull() {
			fb.AppendNull()
			return nil
		}
		switch builder := fb.(type) {
		case *array.StringBuilder:
			builder.Append(v.Str())
		case *array.Int64Builder:
			builder.Append(v.Int64())
		case *array.Float64Builder:
			builder.Append(v.Float64())
		case *array.BooleanBuilder:
			builder.Append(v.Bool2())
		case *array.TimestampBuilder:
			builder.Append(arrow.Timestamp(v.Time2().UnixMicro()))
		default:
			return fmt.Errorf("unsupported arrow builder %T", fb)
		}
		return nil
	}

	emit := func(row []frame.Value) error {
		for i, fb := range rb.Fields() {
			if err := appendCell(fb, row[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if rows == nil {
		for _, row := range b.Rows {
			if err := emit(row); err != nil {
				return nil, err
			}
		}
	} else {
		for _, ix := range rows {
			if err := emit(b.Rows[ix]); err != nil {
				return nil, err
			}
		}
	}
	return rb.NewRecord(), nil
}
