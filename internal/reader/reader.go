// Package reader parses a tab-delimited byte stream into fixed-size batches
// of typed rows. The upstream exporters write without quoting, so rows are
// split on the raw delimiter; this keeps the reader allocation-light and able
// to handle multi-GB inputs with only one batch resident at a time.
//
// On the first batch the reader consumes the header line and, when attached
// to a fresh source, infers each column's semantic kind from a bounded sample
// of leading rows. Subsequent archive members reuse the established schema;
// a member whose header disagrees fails the whole source.
package reader

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/charmap"

	"github.com/Chando-ra/fraudprep/internal/frame"
)

// MalformedRowError fails a file in strict mode when a row's field count
// disagrees with the header. In the default lenient mode such rows are
// dropped and counted instead.
type MalformedRowError struct {
	Line int
	Want int
	Got  int
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("line %d: expected %d fields, got %d", e.Line, e.Want, e.Got)
}

// Defaults applied by Options.withDefaults.
const (
	DefaultBatchSize  = 100_000
	DefaultSampleRows = 1024
)

// Options configures a Reader. Zero fields get defaults.
type Options struct {
	// Delimiter is the field separator. Default '\t'.
	Delimiter byte

	// BatchSize caps rows per batch. Default 100_000.
	BatchSize int

	// SampleRows bounds how many leading rows feed type inference.
	// Default 1024, clamped to BatchSize.
	SampleRows int

	// Strict fails the file on the first malformed row instead of
	// dropping it.
	Strict bool

	// Encoding optionally transcodes the input. Supported: "" (UTF-8
	// passthrough) and "latin1".
	Encoding string

	// MaxLineBytes bounds a single line. Default 1 MiB.
	MaxLineBytes int
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = '\t'
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	if o.SampleRows > o.BatchSize {
		o.SampleRows = o.BatchSize
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = 1 << 20
	}
	return o
}

// Reader produces a finite, non-restartable sequence of batches from one
// byte stream.
type Reader struct {
	name    string
	opt     Options
	sc      *bufio.Scanner
	header  []string
	schema  *frame.Schema
	pinned  bool // schema supplied by caller, verify header only
	started bool
	eof     bool
	line    int
	dropped int64
	emitted int64
}

// New builds a reader that infers its schema from the stream. name is used in
// diagnostics only.
func New(r io.Reader, name string, opt Options) *Reader {
	opt = opt.withDefaults()
	return &Reader{name: name, opt: opt, sc: newScanner(r, opt)}
}

// NewWithSchema builds a reader bound to an already-resolved schema, used for
// the second and later members of an archive. The member's header must carry
// the same column names in the same order.
func NewWithSchema(r io.Reader, name string, schema *frame.Schema, opt Options) *Reader {
	opt = opt.withDefaults()
	return &Reader{name: name, opt: opt, sc: newScanner(r, opt), schema: schema, pinned: true}
}

func newScanner(r io.Reader, opt Options) *bufio.Scanner {
	if opt.Encoding == "latin1" {
		r = charmap.ISO8859_1.NewDecoder().Reader(r)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), opt.MaxLineBytes)
	return sc
}

// Schema returns the resolved schema. It is nil until the first Next call on
// an inferring reader.
func (r *Reader) Schema() *frame.Schema { return r.schema }

// Dropped returns the count of malformed rows skipped so far.
func (r *Reader) Dropped() int64 { return r.dropped }

// Next returns the next batch, or io.EOF when the stream is exhausted. The
// first call consumes the header and, when inferring, the sample rows; those
// sampled rows are part of the first batch, nothing is read twice.
func (r *Reader) Next() (*frame.Batch, error) {
	if r.eof {
		return nil, io.EOF
	}
	if !r.started {
		r.started = true
		if err := r.begin(); err != nil {
			return nil, err
		}
		if r.pinned {
			return r.fill(nil)
		}
		return r.first()
	}
	return r.fill(nil)
}

// begin consumes and validates the header line.
func (r *Reader) begin() error {
	raw, err := r.readLine()
	if err == io.EOF {
		return fmt.Errorf("%s: empty input, header required", r.name)
	}
	if err != nil {
		return err
	}
	header := frame.NormalizeHeader(strings.Split(raw, string(r.opt.Delimiter)))
	if r.pinned {
		if !r.schema.SameNames(header) {
			return frame.Mismatchf(r.name, "member header %v does not match established columns %v",
				header, r.schema.Names())
		}
		return nil
	}
	r.header = header
	return nil
}

// first samples leading rows, infers the schema, and returns the first batch
// containing the sampled rows plus the remainder up to BatchSize.
func (r *Reader) first() (*frame.Batch, error) {
	sample := make([][]string, 0, r.opt.SampleRows)
	for len(sample) < r.opt.SampleRows {
		fields, err := r.readRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if fields == nil {
			continue // malformed, already counted
		}
		sample = append(sample, fields)
	}
	r.schema = frame.InferSchema(r.header, sample)
	log.Debug().Str("source", r.name).Int("columns", r.schema.Len()).
		Int("sampled", len(sample)).Msg("schema resolved")
	return r.fill(sample)
}

// fill parses rows into a batch, starting from any withheld sampled raw rows.
func (r *Reader) fill(pending [][]string) (*frame.Batch, error) {
	b := frame.NewBatch(r.schema, r.opt.BatchSize)
	for _, fields := range pending {
		b.Rows = append(b.Rows, r.parseRow(fields))
	}
	for b.Len() < r.opt.BatchSize {
		fields, err := r.readRow()
		if err == io.EOF {
			r.eof = true
			break
		}
		if err != nil {
			return nil, err
		}
		if fields == nil {
			continue
		}
		b.Rows = append(b.Rows, r.parseRow(fields))
	}
	if b.Len() == 0 {
		return nil, io.EOF
	}
	r.emitted += int64(b.Len())
	if r.emitted%500_000 < int64(b.Len()) {
		log.Info().Str("source", r.name).Int("line", r.line).Int64("emitted", r.emitted).Msg("reader progress")
	}
	return b, nil
}

// readRow returns the fields of the next data row, nil for a dropped
// malformed row, or an error. Width is enforced against the schema (or raw
// header before inference).
func (r *Reader) readRow() ([]string, error) {
	raw, err := r.readLine()
	if err != nil {
		return nil, err
	}
	fields := strings.Split(raw, string(r.opt.Delimiter))
	want := len(r.header)
	if r.schema != nil {
		want = r.schema.Len()
	}
	if len(fields) != want {
		if r.opt.Strict {
			return nil, &MalformedRowError{Line: r.line, Want: want, Got: len(fields)}
		}
		r.dropped++
		if r.dropped <= 5 {
			log.Warn().Str("source", r.name).Int("line", r.line).
				Int("want", want).Int("got", len(fields)).Msg("dropping malformed row")
		}
		return nil, nil
	}
	return fields, nil
}

// parseRow converts raw fields into typed values under the fixed schema.
func (r *Reader) parseRow(fields []string) []frame.Value {
	row := make([]frame.Value, r.schema.Len())
	for i := range fields {
		row[i] = frame.ParseCell(r.schema.Col(i).Kind, fields[i])
	}
	return row
}

// readLine returns the next non-empty line with the trailing newline and any
// carriage return removed.
func (r *Reader) readLine() (string, error) {
	for r.sc.Scan() {
		r.line++
		line := strings.TrimSuffix(r.sc.Text(), "\r")
		if line == "" {
			continue
		}
		return line, nil
	}
	if err := r.sc.Err(); err != nil {
		return "", fmt.Errorf("%s: read: %w", r.name, err)
	}
	return "", io.EOF
}
