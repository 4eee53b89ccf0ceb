// Package runner orchestrates a whole run: source discovery, the per-file
// read/transform/land pipeline, idempotency checks, staging-area lifecycle,
// and the end-of-run summary.
//
// Failure containment is the package's main job. A problem inside one file
// (corrupt archive, schema mismatch, unusable timestamps) skips that file
// with a logged reason and moves on; only a missing input root aborts the
// run. Every file's staging directory is removed on every exit path, so a
// crashed or killed run leaves at worst an orphaned staging tree that the
// next run overwrites.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/Chando-ra/fraudprep/internal/aggregate"
	"github.com/Chando-ra/fraudprep/internal/config"
	"github.com/Chando-ra/fraudprep/internal/frame"
	"github.com/Chando-ra/fraudprep/internal/metrics"
	"github.com/Chando-ra/fraudprep/internal/reader"
	"github.com/Chando-ra/fraudprep/internal/sink"
	"github.com/Chando-ra/fraudprep/internal/source"
	"github.com/Chando-ra/fraudprep/internal/storage"
	"github.com/Chando-ra/fraudprep/internal/transform"
)

// Outcome classifies what happened to one input file.
type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeSkippedExists Outcome = "skipped-exists"
	OutcomeSkippedError  Outcome = "skipped-error"
)

// FileResult is the per-file line of the run summary.
type FileResult struct {
	Path    string
	Outcome Outcome
	Rows    int64 // rows landed after transformation
	Dropped int64 // malformed rows dropped by the reader
	Err     error // reason for OutcomeSkippedError
}

// Summary aggregates the run.
type Summary struct {
	Results       []FileResult
	Processed     int
	SkippedExists int
	SkippedError  int
	Rows          int64
	Dropped       int64
}

func (s *Summary) add(r FileResult) {
	s.Results = append(s.Results, r)
	s.Rows += r.Rows
	s.Dropped += r.Dropped
	switch r.Outcome {
	case OutcomeProcessed:
		s.Processed++
	case OutcomeSkippedExists:
		s.SkippedExists++
	case OutcomeSkippedError:
		s.SkippedError++
	}
}

// newRepositoryFn is a test seam mirroring the segment-writer seam in sink.
var newRepositoryFn = storage.New

// Runner executes one configured run.
type Runner struct {
	cfg  config.Config
	repo storage.Repository
}

// New builds a runner for cfg. cfg should have passed Validate.
func New(cfg config.Config) *Runner {
	if cfg.Output.TempDir == "" {
		cfg.Output.TempDir = filepath.Join(cfg.Output.Dir, ".staging")
	}
	return &Runner{cfg: cfg}
}

// Run discovers the inputs and pushes each through the pipeline. The
// returned error covers fatal conditions only; per-file failures are
// reported in the summary.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	paths, err := Discover(r.cfg.Input.Path, r.cfg.Input.Suffixes, r.cfg.Input.ExcludeDirs)
	if err != nil {
		return nil, err
	}
	log.Info().Int("files", len(paths)).Str("mode", r.cfg.Output.Mode).Msg("run starting")

	summary := &Summary{}

	if r.cfg.Output.Mode == config.ModeAggregate {
		summaryPath := r.summaryPath()
		if _, err := os.Stat(summaryPath); err == nil {
			log.Info().Str("output", summaryPath).Msg("summary exists, skipping run")
			for _, p := range paths {
				summary.add(FileResult{Path: p, Outcome: OutcomeSkippedExists})
			}
			return summary, nil
		}
	}

	if r.cfg.Output.Mode == config.ModeStore {
		repo, err := newRepositoryFn(ctx, storage.Config{Kind: r.cfg.Storage.Kind, DSN: r.cfg.Storage.DSN})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		r.repo = repo
		defer repo.Close()
	}

	// Every file accumulates into its own partial table, merged only when
	// the file processed cleanly. A file that fails mid-pipeline must not
	// leak its already-counted batches into the summary.
	table := aggregate.NewTable()
	workers := r.cfg.Runtime.Workers
	if workers <= 1 {
		for _, path := range paths {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			partial := aggregate.NewTable()
			res := r.processFile(ctx, path, partial)
			summary.add(res)
			if res.Outcome == OutcomeProcessed {
				table.Merge(partial)
			}
		}
	} else {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, path := range paths {
			path := path
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				partial := aggregate.NewTable()
				res := r.processFile(gctx, path, partial)
				mu.Lock()
				summary.add(res)
				if res.Outcome == OutcomeProcessed {
					table.Merge(partial)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return summary, err
		}
	}

	if r.cfg.Output.Mode == config.ModeAggregate {
		if err := r.writeSummary(table); err != nil {
			return summary, err
		}
	}

	log.Info().Int("processed", summary.Processed).Int("skipped_exists", summary.SkippedExists).
		Int("skipped_error", summary.SkippedError).Int64("rows", summary.Rows).
		Int64("dropped", summary.Dropped).Msg("run complete")
	return summary, nil
}

// processFile runs one input end to end and never lets its errors escape as
// anything but a classified result.
func (r *Runner) processFile(ctx context.Context, path string, table *aggregate.Table) FileResult {
	res := FileResult{Path: path}
	start := time.Now()
	defer func() {
		metrics.RecordFile(string(res.Outcome), time.Since(start))
		metrics.RecordRows("landed", res.Rows)
		metrics.RecordRows("dropped", res.Dropped)
	}()

	if skip, err := r.outputExists(ctx, path); err != nil {
		res.Outcome = OutcomeSkippedError
		res.Err = err
		log.Error().Err(err).Str("file", path).Msg("skipping file")
		return res
	} else if skip {
		res.Outcome = OutcomeSkippedExists
		log.Info().Str("file", path).Msg("output exists, skipping")
		return res
	}

	staging := filepath.Join(r.cfg.Output.TempDir, fmt.Sprintf("%016x", xxh3.HashString(path)))
	if err := os.MkdirAll(staging, 0o755); err != nil {
		res.Outcome = OutcomeSkippedError
		res.Err = fmt.Errorf("staging dir: %w", err)
		return res
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			log.Warn().Err(err).Str("dir", staging).Msg("staging cleanup failed")
		}
	}()

	rows, dropped, err := r.pipeline(ctx, path, staging, table)
	res.Rows = rows
	res.Dropped = dropped
	if err != nil {
		// A failed file's output is discarded (sinks abandon, its partial
		// aggregate table is dropped), so it lands zero rows.
		res.Rows = 0
		res.Outcome = OutcomeSkippedError
		res.Err = err
		if errors.Is(err, source.ErrNoMatchingEntry) {
			log.Warn().Str("file", path).Msg("no qualifying entries, skipping")
		} else {
			log.Error().Err(err).Str("file", path).Msg("file failed")
		}
		return res
	}
	res.Outcome = OutcomeProcessed
	log.Info().Str("file", path).Int64("rows", rows).Int64("dropped", dropped).Msg("file processed")
	return res
}

// pipeline streams one source through read, transform, and land. On any
// error the sink is abandoned so nothing appears at the canonical path.
func (r *Runner) pipeline(ctx context.Context, path, staging string, table *aggregate.Table) (rows, dropped int64, err error) {
	entries, err := source.Open(ctx, path, r.cfg.Input.MemberSuffixes)
	if err != nil {
		return 0, 0, err
	}
	defer entries.Close()

	var (
		sk    sink.Sink
		stage *transform.Stage
		acc   *aggregate.Accumulator
	)
	if r.cfg.Output.Mode == config.ModeAggregate {
		acc = aggregate.NewAccumulator(aggregate.Config{
			RuleColumn:  r.cfg.Aggregate.RuleColumn,
			TimeColumn:  r.cfg.Rules.TimeColumn,
			Granularity: transform.Granularity(r.cfg.Aggregate.Granularity),
		}, table)
	} else {
		sk = r.newSink(ctx, path, staging)
		defer func() {
			if err != nil {
				sk.Abandon()
			}
		}()
	}

	land := func(b *frame.Batch) error {
		rows += int64(b.Len())
		if acc != nil {
			if b.Len() == 0 {
				return nil
			}
			return acc.Add(b)
		}
		// Empty batches still reach the sink so a source whose every row
		// was dropped leaves a completion marker.
		return sk.WriteBatch(b)
	}

	var schema *frame.Schema
	for {
		entry, nerr := entries.Next()
		if nerr == io.EOF {
			break
		}
		if nerr != nil {
			return rows, dropped, nerr
		}
		var rd *reader.Reader
		if schema == nil {
			rd = reader.New(entry.Reader, entry.Name, r.readerOptions())
		} else {
			rd = reader.NewWithSchema(entry.Reader, entry.Name, schema, r.readerOptions())
		}
		for {
			if ctx.Err() != nil {
				return rows, dropped, ctx.Err()
			}
			batch, berr := rd.Next()
			if berr == io.EOF {
				break
			}
			if berr != nil {
				dropped += rd.Dropped()
				return rows, dropped, berr
			}
			if stage == nil {
				stage, err = transform.NewStage(rd.Schema(), r.stageConfig())
				if err != nil {
					return rows, dropped, err
				}
			}
			out, terr := stage.Apply(batch)
			if terr != nil {
				dropped += rd.Dropped()
				return rows, dropped, terr
			}
			if lerr := land(out); lerr != nil {
				dropped += rd.Dropped()
				return rows, dropped, lerr
			}
		}
		schema = rd.Schema()
		dropped += rd.Dropped()
	}

	if stage != nil {
		tail, ferr := stage.Flush()
		if ferr != nil {
			return rows, dropped, ferr
		}
		if lerr := land(tail); lerr != nil {
			return rows, dropped, lerr
		}
	}
	if sk != nil {
		if cerr := sk.Close(); cerr != nil {
			return rows, dropped, cerr
		}
	}
	return rows, dropped, nil
}

// newSink builds the mode's terminal consumer for one source.
func (r *Runner) newSink(ctx context.Context, path, staging string) sink.Sink {
	stem := Stem(path)
	switch r.cfg.Output.Mode {
	case config.ModeSingle:
		return sink.NewSingleFile(staging, filepath.Join(r.cfg.Output.Dir, stem+".parquet"))
	case config.ModeStore:
		return sink.NewStore(ctx, r.repo, tableName(stem))
	default:
		gran := transform.Granularity(r.cfg.Rules.Granularity)
		return sink.NewPartitioned(staging, filepath.Join(r.cfg.Output.Dir, stem), gran)
	}
}

// outputExists checks the mode's completion marker for one source.
func (r *Runner) outputExists(ctx context.Context, path string) (bool, error) {
	stem := Stem(path)
	switch r.cfg.Output.Mode {
	case config.ModeSingle:
		return pathExists(filepath.Join(r.cfg.Output.Dir, stem+".parquet"))
	case config.ModeStore:
		return r.repo.TableExists(ctx, tableName(stem))
	case config.ModeAggregate:
		// Aggregate mode has one run-level marker, checked in Run.
		return false, nil
	default:
		return pathExists(filepath.Join(r.cfg.Output.Dir, stem))
	}
}

func (r *Runner) readerOptions() reader.Options {
	var delim byte
	if r.cfg.Reader.Delimiter != "" {
		delim = r.cfg.Reader.Delimiter[0]
	}
	return reader.Options{
		Delimiter:  delim,
		BatchSize:  r.cfg.Reader.BatchSize,
		SampleRows: r.cfg.Reader.SampleRows,
		Strict:     r.cfg.Reader.Strict,
		Encoding:   r.cfg.Reader.Encoding,
	}
}

func (r *Runner) stageConfig() transform.Config {
	cfg := transform.Config{
		ScoreColumn: r.cfg.Rules.ScoreColumn,
		ValueColumn: r.cfg.Rules.ValueColumn,
		FlagColumn:  r.cfg.Rules.FlagColumn,
		TimeColumn:  r.cfg.Rules.TimeColumn,
		T1:          r.cfg.Rules.T1,
		T2:          r.cfg.Rules.T2,
		Granularity: transform.Granularity(r.cfg.Rules.Granularity),
	}
	if r.cfg.Output.Mode == config.ModeAggregate {
		// A filled-in "unknown" would register as a phantom rule.
		cfg.ExcludeStringFill = []string{r.cfg.Aggregate.RuleColumn}
	}
	return cfg
}

// summaryPath is the aggregate-mode output location.
func (r *Runner) summaryPath() string {
	if r.cfg.Output.SummaryFile != "" {
		return r.cfg.Output.SummaryFile
	}
	return filepath.Join(r.cfg.Output.Dir, "rule_summary.tsv")
}

// writeSummary renders the accumulator table, staged then renamed so a
// partial write never becomes the completion marker.
func (r *Runner) writeSummary(table *aggregate.Table) error {
	canonical := r.summaryPath()
	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return fmt.Errorf("summary dir: %w", err)
	}
	staged := canonical + ".tmp"
	f, err := os.Create(staged)
	if err != nil {
		return fmt.Errorf("summary create: %w", err)
	}
	if err := table.WriteTSV(f); err != nil {
		f.Close()
		os.Remove(staged)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(staged)
		return fmt.Errorf("summary close: %w", err)
	}
	if err := os.Rename(staged, canonical); err != nil {
		return fmt.Errorf("summary promote: %w", err)
	}
	log.Info().Str("output", canonical).Int("buckets", table.Len()).Msg("summary written")
	return nil
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// tableName maps a source stem onto a store table identifier.
func tableName(stem string) string {
	return strings.ReplaceAll(stem, "-", "_")
}
