// Package config defines the canonical, JSON-serializable configuration model
// for the preparation engine. It is intentionally small, explicit, and
// dependency-free so that run configs can be loaded from disk and passed
// through the program without additional glue code.
//
// Design goals:
//
//  1. Stability: changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: field names in Go mirror the JSON structure used in run config
//     files.
//  3. Minimalism: no third-party config libraries; decoding is performed by
//     the standard library and flags override decoded values at the CLI.
//
// Example (trimmed):
//
//	{
//	  "input":  { "path": "data/raw", "exclude_dirs": ["tests"] },
//	  "output": { "dir": "data/prepared", "mode": "partitioned" },
//	  "rules":  { "t1": 500, "t2": 1500, "granularity": "month" },
//	  "storage": { "kind": "sqlite", "dsn": "data/prepared/fraud.db" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Chando-ra/fraudprep/internal/reader"
	"github.com/Chando-ra/fraudprep/internal/source"
	"github.com/Chando-ra/fraudprep/internal/transform"
)

// Run modes select the terminal consumer of transformed batches.
const (
	ModePartitioned = "partitioned" // per-source partitioned Parquet tree
	ModeSingle      = "single"      // one Parquet artifact per source
	ModeStore       = "store"       // one table per source in the analytical store
	ModeAggregate   = "aggregate"   // cross-source rule-hit summary TSV
)

// Config is the top-level object decoded from a run config file.
type Config struct {
	Input     Input     `json:"input"`
	Output    Output    `json:"output"`
	Reader    Reader    `json:"reader"`
	Rules     Rules     `json:"rules"`
	Aggregate Aggregate `json:"aggregate"`
	Storage   Storage   `json:"storage"`
	Runtime   Runtime   `json:"runtime"`
}

// Input locates and filters the source files.
type Input struct {
	// Path is a directory walked recursively, or a single input file.
	Path string `json:"path"`

	// ExcludeDirs names directories skipped during the walk, in addition
	// to the built-in set (.venv, __pycache__, .git, tests).
	ExcludeDirs []string `json:"exclude_dirs"`

	// Suffixes filters qualifying files. Default: .tsv, .txt, .tar.gz.
	Suffixes []string `json:"suffixes"`

	// MemberSuffixes filters entries inside archives. Default: .tsv, .txt.
	MemberSuffixes []string `json:"member_suffixes"`
}

// Output selects the run mode and destination paths.
type Output struct {
	// Dir is the root for all produced artifacts and completion markers.
	Dir string `json:"dir"`

	// Mode is one of partitioned, single, store, aggregate.
	Mode string `json:"mode"`

	// SummaryFile is the aggregate-mode output path. Default:
	// <dir>/rule_summary.tsv.
	SummaryFile string `json:"summary_file"`

	// TempDir hosts the per-source staging subdirectories. Default:
	// <dir>/.staging.
	TempDir string `json:"temp_dir"`
}

// Reader configures parsing of the tab-delimited inputs.
type Reader struct {
	// Delimiter is a single-character field separator. Default tab.
	Delimiter string `json:"delimiter"`

	// BatchSize caps rows per batch. Default 100000.
	BatchSize int `json:"batch_size"`

	// SampleRows bounds the rows buffered for type inference. Default 1024.
	SampleRows int `json:"sample_rows"`

	// Strict fails a file on the first malformed row instead of dropping
	// and counting it.
	Strict bool `json:"strict"`

	// Encoding optionally transcodes input bytes ("latin1"); empty means
	// UTF-8 passthrough.
	Encoding string `json:"encoding"`
}

// Rules configures the transform stage.
type Rules struct {
	ScoreColumn string  `json:"score_column"`
	ValueColumn string  `json:"value_column"`
	FlagColumn  string  `json:"flag_column"`
	TimeColumn  string  `json:"time_column"`
	T1          float64 `json:"t1"`
	T2          float64 `json:"t2"`

	// Granularity floors the time column into its bucket: month, week,
	// day, or hour. Default month.
	Granularity string `json:"granularity"`
}

// Aggregate configures the rule-hit accumulator.
type Aggregate struct {
	// RuleColumn holds space-separated rule identifiers. Default hit_rule.
	RuleColumn string `json:"rule_column"`

	// Granularity of the summary buckets. Default hour.
	Granularity string `json:"granularity"`
}

// Storage selects the analytical store backend for store mode.
type Storage struct {
	// Kind selects the backend: "sqlite" (default) or "postgres".
	Kind string `json:"kind"`

	// DSN is the backend connection string; for SQLite a file path.
	DSN string `json:"dsn"`
}

// Runtime controls concurrency.
type Runtime struct {
	// Workers bounds concurrent per-file pipelines. Default 1
	// (sequential).
	Workers int `json:"workers"`
}

// Default returns the configuration used when no file and no flags are
// given, bound to the upstream export's column names.
func Default() Config {
	tc := transform.DefaultConfig()
	return Config{
		Input: Input{
			Suffixes:       []string{".tsv", ".txt", source.ArchiveSuffix},
			MemberSuffixes: []string{".tsv", ".txt"},
		},
		Output: Output{Mode: ModePartitioned},
		Reader: Reader{
			Delimiter:  "\t",
			BatchSize:  reader.DefaultBatchSize,
			SampleRows: reader.DefaultSampleRows,
		},
		Rules: Rules{
			ScoreColumn: tc.ScoreColumn,
			ValueColumn: tc.ValueColumn,
			FlagColumn:  tc.FlagColumn,
			TimeColumn:  tc.TimeColumn,
			T1:          tc.T1,
			T2:          tc.T2,
			Granularity: string(transform.Month),
		},
		Aggregate: Aggregate{
			RuleColumn:  "hit_rule",
			Granularity: string(transform.Hour),
		},
		Storage: Storage{Kind: "sqlite"},
		Runtime: Runtime{Workers: 1},
	}
}

// Load decodes a run config file over the defaults, so absent fields keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}
