// Command fraudprep prepares raw transaction exports for analysis: it walks
// an input tree of tab-delimited files and archives, cleans and enriches the
// rows, and lands them as partitioned Parquet, per-source Parquet files,
// analytical store tables, or a rule-hit summary, depending on the mode.
//
// Runs are idempotent: a source whose output already exists is skipped, so
// an interrupted run can simply be restarted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chando-ra/fraudprep/internal/config"
	"github.com/Chando-ra/fraudprep/internal/logging"
	"github.com/Chando-ra/fraudprep/internal/metrics"
	"github.com/Chando-ra/fraudprep/internal/metrics/prompush"
	"github.com/Chando-ra/fraudprep/internal/runner"

	// register all backends with the storage factory.
	// config specifies which to use but we build in support for all of them.
	_ "github.com/Chando-ra/fraudprep/internal/storage/all"
)

func main() {
	var (
		cfgPath     string
		input       string
		output      string
		mode        string
		granularity string
		t1          float64
		t2          float64
		batchSize   int
		workers     int
		strict      bool
		tempDir     string
		storeKind   string
		storeDSN    string
		validate    bool

		metricsBackend string
		pushgatewayURL string
	)

	flag.StringVar(&cfgPath, "config", "", "run config JSON path (flags override file values)")
	flag.StringVar(&input, "input", "", "input directory or file")
	flag.StringVar(&output, "output", "", "output directory")
	flag.StringVar(&mode, "mode", "", "run mode: partitioned, single, store, aggregate")
	flag.StringVar(&granularity, "granularity", "", "time bucket granularity: month, week, day, hour")
	flag.Float64Var(&t1, "t1", 0, "lower score threshold")
	flag.Float64Var(&t2, "t2", 0, "upper score threshold")
	flag.IntVar(&batchSize, "batch-size", 0, "rows per batch")
	flag.IntVar(&workers, "workers", 0, "concurrent file pipelines")
	flag.BoolVar(&strict, "strict", false, "fail a file on the first malformed row")
	flag.StringVar(&tempDir, "temp-dir", "", "staging directory (default <output>/.staging)")
	flag.StringVar(&storeKind, "store-kind", "", "store backend: sqlite, postgres")
	flag.StringVar(&storeDSN, "store-dsn", "", "store connection string")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.StringVar(&metricsBackend, "metrics-backend", "none", "metrics backend to use (pushgateway, none)")
	flag.StringVar(&pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()
	logging.Setup(*verbose)

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			fatalf("%v", err)
		}
	}
	applyFlags(&cfg, flagOverrides{
		input: input, output: output, mode: mode, granularity: granularity,
		t1: t1, t2: t2, batchSize: batchSize, workers: workers, strict: strict,
		tempDir: tempDir, storeKind: storeKind, storeDSN: storeDSN,
	})

	issues := cfg.Validate()
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fatalf("configuration is invalid")
	}
	if validate {
		fmt.Fprintln(os.Stderr, "configuration is valid")
		return
	}

	// Decide metrics backend: flag → env → disabled.
	switch metricsBackend {
	case "pushgateway":
		gwURL := pushgatewayURL
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("fraudprep", gwURL)
		if err != nil {
			log.Warn().Err(err).Msg("metrics backend init failed, metrics disabled")
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Warn().Err(err).Msg("metrics flush failed")
				}
			}()
		}
	case "", "none":
		// metrics disabled; nop backend remains
	default:
		log.Warn().Str("backend", metricsBackend).Msg("unknown metrics backend, metrics disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	summary, err := runner.New(cfg).Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}

	for _, res := range summary.Results {
		if res.Outcome == runner.OutcomeSkippedError {
			fmt.Fprintf(os.Stderr, "skipped %s: %v\n", res.Path, res.Err)
		}
	}
	fmt.Printf("processed=%d skipped-exists=%d skipped-error=%d rows=%d dropped=%d in %s\n",
		summary.Processed, summary.SkippedExists, summary.SkippedError,
		summary.Rows, summary.Dropped, time.Since(start).Truncate(time.Millisecond))
}

type flagOverrides struct {
	input, output, mode, granularity string
	t1, t2                           float64
	batchSize, workers               int
	strict                           bool
	tempDir, storeKind, storeDSN     string
}

// applyFlags layers non-zero flag values over the loaded config.
func applyFlags(cfg *config.Config, f flagOverrides) {
	if f.input != "" {
		cfg.Input.Path = f.input
	}
	if f.output != "" {
		cfg.Output.Dir = f.output
	}
	if f.mode != "" {
		cfg.Output.Mode = f.mode
	}
	if f.granularity != "" {
		cfg.Rules.Granularity = f.granularity
	}
	if f.t1 != 0 {
		cfg.Rules.T1 = f.t1
	}
	if f.t2 != 0 {
		cfg.Rules.T2 = f.t2
	}
	if f.batchSize != 0 {
		cfg.Reader.BatchSize = f.batchSize
	}
	if f.workers != 0 {
		cfg.Runtime.Workers = f.workers
	}
	if f.strict {
		cfg.Reader.Strict = true
	}
	if f.tempDir != "" {
		cfg.Output.TempDir = f.tempDir
	}
	if f.storeKind != "" {
		cfg.Storage.Kind = f.storeKind
	}
	if f.storeDSN != "" {
		cfg.Storage.DSN = f.storeDSN
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
