// This file adds a lightweight linter/validator for Config values. It
// performs static checks over a decoded Config and returns a list of issues
// (errors and warnings) that callers can surface in the CLI or tests.
package config

import (
	"fmt"
	"strings"

	"github.com/Chando-ra/fraudprep/internal/transform"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that should be surfaced to users
	// but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "output.mode"). Message is
// human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a
// single error in contexts that expect one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue in the slice is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate performs static validation of a Config. It does not mutate the
// config; callers decide whether warnings are fatal.
func (c Config) Validate() []Issue {
	var issues []Issue

	if strings.TrimSpace(c.Input.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.path",
			Message:  "input.path must not be empty",
		})
	}
	for i, s := range c.Input.Suffixes {
		if !strings.HasPrefix(s, ".") {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fmt.Sprintf("input.suffixes[%d]", i),
				Message:  fmt.Sprintf("suffix %q has no leading dot and will match nothing", s),
			})
		}
	}

	issues = append(issues, c.validateOutput()...)
	issues = append(issues, c.validateReader()...)
	issues = append(issues, c.validateRules()...)

	if !transform.Granularity(c.Aggregate.Granularity).Valid() {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "aggregate.granularity",
			Message:  fmt.Sprintf("unknown granularity %q (want month, week, day, or hour)", c.Aggregate.Granularity),
		})
	}
	if strings.TrimSpace(c.Aggregate.RuleColumn) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "aggregate.rule_column",
			Message:  "aggregate.rule_column must not be empty",
		})
	}

	if c.Runtime.Workers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.workers",
			Message:  "workers must not be negative",
		})
	}

	return issues
}

func (c Config) validateOutput() []Issue {
	var issues []Issue

	switch c.Output.Mode {
	case ModePartitioned, ModeSingle, ModeStore, ModeAggregate:
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.mode",
			Message:  "output.mode must not be empty",
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.mode",
			Message:  fmt.Sprintf("unknown mode %q (want partitioned, single, store, or aggregate)", c.Output.Mode),
		})
	}

	if c.Output.Mode != ModeStore && strings.TrimSpace(c.Output.Dir) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.dir",
			Message:  "output.dir must not be empty",
		})
	}

	if c.Output.Mode == ModeStore {
		known := map[string]struct{}{"sqlite": {}, "postgres": {}}
		if _, ok := known[c.Storage.Kind]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "storage.kind",
				Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", c.Storage.Kind),
			})
		}
		if strings.TrimSpace(c.Storage.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.dsn",
				Message:  "store mode requires a non-empty storage.dsn",
			})
		}
	}

	return issues
}

func (c Config) validateReader() []Issue {
	var issues []Issue

	if len(c.Reader.Delimiter) > 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "reader.delimiter",
			Message:  fmt.Sprintf("delimiter %q must be a single byte", c.Reader.Delimiter),
		})
	}
	if c.Reader.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "reader.batch_size",
			Message:  "batch_size must not be negative",
		})
	}
	if c.Reader.BatchSize > 0 && c.Reader.BatchSize < 1000 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "reader.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; very small batches hurt throughput", c.Reader.BatchSize),
		})
	}
	switch c.Reader.Encoding {
	case "", "latin1":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "reader.encoding",
			Message:  fmt.Sprintf("unsupported encoding %q (want latin1 or empty for UTF-8)", c.Reader.Encoding),
		})
	}

	return issues
}

func (c Config) validateRules() []Issue {
	var issues []Issue

	if !(c.Rules.T1 < c.Rules.T2) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "rules.t1",
			Message:  fmt.Sprintf("thresholds must be ascending: t1=%v t2=%v", c.Rules.T1, c.Rules.T2),
		})
	}
	if !transform.Granularity(c.Rules.Granularity).Valid() {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "rules.granularity",
			Message:  fmt.Sprintf("unknown granularity %q (want month, week, day, or hour)", c.Rules.Granularity),
		})
	}
	for _, col := range []struct {
		path, name string
	}{
		{"rules.score_column", c.Rules.ScoreColumn},
		{"rules.value_column", c.Rules.ValueColumn},
		{"rules.flag_column", c.Rules.FlagColumn},
		{"rules.time_column", c.Rules.TimeColumn},
	} {
		if strings.TrimSpace(col.name) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     col.path,
				Message:  "column name must not be empty",
			})
		}
	}

	return issues
}
