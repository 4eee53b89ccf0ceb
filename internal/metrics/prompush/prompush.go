// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Runs are batch jobs, so metrics are pushed to a Pushgateway at the end of
// the run rather than exposed on a scrape endpoint. All Prometheus-specific
// dependencies live here so the rest of the project stays decoupled from the
// metric system.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/Chando-ra/fraudprep/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	fileCounter  *prometheus.CounterVec // "fraudprep_files_total"
	fileDuration *prometheus.SummaryVec // "fraudprep_file_duration_seconds"
	rowCounter   *prometheus.CounterVec // "fraudprep_rows_total"
}

// NewBackend constructs a Pushgateway backend. jobName is the Pushgateway
// "job" grouping key; gatewayURL is the base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "fraudprep"
	}

	reg := prometheus.NewRegistry()

	fileCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudprep_files_total",
			Help: "Finished input files, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	fileDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "fraudprep_file_duration_seconds",
			Help:       "Wall time per input file in seconds, partitioned by outcome.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"outcome"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudprep_rows_total",
			Help: "Row-level counts per kind (landed, dropped).",
		},
		[]string{"kind"},
	)

	for _, c := range []prometheus.Collector{fileCounter, fileDuration, rowCounter} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		fileCounter:  fileCounter,
		fileDuration: fileDuration,
		rowCounter:   rowCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "fraudprep_files_total":
		b.fileCounter.WithLabelValues(labels["outcome"]).Add(delta)
	case "fraudprep_rows_total":
		b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "fraudprep_file_duration_seconds" {
		return
	}
	b.fileDuration.WithLabelValues(labels["outcome"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
