package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type telemetry struct {
	// Total counters
	runsCounter      *prometheus.CounterVec
	snapshotsCounter prometheus.Counter
	skippedCounter   prometheus.Counter
	failedCounter    *prometheus.CounterVec
	prunedCounter    prometheus.Counter
	skippedChunks    prometheus.Counter
	skippedLogs      prometheus.Counter

	// Gauges
	blockHeight    prometheus.Gauge
	referencePrice prometheus.Gauge

	// Histograms
	runDuration   prometheus.Histogram
	tokenDuration prometheus.Histogram
}

// newTelemetry registers collectors on reg. A nil reg yields unregistered collectors.
func newTelemetry(reg prometheus.Registerer) *telemetry {
	factory := promauto.With(reg)
	return &telemetry{
		runsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondingcurve_indexer_runs",
			Help: "The total number of snapshot runs by outcome",
		}, []string{"outcome"}),
		snapshotsCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondingcurve_indexer_snapshots",
			Help: "The total number of persisted snapshots",
		}),
		skippedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondingcurve_indexer_tokens_skipped",
			Help: "The total number of tokens skipped because they have no pool",
		}),
		failedCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondingcurve_indexer_tokens_failed",
			Help: "The total number of tokens that failed by stage",
		}, []string{"stage"}),
		prunedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondingcurve_indexer_snapshots_pruned",
			Help: "The total number of snapshots deleted by retention",
		}),
		skippedChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondingcurve_indexer_volume_chunks_skipped",
			Help: "The total number of log chunks skipped after a failed retry",
		}),
		skippedLogs: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondingcurve_indexer_volume_logs_skipped",
			Help: "The total number of undecodable trade logs",
		}),
		blockHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bondingcurve_indexer_block_height",
			Help: "The head block height seen by the latest run",
		}),
		referencePrice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bondingcurve_indexer_reference_price_usd",
			Help: "The native asset USD price used by the latest run (0 when unknown)",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bondingcurve_indexer_run_duration_seconds",
			Help:    "Snapshot run duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		tokenDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bondingcurve_indexer_token_duration_seconds",
			Help:    "Per-token processing duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}
