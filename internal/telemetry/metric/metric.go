// Package metric exposes the persistence engine's Prometheus metrics.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all engine metrics behind a dedicated Prometheus
// registry so tests can create isolated instances.
type Registry struct {
	reg *prometheus.Registry

	// TxnsAppended counts records appended to the transaction log.
	TxnsAppended prometheus.Counter

	// FsyncDuration observes Commit fsync latency in seconds.
	FsyncDuration prometheus.Histogram

	// SnapshotsTaken counts snapshots written.
	SnapshotsTaken prometheus.Counter

	// SnapshotSize tracks the size in bytes of the last snapshot.
	SnapshotSize prometheus.Gauge

	// RestoreDuration observes full restore time in seconds.
	RestoreDuration prometheus.Histogram

	// NodeCount tracks the number of nodes after restore and snapshot.
	NodeCount prometheus.Gauge
}

// NewRegistry creates and registers the engine metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		TxnsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cypress",
			Subsystem: "txnlog",
			Name:      "records_appended_total",
			Help:      "Transaction records appended to the log.",
		}),
		FsyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cypress",
			Subsystem: "txnlog",
			Name:      "fsync_duration_seconds",
			Help:      "Latency of commit fsyncs.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		SnapshotsTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cypress",
			Subsystem: "snapshot",
			Name:      "taken_total",
			Help:      "Snapshots written to disk.",
		}),
		SnapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cypress",
			Subsystem: "snapshot",
			Name:      "size_bytes",
			Help:      "Size of the most recent snapshot.",
		}),
		RestoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cypress",
			Subsystem: "restore",
			Name:      "duration_seconds",
			Help:      "Time to restore state from snapshot and log.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		NodeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cypress",
			Subsystem: "tree",
			Name:      "node_count",
			Help:      "Nodes held in the in-memory tree.",
		}),
	}

	reg.MustRegister(
		r.TxnsAppended,
		r.FsyncDuration,
		r.SnapshotsTaken,
		r.SnapshotSize,
		r.RestoreDuration,
		r.NodeCount,
	)
	return r
}

// Handler returns the HTTP handler serving this registry in Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
