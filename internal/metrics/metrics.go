package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server metrics
var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbor_sessions_active",
			Help: "Number of connected sessions",
		},
	)

	DeltasSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbor_deltas_sent_total",
			Help: "Total deltas delivered to sessions",
		},
		[]string{"kind"},
	)

	DeltasDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_deltas_dropped_total",
			Help: "Deltas dropped for slow sessions (forces a resync)",
		},
	)

	FsEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_fs_events_total",
			Help: "Raw filesystem notifications received, before debouncing",
		},
	)

	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbor_operations_total",
			Help: "File operations executed",
		},
		[]string{"kind", "outcome"},
	)

	VcsRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbor_vcs_refresh_duration_seconds",
			Help:    "Version-control bulk status query duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		},
	)

	TreeExpands = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arbor_tree_expands_total",
			Help: "Directory expansions served",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsActive,
		DeltasSent,
		DeltasDropped,
		FsEvents,
		Operations,
		VcsRefreshDuration,
		TreeExpands,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
