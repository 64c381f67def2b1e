package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offliner",
			Name:      "download_state_transitions_total",
			Help:      "Count of task state transitions dispatched by the manager.",
		},
		[]string{"state"},
	)

	DownloadRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "offliner",
			Name:      "download_retries_total",
			Help:      "Download attempts retried after a recoverable failure.",
		},
	)

	ActionStoreWriteLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "offliner",
			Name:      "action_store_write_seconds",
			Help:      "Latency of persisted action set rewrites.",
		},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "offliner",
			Name:      "active_downloads",
			Help:      "Number of tasks with a running download or removal worker.",
		},
	)
)

// Register registers the offliner metrics into the default registry.
func Register() {
	prometheus.MustRegister(StateTransitions, DownloadRetries, ActionStoreWriteLatency, ActiveDownloads)
}
