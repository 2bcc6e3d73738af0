package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline and the broker consumer.
type Metrics struct {
	DownloadDuration prometheus.Histogram
	ParseDuration    prometheus.Histogram
	InsertDuration   prometheus.Histogram
	FileSizeBytes    prometheus.Gauge
	NetworkBytes     prometheus.Counter

	// Consumer metrics.
	MessagesConsumed  prometheus.Counter
	MessageFailures   *prometheus.CounterVec // labels: stage={message,download,parse,store}
	ConsumerConnected prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.DownloadDuration,
		m.ParseDuration,
		m.InsertDuration,
		m.FileSizeBytes,
		m.NetworkBytes,
		m.MessagesConsumed,
		m.MessageFailures,
		m.ConsumerConnected,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "file_download_seconds",
			Help:    "Time spent downloading a file in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ParseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parse_seconds",
			Help:    "Time spent decoding and canonicalizing a file in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		InsertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "db_insert_seconds",
			Help:    "Time spent inserting a batch into ClickHouse in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		FileSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "file_size_bytes",
			Help: "Size of the most recently processed file in bytes.",
		}),
		NetworkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "network_bytes_total",
			Help: "Total network bytes downloaded by the service.",
		}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_consumed_total",
			Help: "Total messages read from the broker queue.",
		}),
		MessageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "message_failures_total",
			Help: "Total messages that failed processing, by failing stage.",
		}, []string{"stage"}),
		ConsumerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consumer_connected",
			Help: "1 when the broker consumer is subscribed, 0 otherwise.",
		}),
	}
}
