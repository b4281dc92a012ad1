package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the ingest pipeline's Prometheus instrumentation.
type Metrics struct {
	EventsTotal    *prometheus.CounterVec
	AnomaliesTotal prometheus.Counter
	AlertsTotal    *prometheus.CounterVec
	AnomalyScores  prometheus.Histogram
	StoreFailures  prometheus.Counter
}

// NewMetrics registers the pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decoynet_events_total",
			Help: "Attack events ingested, by attack type and severity.",
		}, []string{"attack_type", "severity"}),
		AnomaliesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "decoynet_anomalies_total",
			Help: "Events whose combined anomaly score crossed the threshold.",
		}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decoynet_alerts_total",
			Help: "Security alerts raised, by severity.",
		}, []string{"severity"}),
		AnomalyScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "decoynet_anomaly_score",
			Help:    "Distribution of combined anomaly scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "decoynet_store_failures_total",
			Help: "Synchronous event persistence failures.",
		}),
	}
}
