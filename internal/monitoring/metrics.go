package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the extraction pipeline. Registered on the
// default registry and served from the /metrics endpoint.
var (
	DocumentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docintel_documents_processed_total",
		Help: "Documents processed by the pipeline, by provider and outcome.",
	}, []string{"provider", "status"})

	ExtractionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docintel_extraction_latency_seconds",
		Help:    "Latency of provider extraction calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"provider"})

	DriftAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docintel_drift_alerts_total",
		Help: "Drift alerts raised, by provider and alert type.",
	}, []string{"provider", "type"})

	RollingAccuracy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docintel_rolling_accuracy",
		Help: "Rolling extraction accuracy over the drift window.",
	}, []string{"provider"})

	FieldAccuracy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docintel_field_accuracy",
		Help: "Rolling per-field extraction accuracy over the drift window.",
	}, []string{"provider", "field"})

	DLQDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docintel_dlq_depth",
		Help: "Entries currently in the dead letter queue.",
	})
)
