package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ClassifierMetrics contains Prometheus metrics for model inference.
type ClassifierMetrics struct {
	predictionDuration prometheus.Histogram
	predictionsTotal   *prometheus.CounterVec
	modelLoadDuration  prometheus.Histogram
	modelLoadsTotal    *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewClassifierMetrics creates and registers new classifier metrics.
func NewClassifierMetrics(registry prometheus.Registerer) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ClassifierMetrics) initMetrics() {
	m.predictionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ikancheck_prediction_duration_seconds",
			Help:    "Time taken to preprocess an image and run inference",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~20s
		},
	)

	m.predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikancheck_predictions_total",
			Help: "Total number of predictions",
		},
		[]string{"status"}, // status: success, error
	)

	m.modelLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ikancheck_model_load_duration_seconds",
			Help:    "Time taken to load the classifier model",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		},
	)

	m.modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikancheck_model_loads_total",
			Help: "Total number of model load attempts",
		},
		[]string{"status"},
	)

	m.collectors = []prometheus.Collector{
		m.predictionDuration,
		m.predictionsTotal,
		m.modelLoadDuration,
		m.modelLoadsTotal,
	}
}

// Describe implements the Collector interface
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordPrediction records one prediction and its outcome.
func (m *ClassifierMetrics) RecordPrediction(d time.Duration, err error) {
	m.predictionDuration.Observe(d.Seconds())
	m.predictionsTotal.WithLabelValues(statusOf(err)).Inc()
}

// RecordModelLoad records one model load attempt.
func (m *ClassifierMetrics) RecordModelLoad(d time.Duration, err error) {
	m.modelLoadDuration.Observe(d.Seconds())
	m.modelLoadsTotal.WithLabelValues(statusOf(err)).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
