package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for classification decisions.
type PipelineMetrics struct {
	decisionsTotal      *prometheus.CounterVec
	acceptedLabelsTotal *prometheus.CounterVec
	inferenceFailures   prometheus.Counter
	recordFailures      prometheus.Counter
	confidence          *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewPipelineMetrics creates and registers new pipeline metrics.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikancheck_decisions_total",
			Help: "Total number of classification decisions by outcome",
		},
		[]string{"outcome"}, // outcome: accepted, rejected_not_subject, rejected_low_confidence
	)

	m.acceptedLabelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikancheck_accepted_labels_total",
			Help: "Total number of accepted detections by label",
		},
		[]string{"label"},
	)

	m.inferenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ikancheck_inference_failures_total",
			Help: "Total number of classification requests that failed during inference",
		},
	)

	m.recordFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ikancheck_history_write_failures_total",
			Help: "Total number of accepted detections that could not be recorded",
		},
	)

	m.confidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ikancheck_decision_confidence",
			Help:    "Top confidence of each decision",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"outcome"},
	)

	m.collectors = []prometheus.Collector{
		m.decisionsTotal,
		m.acceptedLabelsTotal,
		m.inferenceFailures,
		m.recordFailures,
		m.confidence,
	}
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordDecision records a decision outcome. label is only counted for
// accepted decisions and may be empty otherwise.
func (m *PipelineMetrics) RecordDecision(outcome, label string, confidence float64) {
	m.decisionsTotal.WithLabelValues(outcome).Inc()
	m.confidence.WithLabelValues(outcome).Observe(confidence)
	if label != "" {
		m.acceptedLabelsTotal.WithLabelValues(label).Inc()
	}
}

// RecordInferenceFailure counts a request that failed before a decision.
func (m *PipelineMetrics) RecordInferenceFailure() {
	m.inferenceFailures.Inc()
}

// RecordHistoryWriteFailure counts an accepted detection that was not stored.
func (m *PipelineMetrics) RecordHistoryWriteFailure() {
	m.recordFailures.Inc()
}
