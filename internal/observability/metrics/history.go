package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HistoryMetrics contains Prometheus metrics for the detection history.
type HistoryMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	imageSize         prometheus.Histogram
	cacheTotal        *prometheus.CounterVec
	malformedTotal    prometheus.Counter
	collisionsTotal   prometheus.Counter

	collectors []prometheus.Collector
}

// NewHistoryMetrics creates and registers new history metrics.
func NewHistoryMetrics(registry prometheus.Registerer) (*HistoryMetrics, error) {
	m := &HistoryMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HistoryMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikancheck_history_operations_total",
			Help: "Total number of history store operations",
		},
		[]string{"operation", "backend", "status"}, // operation: append, list, get, delete
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ikancheck_history_operation_duration_seconds",
			Help:    "Time taken for history store operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~32s
		},
		[]string{"operation", "backend"},
	)

	m.imageSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ikancheck_history_image_bytes",
			Help:    "Size of images written to the history",
			Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor4, BucketCount10), // 1KB to ~256MB
		},
	)

	m.cacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ikancheck_history_list_cache_total",
			Help: "History listing cache lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	m.malformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ikancheck_history_malformed_records_total",
			Help: "Total number of history identifiers that could not be parsed",
		},
	)

	m.collisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ikancheck_history_identifier_collisions_total",
			Help: "Total number of identifier collisions resolved by advancing the timestamp",
		},
	)

	m.collectors = []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.imageSize,
		m.cacheTotal,
		m.malformedTotal,
		m.collisionsTotal,
	}
}

// Describe implements the Collector interface
func (m *HistoryMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HistoryMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordOperation records a history operation.
func (m *HistoryMetrics) RecordOperation(operation, backend string, d time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, backend, statusOf(err)).Inc()
	m.operationDuration.WithLabelValues(operation, backend).Observe(d.Seconds())
}

// RecordImageSize records the size of a stored image.
func (m *HistoryMetrics) RecordImageSize(n int) {
	m.imageSize.Observe(float64(n))
}

// RecordCacheLookup records a listing cache hit or miss.
func (m *HistoryMetrics) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheTotal.WithLabelValues("hit").Inc()
		return
	}
	m.cacheTotal.WithLabelValues("miss").Inc()
}

// RecordMalformed counts an identifier that could not be parsed.
func (m *HistoryMetrics) RecordMalformed() {
	m.malformedTotal.Inc()
}

// RecordCollision counts an identifier collision.
func (m *HistoryMetrics) RecordCollision() {
	m.collisionsTotal.Inc()
}
