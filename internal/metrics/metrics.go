// Package metrics holds the Prometheus instruments of the remuxer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Stream metrics
	ActiveStreams   prometheus.Gauge
	StreamsStarted  prometheus.Counter
	StreamsRejected *prometheus.CounterVec

	// Tag metrics
	TagsProcessed *prometheus.CounterVec
	TagsDropped   *prometheus.CounterVec
	QueueDepth    prometheus.Gauge

	// Output metrics
	InitSegments    prometheus.Counter
	SegmentsCreated prometheus.Counter
	SegmentDuration prometheus.Histogram
	SegmentSize     prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg. A nil reg registers
// with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		// Stream metrics
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "remux_active_streams",
			Help: "Number of streams currently being remuxed",
		}),
		StreamsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "remux_streams_started_total",
			Help: "Total number of streams started",
		}),
		StreamsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remux_streams_rejected_total",
				Help: "Total number of streams rejected for a configuration fault",
			},
			[]string{"reason"},
		),

		// Tag metrics
		TagsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remux_tags_processed_total",
				Help: "Total number of FLV tags processed",
			},
			[]string{"type"}, // audio, video, script or encryption
		),
		TagsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remux_tags_dropped_total",
				Help: "Total number of FLV tags dropped",
			},
			[]string{"reason"},
		),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "remux_queue_depth",
			Help: "Number of tags waiting in the remuxer queues",
		}),

		// Output metrics
		InitSegments: f.NewCounter(prometheus.CounterOpts{
			Name: "remux_init_segments_total",
			Help: "Total number of initialization segments written",
		}),
		SegmentsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "remux_segments_created_total",
			Help: "Total number of media segments written",
		}),
		SegmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "remux_segment_duration_seconds",
			Help:    "Duration of media segments",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 2, 5, 10},
		}),
		SegmentSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "remux_segment_size_bytes",
			Help:    "Size of media segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}),

		// HTTP metrics
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remux_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remux_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordTag counts a processed tag
func (m *Metrics) RecordTag(tagType string) {
	if m == nil {
		return
	}
	m.TagsProcessed.WithLabelValues(tagType).Inc()
}

// RecordDrop counts a dropped tag
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.TagsDropped.WithLabelValues(reason).Inc()
}

// RecordRejected counts a stream stopped by a configuration fault
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.StreamsRejected.WithLabelValues(reason).Inc()
}

// RecordQueueDepth sets the current queue depth
func (m *Metrics) RecordQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordInit counts a written initialization segment
func (m *Metrics) RecordInit() {
	if m == nil {
		return
	}
	m.InitSegments.Inc()
}

// RecordSegment records a written media segment
func (m *Metrics) RecordSegment(seconds float64, size int) {
	if m == nil {
		return
	}
	m.SegmentsCreated.Inc()
	m.SegmentDuration.Observe(seconds)
	m.SegmentSize.Observe(float64(size))
}

// StreamStarted records a new stream
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.StreamsStarted.Inc()
	m.ActiveStreams.Inc()
}

// StreamEnded records a finished stream
func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(seconds)
}
