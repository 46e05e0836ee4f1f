package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Handler struct {
	RequestsReceived *prometheus.CounterVec

	SpansDetectedTotal    *prometheus.CounterVec
	SpansAppliedTotal     *prometheus.CounterVec
	SpansIgnoredTotal     *prometheus.CounterVec
	DetectorFailuresTotal *prometheus.CounterVec
	DetectorLatency       *prometheus.HistogramVec
	RedactionLatency      *prometheus.HistogramVec

	SegmentsEmittedTotal *prometheus.CounterVec
	ChunksSkippedTotal   *prometheus.CounterVec

	BreakerTransitionsTotal *prometheus.CounterVec
	QueueDepth              *prometheus.GaugeVec
	QueueDroppedTotal       *prometheus.CounterVec
	RestartsTotal           *prometheus.CounterVec

	// Named metrics created through NewCounter and friends are cached so
	// multiple owners of the same name share one collector instead of
	// tripping duplicate registration.
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	gauges     map[string]*Gauge
}

type Options struct {
	// Additional labels necessary
}

func New(name string) (*Handler, error) {
	return &Handler{
		RequestsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_received",
			Help: "The total number of http requests received",
		}, []string{"status"}),
		SpansDetectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redact_spans_detected_total",
			Help: "The total number of candidate spans produced by detectors",
		}, []string{"filter_type"}),
		SpansAppliedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redact_spans_applied_total",
			Help: "The total number of spans written into redacted output",
		}, []string{"filter_type"}),
		SpansIgnoredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redact_spans_ignored_total",
			Help: "The total number of spans dropped by overlap resolution or post-filters",
		}, []string{"reason"}),
		DetectorFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "redact_detector_failures_total",
			Help: "The total number of detector invocations that failed",
		}, []string{"detector"}),
		DetectorLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redact_detector_latency_seconds",
			Help:    "The latency of individual detector invocations",
			Buckets: prometheus.DefBuckets,
		}, []string{"detector", "success"}),
		RedactionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redact_latency_seconds",
			Help:    "The end to end latency of redaction calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		SegmentsEmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_segments_emitted_total",
			Help: "The total number of segments flushed by the stream segmenter",
		}, []string{"mode"}),
		ChunksSkippedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_chunks_skipped_total",
			Help: "The total number of stream chunks skipped instead of processed",
		}, []string{"reason"}),
		BreakerTransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_breaker_transitions_total",
			Help: "The total number of circuit breaker state transitions",
		}, []string{"from", "to"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guard_queue_depth",
			Help: "The current depth of the backpressure queue",
		}, []string{"queue"}),
		QueueDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_queue_dropped_total",
			Help: "The total number of items dropped by the backpressure queue",
		}, []string{"queue"}),
		RestartsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_supervisor_restarts_total",
			Help: "The total number of supervised worker restarts",
		}, []string{"child"}),
	}, nil
}

// IncSpansDetected increments the detected spans counter
func (h *Handler) IncSpansDetected(filterType string) {
	h.SpansDetectedTotal.WithLabelValues(filterType).Inc()
}

// IncSpansApplied increments the applied spans counter
func (h *Handler) IncSpansApplied(filterType string) {
	h.SpansAppliedTotal.WithLabelValues(filterType).Inc()
}

// IncSpansIgnored increments the ignored spans counter
func (h *Handler) IncSpansIgnored(reason string) {
	h.SpansIgnoredTotal.WithLabelValues(reason).Inc()
}

// IncDetectorFailures increments the detector failure counter
func (h *Handler) IncDetectorFailures(detector string) {
	h.DetectorFailuresTotal.WithLabelValues(detector).Inc()
}

// ObserveDetectorLatency records the latency of one detector invocation
func (h *Handler) ObserveDetectorLatency(detector string, duration time.Duration, success bool) {
	successStr := "true"
	if !success {
		successStr = "false"
	}
	h.DetectorLatency.WithLabelValues(detector, successStr).Observe(duration.Seconds())
}

// ObserveRedactionLatency records the latency of one redaction call
func (h *Handler) ObserveRedactionLatency(mode string, duration time.Duration) {
	h.RedactionLatency.WithLabelValues(mode).Observe(duration.Seconds())
}

// IncSegmentsEmitted increments the emitted segments counter
func (h *Handler) IncSegmentsEmitted(mode string) {
	h.SegmentsEmittedTotal.WithLabelValues(mode).Inc()
}

// IncChunksSkipped increments the skipped chunks counter
func (h *Handler) IncChunksSkipped(reason string) {
	h.ChunksSkippedTotal.WithLabelValues(reason).Inc()
}

// IncBreakerTransitions increments the breaker transition counter
func (h *Handler) IncBreakerTransitions(from, to string) {
	h.BreakerTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetQueueDepth sets the backpressure queue depth gauge
func (h *Handler) SetQueueDepth(queue string, depth int) {
	h.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// IncQueueDropped increments the queue drop counter
func (h *Handler) IncQueueDropped(queue string) {
	h.QueueDroppedTotal.WithLabelValues(queue).Inc()
}

// IncRestarts increments the supervisor restart counter
func (h *Handler) IncRestarts(child string) {
	h.RestartsTotal.WithLabelValues(child).Inc()
}

// Counter represents a Prometheus counter
type Counter struct {
	*prometheus.CounterVec
}

// Histogram represents a Prometheus histogram
type Histogram struct {
	*prometheus.HistogramVec
}

// Gauge represents a Prometheus gauge
type Gauge struct {
	*prometheus.GaugeVec
}

// NewCounter creates or returns the named counter metric
func (h *Handler) NewCounter(name, help string) *Counter {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.counters == nil {
		h.counters = make(map[string]*Counter)
	}
	if c, ok := h.counters[name]; ok {
		return c
	}
	counter := promauto.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, []string{})
	c := &Counter{counter}
	h.counters[name] = c
	return c
}

// NewHistogram creates or returns the named histogram metric
func (h *Handler) NewHistogram(name, help string) *Histogram {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.histograms == nil {
		h.histograms = make(map[string]*Histogram)
	}
	if m, ok := h.histograms[name]; ok {
		return m
	}
	histogram := promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: prometheus.DefBuckets,
	}, []string{})
	m := &Histogram{histogram}
	h.histograms[name] = m
	return m
}

// NewGauge creates or returns the named gauge metric
func (h *Handler) NewGauge(name, help string) *Gauge {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gauges == nil {
		h.gauges = make(map[string]*Gauge)
	}
	if g, ok := h.gauges[name]; ok {
		return g
	}
	gauge := promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, []string{})
	g := &Gauge{gauge}
	h.gauges[name] = g
	return g
}

// Inc increments the counter
func (c *Counter) Inc() {
	c.CounterVec.WithLabelValues().Inc()
}

// Add adds the given value to the counter
func (c *Counter) Add(delta float64) {
	c.CounterVec.WithLabelValues().Add(delta)
}

// Observe adds a single observation to the histogram
func (h *Histogram) Observe(value float64) {
	h.HistogramVec.WithLabelValues().Observe(value)
}

// Set sets the gauge value
func (g *Gauge) Set(value float64) {
	g.GaugeVec.WithLabelValues().Set(value)
}

// Inc increments the gauge
func (g *Gauge) Inc() {
	g.GaugeVec.WithLabelValues().Inc()
}

// Dec decrements the gauge
func (g *Gauge) Dec() {
	g.GaugeVec.WithLabelValues().Dec()
}
