// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "storyteller"

// MetricsCollector holds the Prometheus vectors used across the service
type MetricsCollector struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	generations      *prometheus.CounterVec
	generationTime   *prometheus.HistogramVec
	activeStreams    prometheus.Gauge
	streamChunks     prometheus.Counter
	tokens           *prometheus.CounterVec
	errors           *prometheus.CounterVec
	websocketClients prometheus.Gauge
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the collector registered on the default registry
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// NewMetricsCollector registers a fresh set of vectors on reg
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "path"}),
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "story",
			Name:      "generation_total",
			Help:      "Story generations by terminal state",
		}, []string{"provider", "model", "state"}),
		generationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "story",
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock time from request to terminal state",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"provider", "model"}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "story",
			Name:      "active_streams",
			Help:      "Generations currently relaying output",
		}),
		streamChunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "story",
			Name:      "stream_chunks_total",
			Help:      "Text chunks relayed to clients",
		}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Tokens reported or estimated for provider calls",
		}, []string{"provider", "model", "type"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Errors by type and component",
		}, []string{"type", "component"}),
		websocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected studio sessions",
		}),
	}
}

// RecordAPIRequest records one finished HTTP request
func (m *MetricsCollector) RecordAPIRequest(method, path string, statusCode int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records a generation reaching its terminal state
func (m *MetricsCollector) RecordGeneration(provider, model, state string, duration time.Duration) {
	m.generations.WithLabelValues(provider, model, state).Inc()
	m.generationTime.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordTokens adds prompt and completion token counts
func (m *MetricsCollector) RecordTokens(provider, model string, prompt, completion int) {
	if prompt > 0 {
		m.tokens.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.tokens.WithLabelValues(provider, model, "completion").Add(float64(completion))
	}
}

// StreamStarted marks a generation entering STREAMING
func (m *MetricsCollector) StreamStarted() {
	m.activeStreams.Inc()
}

// StreamFinished balances StreamStarted
func (m *MetricsCollector) StreamFinished() {
	m.activeStreams.Dec()
}

// RecordChunk counts one relayed chunk
func (m *MetricsCollector) RecordChunk() {
	m.streamChunks.Inc()
}

// RecordError counts an error of errorType raised in component
func (m *MetricsCollector) RecordError(errorType, component string) {
	m.errors.WithLabelValues(errorType, component).Inc()
}

// WebSocketConnected tracks a studio session opening
func (m *MetricsCollector) WebSocketConnected() {
	m.websocketClients.Inc()
}

// WebSocketDisconnected tracks a studio session closing
func (m *MetricsCollector) WebSocketDisconnected() {
	m.websocketClients.Dec()
}
