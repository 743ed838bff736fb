package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediagate"

// Metrics tracks gateway-wide metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionHandshakes *prometheus.CounterVec

	// Descriptor metrics
	DescriptorLookups   *prometheus.CounterVec
	DescriptorRefreshes prometheus.Counter
	DescriptorsCached   prometheus.GaugeFunc

	// Chunk metrics
	ChunkReads   *prometheus.CounterVec
	ChunkLatency prometheus.Histogram
	ChunkRetries *prometheus.CounterVec
	BytesServed  prometheus.Counter

	// HTTP metrics
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
}

// New creates and registers the gateway metrics on a fresh registry.
// cached reports the current descriptor cache size and may be nil.
func New(cached func() float64) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return NewWithRegistry(registry, cached)
}

// NewWithRegistry creates and registers the gateway metrics
func NewWithRegistry(registry prometheus.Registerer, cached func() float64) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	if cached == nil {
		cached = func() float64 { return 0 }
	}

	m := &Metrics{
		SessionsActive: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live datacenter sessions",
		}),
		SessionHandshakes: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_handshakes_total",
			Help:      "Session handshakes by datacenter, kind and result",
		}, []string{"datacenter", "kind", "result"}),

		DescriptorLookups: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "descriptor_lookups_total",
			Help:      "Descriptor resolutions by result",
		}, []string{"result"}),
		DescriptorRefreshes: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "descriptor_refreshes_total",
			Help:      "Descriptors re-resolved after a stale file reference",
		}),
		DescriptorsCached: promauto.With(registry).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "descriptors_cached",
			Help:      "Number of descriptors held in the local cache",
		}, cached),

		ChunkReads: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_reads_total",
			Help:      "Remote chunk reads by result",
		}, []string{"result"}),
		ChunkLatency: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_read_seconds",
			Help:      "Remote chunk read latency",
			Buckets:   prometheus.DefBuckets,
		}),
		ChunkRetries: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_retries_total",
			Help:      "Chunk reads retried by reason",
		}, []string{"reason"}),
		BytesServed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_served_total",
			Help:      "Object bytes written to HTTP clients",
		}),

		Requests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration including streaming",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30, 120, 600},
		}),
	}
	if g, ok := registry.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler returns the /metrics handler for the registry the metrics were
// registered on
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened(dc int, kind string) {
	if m == nil {
		return
	}
	m.SessionHandshakes.WithLabelValues(strconv.Itoa(dc), kind, "ok").Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionFailed(dc int, kind string) {
	if m == nil {
		return
	}
	m.SessionHandshakes.WithLabelValues(strconv.Itoa(dc), kind, "error").Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// DescriptorLookup records a resolution; result is hit, miss, shared or error
func (m *Metrics) DescriptorLookup(result string) {
	if m == nil {
		return
	}
	m.DescriptorLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) DescriptorRefreshed() {
	if m == nil {
		return
	}
	m.DescriptorRefreshes.Inc()
}

// ChunkRead records one remote read attempt
func (m *Metrics) ChunkRead(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ChunkReads.WithLabelValues(result).Inc()
	m.ChunkLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ChunkRetry(reason string) {
	if m == nil {
		return
	}
	m.ChunkRetries.WithLabelValues(reason).Inc()
}

func (m *Metrics) Served(route string, code int, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.RequestDuration.Observe(elapsed.Seconds())
	if bytes > 0 {
		m.BytesServed.Add(float64(bytes))
	}
}
