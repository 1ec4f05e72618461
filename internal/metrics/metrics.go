package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "darkforge"

// Decrypt outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeMalformed    = "malformed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeError        = "error"
)

// Metrics owns a private registry so several nodes can live in one process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	txs             *prometheus.CounterVec
	height          prometheus.Gauge
	decryptRequests *prometheus.CounterVec
	decryptHandles  prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		txs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "txs_total",
			Help:      "Delivered transactions by type and result code.",
		}, []string{"type", "code"}),
		height: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "height",
			Help:      "Last finalized block height.",
		}),
		decryptRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relayer",
			Name:      "decrypt_requests_total",
			Help:      "User decrypt requests by outcome.",
		}, []string{"outcome"}),
		decryptHandles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relayer",
			Name:      "decrypted_handles_total",
			Help:      "Handles sealed back to users.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Relayer API requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Relayer API request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveTx(typ string, code uint32) {
	if m == nil {
		return
	}
	if typ == "" {
		typ = "unknown"
	}
	m.txs.WithLabelValues(typ, strconv.FormatUint(uint64(code), 10)).Inc()
}

func (m *Metrics) SetHeight(h int64) {
	if m == nil {
		return
	}
	m.height.Set(float64(h))
}

func (m *Metrics) ObserveDecrypt(outcome string, handles int) {
	if m == nil {
		return
	}
	m.decryptRequests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.decryptHandles.Add(float64(handles))
	}
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
