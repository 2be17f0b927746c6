package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedPath labels requests that did not match a registered route, so
// scanners probing random URLs stay one series.
const unmatchedPath = "unmatched"

// HTTPMetrics holds the Prometheus collectors for API traffic. Every series is
// labelled by the registered route, never the raw URL.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inflight  prometheus.Gauge
	respSize  *prometheus.HistogramVec
	uploadLen *prometheus.HistogramVec
}

// NewHTTPMetrics registers the collectors on reg. Registering twice on the
// same registry (several routers in one process) reuses the first set.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modhub",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modhub",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modhub",
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served.",
		}),
		respSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modhub",
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10), // 256B..64MiB
		}, []string{"method", "path"}),
		uploadLen: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modhub",
			Name:      "http_upload_size_bytes",
			Help:      "Declared body size of multipart uploads in bytes.",
			Buckets:   prometheus.ExponentialBuckets(64<<10, 4, 8), // 64KiB..1GiB
		}, []string{"path"}),
	}
	m.requests = register(reg, m.requests)
	m.latency = register(reg, m.latency)
	m.inflight = register(reg, m.inflight)
	m.respSize = register(reg, m.respSize)
	m.uploadLen = register(reg, m.uploadLen)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Handler instruments each request. Hijacked connections (the websocket
// upgrade) report no response size and are left out of that histogram.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			m.respSize.WithLabelValues(method, path).Observe(float64(size))
		}
		if c.Request.ContentLength > 0 && c.ContentType() == "multipart/form-data" {
			m.uploadLen.WithLabelValues(path).Observe(float64(c.Request.ContentLength))
		}
	}
}

// Metrics instruments requests with collectors on the default registry.
func Metrics() gin.HandlerFunc {
	return NewHTTPMetrics(prometheus.DefaultRegisterer).Handler()
}
