package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pylonproxy/pylon/internal/httpx"
)

// Metrics holds the process-wide request counters and latency histogram,
// labelled by the classified api identifier rather than a static route
// name since Pylon has exactly one route table: the downstream's own.
type Metrics struct {
	Requests            *prometheus.CounterVec
	Latency             *prometheus.HistogramVec
	RateLimitRejections *prometheus.CounterVec
	QueueDepth          prometheus.Gauge
	SSEConnections      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pylon_http_requests_total",
			Help: "Total HTTP requests proxied by Pylon",
		}, []string{"api", "method", "code"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pylon_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"api", "method"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pylon_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter or wait-queue, by reason",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pylon_queue_depth",
			Help: "Current number of requests waiting in the admission queue",
		}),
		SSEConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pylon_sse_connections_active",
			Help: "Current number of open SSE relay connections",
		}),
	}
	reg.MustRegister(m.Requests, m.Latency, m.RateLimitRejections, m.QueueDepth, m.SSEConnections)
	return m
}

// Instrument wraps next, recording request count and latency once it
// returns, labelled by the api identifier the dispatcher classified the
// request as.
func Instrument(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = EnsureAPIIdentifierCarrier(r)
		sw := &httpx.StatusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		api := APIIdentifier(r.Context())
		code := sw.Status
		if code == 0 {
			code = http.StatusOK
		}
		m.Requests.WithLabelValues(api, r.Method, strconv.Itoa(code)).Inc()
		m.Latency.WithLabelValues(api, r.Method).Observe(time.Since(start).Seconds())
	})
}
