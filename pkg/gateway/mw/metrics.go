package mw

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the gateway's Prometheus instruments.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	LiveSessions  prometheus.Gauge
	Supersessions prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aqual_http_requests_total",
			Help: "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aqual_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		LiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aqual_live_sessions",
			Help: "Live voice sessions currently running.",
		}),
		Supersessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "aqual_live_supersessions_total",
			Help: "Live sessions displaced by a newer connection.",
		}),
	}
}

// Instrument counts and times every request passing through.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		timer := prometheus.NewTimer(m.duration.WithLabelValues(r.Method, r.URL.Path))
		next.ServeHTTP(sw, r)
		timer.ObserveDuration()
		m.requests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
	})
}
