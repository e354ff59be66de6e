package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.HistogramVec
	uploads        *prometheus.CounterVec
	schemaFailures prometheus.Counter
	forecasts      *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vyapaar",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vyapaar",
			Name:      "uploads_total",
			Help:      "Sales tables analyzed, by input source and whether a snapshot was stored.",
		}, []string{"source", "stored"}),
		schemaFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vyapaar",
			Name:      "schema_failures_total",
			Help:      "Uploads rejected because required columns could not be resolved.",
		}),
		forecasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vyapaar",
			Name:      "forecasts_total",
			Help:      "Forecast requests by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vyapaar",
			Name:      "notifications_total",
			Help:      "WhatsApp sends by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.requests, m.uploads, m.schemaFailures, m.forecasts, m.notifications)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request latency under the matched route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
