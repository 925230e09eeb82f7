package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type serverMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	auth     *prometheus.CounterVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storeauth_server_requests_total",
				Help: "HTTP requests by route and status code.",
			},
			[]string{"route", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storeauth_server_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"route"},
		),
		auth: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storeauth_server_auth_total",
				Help: "Authentication attempts by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
	}
	reg.MustRegister(
		m.requests,
		m.duration,
		m.auth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *serverMetrics) authOutcome(method, outcome string) {
	m.auth.WithLabelValues(method, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument is a mux middleware labelling series by route template so
// path parameters never become label values.
func (m *serverMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
