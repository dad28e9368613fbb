// Package metrics exposes the Prometheus collectors for session validation,
// token refresh and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oidc_session"

// Recorder receives validation and refresh events.
type Recorder interface {
	// SessionValidated counts one gate decision by final state.
	SessionValidated(state string)
	// RefreshCompleted records a refresh attempt by outcome.
	RefreshCompleted(outcome string, took time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) SessionValidated(string)                {}
func (Nop) RefreshCompleted(string, time.Duration) {}

// Prometheus implements Recorder and also instruments HTTP handlers.
type Prometheus struct {
	gatherer prometheus.Gatherer

	validations     *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ Recorder = (*Prometheus)(nil)

// New registers the collectors with reg. A nil reg uses a fresh registry so
// tests can create as many instances as they like.
func New(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Prometheus{
		gatherer: reg,
		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Session validations by resulting state.",
		}, []string{"state"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent refreshing tokens with the identity provider.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (p *Prometheus) SessionValidated(state string) {
	p.validations.WithLabelValues(state).Inc()
}

func (p *Prometheus) RefreshCompleted(outcome string, took time.Duration) {
	p.refreshes.WithLabelValues(outcome).Inc()
	p.refreshDuration.Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// Instrument wraps next, labelling samples with route. Route should be the
// registered pattern, never the raw path.
func (p *Prometheus) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		p.requests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		p.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
