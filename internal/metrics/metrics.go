// Package metrics defines the Prometheus collectors of the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	// LoginAttempts counts PIN logins by outcome: success, invalid, locked,
	// tenant_inactive, error.
	LoginAttempts *prometheus.CounterVec
	// Lockouts counts origins locked by the attempt throttle.
	Lockouts prometheus.Counter
	// SessionRejections counts protected requests refused by the gate, by
	// reason: missing, invalid, expired, tenant_mismatch, tenant_inactive, locked.
	SessionRejections *prometheus.CounterVec
	// RememberRedemptions counts remember-token redemptions by outcome: ok,
	// invalid, expired, tenant_mismatch, tenant_inactive, locked.
	RememberRedemptions *prometheus.CounterVec
	// Transitions counts workflow operations by kind (apply, override) and
	// outcome (ok, illegal, conflict, not_found, error).
	Transitions *prometheus.CounterVec

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tansu_login_attempts_total",
			Help: "PIN login attempts by outcome",
		}, []string{"outcome"}),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tansu_login_lockouts_total",
			Help: "Origins locked after repeated failed logins",
		}),
		SessionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tansu_session_rejections_total",
			Help: "Protected requests rejected by the request gate",
		}, []string{"reason"}),
		RememberRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tansu_remember_redemptions_total",
			Help: "Remember-token redemptions by outcome",
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tansu_item_transitions_total",
			Help: "Item status changes by kind and outcome",
		}, []string{"kind", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tansu_http_requests_total",
			Help: "HTTP requests by method and status",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tansu_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.LoginAttempts,
		m.Lockouts,
		m.SessionRejections,
		m.RememberRedemptions,
		m.Transitions,
		m.requests,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
