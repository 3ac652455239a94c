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

// PrometheusRecorder exposes counters through a private Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	registrations   *prometheus.CounterVec
	logins          *prometheus.CounterVec
	logouts         prometheus.Counter
	passwordResets  *prometheus.CounterVec
	publicKeyFetchs *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	accountEvents   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheus creates and registers all SignSure metrics, plus the Go
// runtime and process collectors.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,

		registrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signsure_registrations_total",
				Help: "User registrations by outcome",
			},
			[]string{"status"},
		),

		logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signsure_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"status"},
		),

		logouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "signsure_logouts_total",
				Help: "Logouts",
			},
		),

		passwordResets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signsure_password_resets_total",
				Help: "Password reset steps by stage and outcome",
			},
			[]string{"stage", "status"},
		),

		publicKeyFetchs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signsure_public_key_fetches_total",
				Help: "Public key lookups by outcome",
			},
			[]string{"status"},
		),

		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signsure_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),

		accountEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signsure_account_events_total",
				Help: "Account audit events by pipeline outcome",
			},
			[]string{"status"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signsure_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// IncRegistration increments the registration counter.
func (p *PrometheusRecorder) IncRegistration(status string) {
	p.registrations.WithLabelValues(status).Inc()
}

// IncLogin increments the login counter.
func (p *PrometheusRecorder) IncLogin(status string) {
	p.logins.WithLabelValues(status).Inc()
}

// IncLogout increments the logout counter.
func (p *PrometheusRecorder) IncLogout() {
	p.logouts.Inc()
}

// IncPasswordReset increments the password reset counter.
func (p *PrometheusRecorder) IncPasswordReset(stage, status string) {
	p.passwordResets.WithLabelValues(stage, status).Inc()
}

// IncPublicKeyFetch increments the public key fetch counter.
func (p *PrometheusRecorder) IncPublicKeyFetch(status string) {
	p.publicKeyFetchs.WithLabelValues(status).Inc()
}

// IncRateLimited increments the rate limit counter.
func (p *PrometheusRecorder) IncRateLimited(scope string) {
	p.rateLimited.WithLabelValues(scope).Inc()
}

// IncAccountEvent increments the account event counter.
func (p *PrometheusRecorder) IncAccountEvent(status string) {
	p.accountEvents.WithLabelValues(status).Inc()
}

// ObserveRequest records request latency.
func (p *PrometheusRecorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
