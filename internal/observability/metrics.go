package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	SocialLogins   *prometheus.CounterVec
	Reissues       *prometheus.CounterVec
	Logouts        *prometheus.CounterVec
	RateLimitBans  prometheus.Counter
	VerifyMailSent prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SocialLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_social_logins_total",
			Help: "Social login attempts by outcome.",
		}, []string{"outcome"}),
		Reissues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_reissues_total",
			Help: "Token reissue attempts by outcome.",
		}, []string{"outcome"}),
		Logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logouts_total",
			Help: "Logout attempts by outcome.",
		}, []string{"outcome"}),
		RateLimitBans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_bans_total",
			Help: "Client IPs banned after crossing the attempt threshold.",
		}),
		VerifyMailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verification_mails_sent_total",
			Help: "Verification codes dispatched.",
		}),
	}

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.SocialLogins,
		m.Reissues,
		m.Logouts,
		m.RateLimitBans,
		m.VerifyMailSent,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The Count helpers are safe on a nil *Metrics so callers can run without
// a registry.

func (m *Metrics) CountSocialLogin(outcome string) {
	if m != nil {
		m.SocialLogins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CountReissue(outcome string) {
	if m != nil {
		m.Reissues.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CountLogout(outcome string) {
	if m != nil {
		m.Logouts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CountBan() {
	if m != nil {
		m.RateLimitBans.Inc()
	}
}

func (m *Metrics) CountVerificationMail() {
	if m != nil {
		m.VerifyMailSent.Inc()
	}
}
