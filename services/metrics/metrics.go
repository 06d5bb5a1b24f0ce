package metricsvc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Redemptions     *prometheus.CounterVec
	CardsGenerated  prometheus.Counter
	SessionsStarted prometheus.Counter
	SessionsExpired prometheus.Counter
	ActiveSessions  prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them on reg.
func New(appName string, reg *prometheus.Registry) *Metrics {
	labels := prometheus.Labels{"app": appName}
	m := &Metrics{
		Redemptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "scratchcard_redemptions_total",
				Help:        "Scratch card redemption attempts by outcome",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		CardsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "scratchcard_generated_total",
			Help:        "Scratch cards generated",
			ConstLabels: labels,
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "session_started_total",
			Help:        "Sessions started at login",
			ConstLabels: labels,
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "session_idle_expired_total",
			Help:        "Sessions ended by the idle monitor",
			ConstLabels: labels,
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "session_active",
			Help:        "Sessions currently tracked",
			ConstLabels: labels,
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Redemptions,
		m.CardsGenerated,
		m.SessionsStarted,
		m.SessionsExpired,
		m.ActiveSessions,
		m.HTTPRequests,
	)
	return m
}

func (m *Metrics) ObserveRedemption(status string) {
	m.Redemptions.WithLabelValues(status).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
