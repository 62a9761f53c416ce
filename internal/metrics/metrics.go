// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records guard, authentication and engine events.
type Collector struct {
	guardDecisions *prometheus.CounterVec
	logins         *prometheus.CounterVec
	renewals       prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licensetrack_guard_decisions_total",
			Help: "Session guard outcomes by kind.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licensetrack_logins_total",
			Help: "Sign-in attempts by result.",
		}, []string{"result"}),
		renewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "licensetrack_renewals_total",
			Help: "Confirmed license renewals.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licensetrack_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(c.guardDecisions, c.logins, c.renewals, c.httpStatus)
	return c
}

// ObserveGuardDecision counts one guard outcome.
func (c *Collector) ObserveGuardDecision(outcome string) {
	c.guardDecisions.WithLabelValues(outcome).Inc()
}

// ObserveLogin counts one sign-in attempt.
func (c *Collector) ObserveLogin(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	c.logins.WithLabelValues(result).Inc()
}

// ObserveRenewal counts one renewal.
func (c *Collector) ObserveRenewal() {
	c.renewals.Inc()
}

// RecordHTTPStatus counts one response.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
