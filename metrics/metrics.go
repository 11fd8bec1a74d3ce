/*
Package metrics exposes the Prometheus counters and gauges the policy
server, decision engine, and command executor update as they run, and the
HTTP handler that
serves them on the operator-only listener (SPEC_FULL.md §4.I).
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles every metric postwhite reports.
type Collector struct {
	Decisions         *prometheus.CounterVec
	Commands          *prometheus.CounterVec
	StoreErrors       prometheus.Counter
	ActiveConnections prometheus.Gauge
	MailDeliveries    *prometheus.CounterVec
}

// NewCollector builds and registers every metric against registry.
func NewCollector(registry *prometheus.Registry) *Collector {
	c := &Collector{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postwhite",
			Name:      "decisions_total",
			Help:      "Number of policy decisions made, by resulting action.",
		}, []string{"action"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postwhite",
			Name:      "commands_total",
			Help:      "Number of in-band command messages handled, by verb and outcome (executed or rejected).",
		}, []string{"verb", "result"}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postwhite",
			Name:      "store_io_errors_total",
			Help:      "Number of allow-list or spool I/O failures.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "postwhite",
			Name:      "active_connections",
			Help:      "Number of policy-protocol connections currently being handled.",
		}),
		MailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postwhite",
			Name:      "mail_deliveries_total",
			Help:      "Number of outbound advisory/info mails, by delivery outcome.",
		}, []string{"result"}),
	}
	registry.MustRegister(c.Decisions, c.Commands, c.StoreErrors, c.ActiveConnections, c.MailDeliveries)
	return c
}

// Handler serves registry's metrics in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
