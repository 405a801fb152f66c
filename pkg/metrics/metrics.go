// Package metrics exposes invocation-shaped Prometheus instrumentation:
// counters for actions executed/failed and container lifecycle
// transitions, trimmed from warren's cluster-shaped gauges down to
// what a single-container, single-invocation CLI can meaningfully
// report.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActionsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sergio_actions_executed_total",
			Help: "Total number of action items executed, by kind",
		},
		[]string{"kind"},
	)

	ActionsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sergio_actions_failed_total",
			Help: "Total number of action items that failed, by kind",
		},
		[]string{"kind"},
	)

	ContainerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sergio_container_transitions_total",
			Help: "Total number of lifecycle verb invocations, by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	NATRulesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sergio_nat_rules_applied_total",
			Help: "Total number of NAT rules applied or removed, by table",
		},
		[]string{"table", "op"},
	)
)

func init() {
	prometheus.MustRegister(ActionsExecutedTotal)
	prometheus.MustRegister(ActionsFailedTotal)
	prometheus.MustRegister(ContainerTransitionsTotal)
	prometheus.MustRegister(NATRulesAppliedTotal)
}

// Handler returns the HTTP handler that serves the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTransition records the outcome of a single lifecycle verb
// invocation.
func RecordTransition(verb string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ContainerTransitionsTotal.WithLabelValues(verb, outcome).Inc()
}
