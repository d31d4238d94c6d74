package sla

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_sla_transitions_total",
		Help: "Applied SLA tracker transitions by event.",
	}, []string{"event"})
	invalidTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_sla_invalid_transitions_total",
		Help: "SLA events ignored because the tracker status did not accept them.",
	}, []string{"event", "status"})
	breachesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_sla_breaches_total",
		Help: "SLA breach flags set, by deadline kind.",
	}, []string{"kind"})
	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "helpdesk_sla_sweep_duration_seconds",
		Help:    "Duration of periodic breach sweeps.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(transitionsTotal, invalidTransitionsTotal, breachesTotal, sweepDuration)
}
