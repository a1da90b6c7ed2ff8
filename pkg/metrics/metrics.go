package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvitationFlowSteps counts invitation flow transitions by step and outcome.
	InvitationFlowSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_invitation_flow_steps_total",
			Help: "Total number of invitation flow transitions",
		},
		[]string{"step", "outcome"},
	)

	// Registrations counts completed registrations by invitation type.
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_registrations_total",
			Help: "Total number of completed registrations",
		},
		[]string{"invitation_type"},
	)

	// EligibilityChecks counts eligibility gateway calls by result.
	EligibilityChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_eligibility_checks_total",
			Help: "Total number of eligibility verification calls",
		},
		[]string{"result"},
	)

	// APILatency observes request latency by method, route and status.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
