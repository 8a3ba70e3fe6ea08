package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the trust and enforcement pipeline. Labelled by the closed
// enumerations so dashboards can break down by code/category without parsing.
var (
	AttestationsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qc_attestations_submitted_total",
		Help: "Balance attestations accepted, per attester.",
	}, []string{"attester"})

	ConsensusUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qc_consensus_updates_total",
		Help: "Consensus readings published by the reserve oracle.",
	})

	Violations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qc_violations_total",
		Help: "Compliance violations detected, per violation code.",
	}, []string{"code"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qc_status_transitions_total",
		Help: "QC status transitions, per target status.",
	}, []string{"status"})

	Observations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qc_observations_total",
		Help: "Watchdog observations recorded, per category.",
	}, []string{"category"})

	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qc_escalations_total",
		Help: "Observations escalated to governance.",
	})

	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qc_resolutions_total",
		Help: "Governance resolutions recorded, per resolution.",
	}, []string{"resolution"})
)
