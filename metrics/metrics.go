// Package metrics exposes prometheus collectors for the match pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhaseRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "match_engine_phase_runs_total",
		Help: "Phase invocations by phase and outcome.",
	}, []string{"phase", "outcome"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "match_engine_phase_duration_seconds",
		Help:    "Wall time of a phase invocation.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"phase"})

	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_engine_matches_created_total",
		Help: "Pending matches written by the create phase.",
	})

	SimulationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_engine_simulation_failures_total",
		Help: "Simulation calls that failed and left their match pending.",
	})

	HistoryRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_engine_history_recorded_total",
		Help: "Game history rows written by the resolve phase.",
	})

	AccountsReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_engine_accounts_reconciled_total",
		Help: "Rating accounts updated by the reconcile phase.",
	})

	RosterSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "match_engine_roster_syncs_total",
		Help: "Roster sync batches by outcome.",
	}, []string{"outcome"})
)
