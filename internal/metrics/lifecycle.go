// Package metrics provides Prometheus metrics for the lesson lifecycle core.
// No per-lesson identifiers in labels; cardinality stays bounded by the
// status and role enums.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts committed status transitions by edge and role.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lessond_transitions_total",
		Help: "Total number of committed lesson status transitions, by from/to status and actor role.",
	}, []string{"from", "to", "role"})

	// TransitionRejectTotal counts rejected transition requests by taxonomy code.
	TransitionRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lessond_transition_reject_total",
		Help: "Total number of rejected lesson transitions, by error code.",
	}, []string{"code"})

	// ScanRunsTotal counts scan passes by kind.
	ScanRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lessond_scan_runs_total",
		Help: "Total number of scan passes, by scan kind.",
	}, []string{"kind"})

	// ScanTransitionsTotal counts transitions committed by scan jobs.
	ScanTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lessond_scan_transitions_total",
		Help: "Total number of transitions committed by scan jobs, by scan kind.",
	}, []string{"kind"})

	// ScanErrorsTotal counts per-lesson scan failures.
	ScanErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lessond_scan_errors_total",
		Help: "Total number of per-lesson scan failures, by scan kind.",
	}, []string{"kind"})

	// BackfillEntriesTotal counts ledger entries synthesized by the backfill tool.
	BackfillEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lessond_backfill_entries_total",
		Help: "Total number of ledger entries synthesized by backfill.",
	})

	// NotificationsTotal counts emitted notification requests by kind.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lessond_notifications_total",
		Help: "Total number of notification requests handed to the sink, by kind.",
	}, []string{"kind"})
)
