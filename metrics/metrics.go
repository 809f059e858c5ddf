// Package metrics holds the engine's Prometheus instruments.
//
// All collectors are registered on the default registry at init, the way
// promauto does it, and exposed by the API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deficit"

// ─── Records ────────────────────────────────────────────────────────────────

// RecordsByStatus is the current number of records per lifecycle status.
var RecordsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "records",
	Name:      "by_status",
	Help:      "Current number of deficit records by status.",
}, []string{"status"})

// OutstandingBalance is the sum of remaining balances over unpaid records.
var OutstandingBalance = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "records",
	Name:      "outstanding_balance",
	Help:      "Sum of remaining balances of records not yet paid.",
})

// ─── Lifecycle ──────────────────────────────────────────────────────────────

var Escalations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "escalation",
	Name:      "escalated_total",
	Help:      "Total records promoted from pending to overdue.",
})

var EscalationRuns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "escalation",
	Name:      "runs_total",
	Help:      "Total escalation passes executed.",
})

var EscalationSkips = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "escalation",
	Name:      "skipped_total",
	Help:      "Total overdue records left pending because the change broke an invariant.",
})

var Payments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "payments_total",
	Help:      "Total payments appended to record ledgers by source.",
}, []string{"source"})

// WorkflowTransitions counts settlement workflow actions by outcome.
var WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "workflow",
	Name:      "transitions_total",
	Help:      "Total settlement workflow actions by action and result.",
}, []string{"action", "result"})

var SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "workflow",
	Name:      "sink_failures_total",
	Help:      "Total document sink failures by copy number.",
}, []string{"copy"})

var AuthorizationDenied = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "auth",
	Name:      "denied_total",
	Help:      "Total manager PIN verifications that failed.",
})

// ─── Persistence ────────────────────────────────────────────────────────────

var PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "store",
	Name:      "persist_failures_total",
	Help:      "Total failed writes of the record collection to the durable store.",
})

var LoadFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "store",
	Name:      "load_fallbacks_total",
	Help:      "Total loads that fell back to an empty collection because stored data was unreadable.",
})
