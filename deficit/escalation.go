package deficit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/metrics"
)

// EscalationResult summarises one pass.
type EscalationResult struct {
	AsOf      generic.TimePoint `json:"asOf"`
	Examined  int               `json:"examined"`
	Escalated int               `json:"escalated"`
	Skipped   int               `json:"skipped"`
}

// Escalate promotes every pending record whose due date has passed to
// overdue, as of the engine's today.
func (e *Engine) Escalate(ctx context.Context) (EscalationResult, error) {
	return e.EscalateAsOf(ctx, e.Today())
}

// EscalateAsOf runs the pass for an explicit date. Only pending records are
// touched; running it twice for the same date changes nothing the second
// time. A pending record that cannot be committed is skipped and stays
// pending; it never blocks the others.
func (e *Engine) EscalateAsOf(ctx context.Context, today generic.TimePoint) (EscalationResult, error) {
	res := EscalationResult{AsOf: today}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	examined, escalated, skipped := e.repo.mutateAll(ctx, func(rec *Record) bool {
		if rec.Status != StatusPending {
			return false
		}
		days := generic.DaysBetween(rec.DueDate, today)
		if days <= 0 {
			return false
		}
		rec.Status = StatusOverdue
		rec.WasOverdue = true
		rec.DaysOverdue = days
		return true
	})
	res.Examined, res.Escalated, res.Skipped = examined, escalated, skipped

	metrics.EscalationRuns.Inc()
	metrics.Escalations.Add(float64(escalated))
	metrics.EscalationSkips.Add(float64(skipped))

	entry := e.log.WithFields(logrus.Fields{
		"as_of":     today.String(),
		"examined":  examined,
		"escalated": escalated,
		"skipped":   skipped,
	})
	switch {
	case skipped > 0:
		entry.Warn("escalation skipped records that break an invariant")
	case escalated > 0:
		entry.Info("deficits escalated")
	}
	return res, nil
}
