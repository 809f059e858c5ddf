package deficit

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/metrics"
)

// SettleViaPayroll closes the deficit by deducting it from the worker's
// salary. It needs the manager PIN. The outstanding balance is booked as a
// payroll payment and the settlement workflow is reset to idle.
func (e *Engine) SettleViaPayroll(ctx context.Context, id generic.RecordID, pin string) (rec Record, err error) {
	defer func() { e.observe(ActionPayroll, id, err) }()

	if err := e.gate.Verify(ctx, pin); err != nil {
		return Record{}, err
	}
	release, err := e.guard.Acquire(ctx, id)
	if err != nil {
		return Record{}, err
	}
	defer release()

	var deducted decimal.Decimal
	rec, err = e.repo.mutate(ctx, id, func(r *Record) error {
		if r.IsSettled() {
			return invalid("status", "record is already paid")
		}
		deducted = r.RemainingBalance
		r.Payments = append(r.Payments, synthesize(r, SourcePayroll, e.now(), "payroll deduction"))
		r.PaidFromPayroll = true
		r.Receipt = Receipt{Stage: StageIdle}
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	metrics.Payments.WithLabelValues(string(SourcePayroll)).Inc()
	e.log.WithFields(logrus.Fields{
		"record_id":   id,
		"employee_id": rec.EmployeeID,
		"deducted":    deducted.StringFixed(generic.MoneyPlaces),
	}).Info("deficit settled via payroll")
	return rec, nil
}

// =============================================================================
// CAPACITY
// =============================================================================

// CapacityReport compares a month's payroll deductions to the salary. It is
// advisory: nothing stops a deduction that exceeds it.
type CapacityReport struct {
	Period        generic.Period     `json:"period"`
	EmployeeID    string             `json:"employeeId,omitempty"`
	MonthlySalary decimal.Decimal    `json:"monthlySalary"`
	Deductions    decimal.Decimal    `json:"deductions"`
	Remaining     decimal.Decimal    `json:"remaining"`
	Exceeded      bool               `json:"exceeded"`
	Records       []generic.RecordID `json:"records"`
}

// PayrollCapacity sums the short amounts of records settled through payroll
// within period (optionally for one employee) and subtracts them from the
// configured monthly salary. Remaining goes negative when exceeded.
func (e *Engine) PayrollCapacity(ctx context.Context, period generic.Period, employeeID string) (CapacityReport, error) {
	if period.Start.IsZero() || period.End.IsZero() || period.End.Before(period.Start) {
		return CapacityReport{}, invalid("month", "invalid period")
	}

	records, err := e.repo.List(ctx, Filter{Status: StatusPaid, EmployeeID: employeeID})
	if err != nil {
		return CapacityReport{}, err
	}

	report := CapacityReport{
		Period:        period,
		EmployeeID:    employeeID,
		MonthlySalary: e.settings.get().MonthlySalary,
		Deductions:    decimal.Zero,
		Records:       []generic.RecordID{},
	}
	for _, rec := range records {
		if !rec.PaidFromPayroll || rec.SettledAt == nil {
			continue
		}
		if !period.Contains(generic.DateOf(*rec.SettledAt)) {
			continue
		}
		report.Deductions = report.Deductions.Add(rec.ShortAmount)
		report.Records = append(report.Records, rec.ID)
	}
	report.Remaining = report.MonthlySalary.Sub(report.Deductions)
	report.Exceeded = report.Remaining.IsNegative()
	return report, nil
}
