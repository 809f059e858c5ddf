package deficit

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deficit-engine/generic"
)

// ExportRow is the flat projection of a record used by spreadsheet writers.
type ExportRow struct {
	ID               generic.RecordID
	Date             generic.TimePoint
	DueDate          generic.TimePoint
	Shift            Shift
	EmployeeID       string
	TillNumber       string
	TotalSales       decimal.Decimal
	MoneyGiven       decimal.Decimal
	ShortAmount      decimal.Decimal
	RemainingBalance decimal.Decimal
	Status           Status
	DaysOverdue      int
	Notes            string
	ReceiptNumber    string
	PrintDate        *time.Time
	PaidFromPayroll  bool
}

var exportColumns = []string{
	"id", "date", "due_date", "shift", "employee_id", "till_number",
	"total_sales", "money_given", "short_amount", "remaining_balance",
	"status", "days_overdue", "notes", "receipt_number", "print_date",
	"paid_from_payroll",
}

// Columns returns the header row.
func Columns() []string {
	out := make([]string, len(exportColumns))
	copy(out, exportColumns)
	return out
}

// Values renders the row in Columns order.
func (r ExportRow) Values() []string {
	printDate := ""
	if r.PrintDate != nil {
		printDate = r.PrintDate.UTC().Format(time.RFC3339)
	}
	money := func(d decimal.Decimal) string { return d.StringFixed(generic.MoneyPlaces) }
	return []string{
		string(r.ID),
		r.Date.String(),
		r.DueDate.String(),
		string(r.Shift),
		r.EmployeeID,
		r.TillNumber,
		money(r.TotalSales),
		money(r.MoneyGiven),
		money(r.ShortAmount),
		money(r.RemainingBalance),
		string(r.Status),
		strconv.Itoa(r.DaysOverdue),
		r.Notes,
		r.ReceiptNumber,
		printDate,
		strconv.FormatBool(r.PaidFromPayroll),
	}
}

func rowOf(rec Record) ExportRow {
	return ExportRow{
		ID:               rec.ID,
		Date:             rec.Date,
		DueDate:          rec.DueDate,
		Shift:            rec.Shift,
		EmployeeID:       rec.EmployeeID,
		TillNumber:       rec.TillNumber,
		TotalSales:       rec.TotalSales,
		MoneyGiven:       rec.MoneyGiven,
		ShortAmount:      rec.ShortAmount,
		RemainingBalance: rec.RemainingBalance,
		Status:           rec.Status,
		DaysOverdue:      rec.DaysOverdue,
		Notes:            rec.Notes,
		ReceiptNumber:    rec.Receipt.Number,
		PrintDate:        rec.Receipt.PrintDate,
		PaidFromPayroll:  rec.PaidFromPayroll,
	}
}

// Export returns the matching records as rows, in List order.
func (e *Engine) Export(ctx context.Context, f Filter) ([]ExportRow, error) {
	records, err := e.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	rows := make([]ExportRow, len(records))
	for i, rec := range records {
		rows[i] = rowOf(rec)
	}
	return rows, nil
}
