/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are accepted as JSON numbers or strings and always returned as
  strings with two decimal places.

TYPES:
  Deficits:
    DeficitDTO, PaymentDTO, ReceiptDTO, CreateDeficitRequest,
    UpdateDeficitRequest

  Settlement:
    PaymentRequest, PrintRequest, AuthorizedRequest

  Payroll / admin:
    CapacityDTO, EscalationDTO, SettingsDTO, SettingsRequest

SEE ALSO:
  - handlers.go: Uses these types
  - deficit/record.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// DeficitDTO represents a deficit record in API responses.
type DeficitDTO struct {
	ID                 string       `json:"id"`
	Date               string       `json:"date"`
	DueDate            string       `json:"due_date"`
	DaysOverdue        int          `json:"days_overdue"`
	Shift              string       `json:"shift"`
	TotalSales         string       `json:"total_sales"`
	MoneyGiven         string       `json:"money_given"`
	ShortAmount        string       `json:"short_amount"`
	PaidTotal          string       `json:"paid_total"`
	RemainingBalance   string       `json:"remaining_balance"`
	Payments           []PaymentDTO `json:"payments"`
	Status             string       `json:"status"`
	OriginalStatus     string       `json:"original_status"`
	WasOverdue         bool         `json:"was_overdue"`
	PaidFromPayroll    bool         `json:"paid_from_payroll"`
	SettledAt          string       `json:"settled_at,omitempty"`
	Receipt            ReceiptDTO   `json:"receipt"`
	Notes              string       `json:"notes,omitempty"`
	EmployeeID         string       `json:"employee_id"`
	TillNumber         string       `json:"till_number,omitempty"`
	ManagerName        string       `json:"manager_name,omitempty"`
	WitnessName        string       `json:"witness_name,omitempty"`
	CancellationReason string       `json:"cancellation_reason,omitempty"`
	CancelledAt        string       `json:"cancelled_at,omitempty"`
	CreatedAt          string       `json:"created_at"`
	UpdatedAt          string       `json:"updated_at"`
}

// PaymentDTO is one ledger entry.
type PaymentDTO struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Amount    string `json:"amount"`
	Notes     string `json:"notes,omitempty"`
	Source    string `json:"source"`
}

// ReceiptDTO is the settlement workflow state.
type ReceiptDTO struct {
	Stage         string `json:"stage"`
	Printed       bool   `json:"printed"`
	Number        string `json:"number,omitempty"`
	PrintDate     string `json:"print_date,omitempty"`
	VendorSigned  bool   `json:"vendor_signed"`
	ManagerSigned bool   `json:"manager_signed"`
	CopyArchived  bool   `json:"copy_archived"`
	CopiesPrinted int    `json:"copies_printed"`
}

// CapacityDTO is the payroll capacity report.
type CapacityDTO struct {
	Month         string   `json:"month"`
	EmployeeID    string   `json:"employee_id,omitempty"`
	MonthlySalary string   `json:"monthly_salary"`
	Deductions    string   `json:"deductions"`
	Remaining     string   `json:"remaining"`
	Exceeded      bool     `json:"exceeded"`
	RecordIDs     []string `json:"record_ids"`
}

// EscalationDTO reports a manual or the last scheduled escalation pass.
type EscalationDTO struct {
	AsOf        string `json:"as_of"`
	Examined    int    `json:"examined"`
	Escalated   int    `json:"escalated"`
	Skipped     int    `json:"skipped"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	NextRunAt   string `json:"next_run_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SettingsDTO never carries the PIN.
type SettingsDTO struct {
	DueDateGraceDays int    `json:"due_date_grace_days"`
	MonthlySalary    string `json:"monthly_salary"`
	UpdatedAt        string `json:"updated_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateDeficitRequest is the intake form.
type CreateDeficitRequest struct {
	Date        string          `json:"date"`
	Shift       string          `json:"shift"`
	TotalSales  decimal.Decimal `json:"total_sales"`
	MoneyGiven  decimal.Decimal `json:"money_given"`
	EmployeeID  string          `json:"employee_id"`
	TillNumber  string          `json:"till_number"`
	ManagerName string          `json:"manager_name"`
	WitnessName string          `json:"witness_name"`
	Notes       string          `json:"notes"`
}

func (req CreateDeficitRequest) toDraft() (deficit.Draft, error) {
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		return deficit.Draft{}, err
	}
	return deficit.Draft{
		Date:        date,
		Shift:       deficit.Shift(req.Shift),
		TotalSales:  req.TotalSales,
		MoneyGiven:  req.MoneyGiven,
		EmployeeID:  req.EmployeeID,
		TillNumber:  req.TillNumber,
		ManagerName: req.ManagerName,
		WitnessName: req.WitnessName,
		Notes:       req.Notes,
	}, nil
}

// UpdateDeficitRequest patches context metadata. Absent fields are left
// alone; due_date "" clears the due date and is rejected.
type UpdateDeficitRequest struct {
	Notes       *string `json:"notes"`
	EmployeeID  *string `json:"employee_id"`
	TillNumber  *string `json:"till_number"`
	ManagerName *string `json:"manager_name"`
	WitnessName *string `json:"witness_name"`
	DueDate     *string `json:"due_date"`
}

func (req UpdateDeficitRequest) toPatch() (deficit.Patch, error) {
	p := deficit.Patch{
		Notes:       req.Notes,
		EmployeeID:  req.EmployeeID,
		TillNumber:  req.TillNumber,
		ManagerName: req.ManagerName,
		WitnessName: req.WitnessName,
	}
	if req.DueDate != nil {
		due := generic.TimePoint{}
		if *req.DueDate != "" {
			parsed, err := generic.ParseDate(*req.DueDate)
			if err != nil {
				return deficit.Patch{}, err
			}
			due = parsed
		}
		p.DueDate = &due
	}
	return p, nil
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes"`
}

type PrintRequest struct {
	ManagerName string `json:"manager_name"`
}

// AuthorizedRequest carries the manager PIN for gated actions.
type AuthorizedRequest struct {
	PIN    string `json:"pin"`
	Reason string `json:"reason,omitempty"`
}

type SettingsRequest struct {
	PIN              string           `json:"pin"`
	NewPIN           *string          `json:"new_pin"`
	DueDateGraceDays *int             `json:"due_date_grace_days"`
	MonthlySalary    *decimal.Decimal `json:"monthly_salary"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(generic.MoneyPlaces) }

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timestamp(*t)
}

func toDeficitDTO(rec deficit.Record) DeficitDTO {
	payments := make([]PaymentDTO, len(rec.Payments))
	for i, p := range rec.Payments {
		payments[i] = PaymentDTO{
			ID:        string(p.ID),
			Timestamp: timestamp(p.Timestamp),
			Amount:    money(p.Amount),
			Notes:     p.Notes,
			Source:    string(p.Source),
		}
	}
	return DeficitDTO{
		ID:                 string(rec.ID),
		Date:               rec.Date.String(),
		DueDate:            rec.DueDate.String(),
		DaysOverdue:        rec.DaysOverdue,
		Shift:              string(rec.Shift),
		TotalSales:         money(rec.TotalSales),
		MoneyGiven:         money(rec.MoneyGiven),
		ShortAmount:        money(rec.ShortAmount),
		PaidTotal:          money(rec.PaidTotal()),
		RemainingBalance:   money(rec.RemainingBalance),
		Payments:           payments,
		Status:             string(rec.Status),
		OriginalStatus:     string(rec.OriginalStatus),
		WasOverdue:         rec.WasOverdue,
		PaidFromPayroll:    rec.PaidFromPayroll,
		SettledAt:          optionalTimestamp(rec.SettledAt),
		Receipt: ReceiptDTO{
			Stage:         string(rec.Receipt.Stage),
			Printed:       rec.Receipt.Printed,
			Number:        rec.Receipt.Number,
			PrintDate:     optionalTimestamp(rec.Receipt.PrintDate),
			VendorSigned:  rec.Receipt.VendorSigned,
			ManagerSigned: rec.Receipt.ManagerSigned,
			CopyArchived:  rec.Receipt.CopyArchived,
			CopiesPrinted: rec.Receipt.CopiesPrinted,
		},
		Notes:              rec.Notes,
		EmployeeID:         rec.EmployeeID,
		TillNumber:         rec.TillNumber,
		ManagerName:        rec.ManagerName,
		WitnessName:        rec.WitnessName,
		CancellationReason: rec.CancellationReason,
		CancelledAt:        optionalTimestamp(rec.CancelledAt),
		CreatedAt:          timestamp(rec.CreatedAt),
		UpdatedAt:          timestamp(rec.UpdatedAt),
	}
}

func toCapacityDTO(r deficit.CapacityReport) CapacityDTO {
	ids := make([]string, len(r.Records))
	for i, id := range r.Records {
		ids[i] = string(id)
	}
	return CapacityDTO{
		Month:         r.Period.Start.Time.Format("2006-01"),
		EmployeeID:    r.EmployeeID,
		MonthlySalary: money(r.MonthlySalary),
		Deductions:    money(r.Deductions),
		Remaining:     money(r.Remaining),
		Exceeded:      r.Exceeded,
		RecordIDs:     ids,
	}
}

func toSettingsDTO(s deficit.SettingsView) SettingsDTO {
	return SettingsDTO{
		DueDateGraceDays: s.DueDateGraceDays,
		MonthlySalary:    money(s.MonthlySalary),
		UpdatedAt:        timestamp(s.UpdatedAt),
	}
}
