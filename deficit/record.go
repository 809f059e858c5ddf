/*
Package deficit implements the cash-deficit lifecycle and settlement engine.

PURPOSE:
  A deficit is the gap between a shift's total sales and the cash the worker
  actually handed over. This package records deficits, escalates them once
  their due date passes, takes partial payments against them and drives the
  print → vendor signature → manager signature → archive settlement workflow,
  or the PIN-gated payroll deduction shortcut.

FILES:
  record.go      Record, Payment, Receipt, Draft, Patch
  invariants.go  Derived-field normalisation and invariant checks
  repository.go  In-memory arena with a single commit point + persistence
  settings.go    Persisted engine settings (PIN hash, grace days, salary)
  auth.go        Authorization gate (manager PIN)
  guard.go       Per-record in-flight guard
  sink.go        Document sink contract
  engine.go      Engine wiring and record CRUD
  escalation.go  pending → overdue promotion
  ledger.go      Partial payments
  workflow.go    Settlement state machine and cancellation
  payroll.go     Payroll settlement and capacity report
  export.go      Flat projection for spreadsheet writers

RECORD LIFECYCLE:

    created ──▶ pending ──(due date passed)──▶ overdue
                   │                              │
                   └──────(balance reaches 0)─────┴──▶ paid

  Cancellation (PIN) sends a paid record back to overdue if it was ever
  overdue, else pending.

SEE ALSO:
  - generic/: money, dates, errors, key-value store
  - api/: HTTP surface and escalation scheduler
*/
package deficit

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/deficit-engine/generic"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

type Status string

const (
	StatusPending Status = "pending"
	StatusOverdue Status = "overdue"
	StatusPaid    Status = "paid"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOverdue, StatusPaid:
		return true
	}
	return false
}

type Shift string

const (
	ShiftMorning Shift = "morning"
	ShiftEvening Shift = "evening"
	ShiftNight   Shift = "night"
)

// Stage is the settlement workflow position of a record. Each non-terminal
// stage names the step the workflow is waiting for.
type Stage string

const (
	StageIdle        Stage = "idle"
	StagePrinting    Stage = "printing"     // copy 1 produced, copy 2 outstanding
	StageVendorSign  Stage = "vendor_sign"  // both copies produced
	StageManagerSign Stage = "manager_sign" // vendor has signed
	StageArchiving   Stage = "archiving"    // manager has signed
	StageArchived    Stage = "archived"
)

type PaymentSource string

const (
	SourceManual     PaymentSource = "manual"
	SourceSettlement PaymentSource = "settlement" // synthesised at archive
	SourcePayroll    PaymentSource = "payroll"    // synthesised by payroll settlement
)

// Document copies produced by the settlement workflow.
const (
	CopyVendor  = 1
	CopyManager = 2
)

// =============================================================================
// RECORD
// =============================================================================

// Payment is one entry of a record's payment ledger.
type Payment struct {
	ID        generic.PaymentID `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Amount    decimal.Decimal   `json:"amount"`
	Notes     string            `json:"notes,omitempty"`
	Source    PaymentSource     `json:"source"`
}

// Synthesized reports whether the engine created the entry while settling.
func (p Payment) Synthesized() bool { return p.Source != SourceManual }

// Receipt is the settlement workflow state. Only workflow.go and payroll.go
// write it.
type Receipt struct {
	Stage         Stage      `json:"stage"`
	Printed       bool       `json:"receiptPrinted"`
	Number        string     `json:"receiptNumber,omitempty"`
	PrintDate     *time.Time `json:"printDate,omitempty"`
	VendorSigned  bool       `json:"vendorSigned"`
	ManagerSigned bool       `json:"managerSigned"`
	CopyArchived  bool       `json:"receiptCopyArchived"`
	CopiesPrinted int        `json:"copiesPrinted"`
}

// Record is one reported shift-end cash shortfall.
type Record struct {
	ID          generic.RecordID  `json:"id"`
	Date        generic.TimePoint `json:"date"`
	DueDate     generic.TimePoint `json:"dueDate"`
	DaysOverdue int               `json:"daysOverdue"`
	Shift       Shift             `json:"shift"`

	// Financial facts, fixed at creation.
	TotalSales  decimal.Decimal `json:"totalSales"`
	MoneyGiven  decimal.Decimal `json:"moneyGiven"`
	ShortAmount decimal.Decimal `json:"shortAmount"`

	Payments         []Payment       `json:"partialPayments"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`

	Status          Status     `json:"status"`
	OriginalStatus  Status     `json:"originalStatus"`
	WasOverdue      bool       `json:"wasOverdue"`
	PaidFromPayroll bool       `json:"paidFromPayroll"`
	SettledAt       *time.Time `json:"settledAt,omitempty"`

	Receipt Receipt `json:"receipt"`

	Notes       string `json:"notes,omitempty"`
	EmployeeID  string `json:"employeeId"`
	TillNumber  string `json:"tillNumber,omitempty"`
	ManagerName string `json:"managerName,omitempty"`
	WitnessName string `json:"witnessName,omitempty"`

	CancellationReason string     `json:"cancellationReason,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// PaidTotal is the sum of every ledger entry.
func (r *Record) PaidTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// IsSettled reports whether the record has nothing left to pay.
func (r *Record) IsSettled() bool { return r.Status == StatusPaid }

// Clone returns a deep copy; the repository never hands out its own records.
func (r Record) Clone() Record {
	out := r
	if r.Payments != nil {
		out.Payments = make([]Payment, len(r.Payments))
		copy(out.Payments, r.Payments)
	}
	out.SettledAt = cloneTime(r.SettledAt)
	out.CancelledAt = cloneTime(r.CancelledAt)
	out.Receipt.PrintDate = cloneTime(r.Receipt.PrintDate)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// =============================================================================
// INTAKE & EDITS
// =============================================================================

// Draft is what the intake form submits.
type Draft struct {
	Date        generic.TimePoint `json:"date"`
	Shift       Shift             `json:"shift" validate:"required,oneof=morning evening night"`
	TotalSales  decimal.Decimal   `json:"totalSales"`
	MoneyGiven  decimal.Decimal   `json:"moneyGiven"`
	EmployeeID  string            `json:"employeeId" validate:"required,max=64"`
	TillNumber  string            `json:"tillNumber" validate:"max=32"`
	ManagerName string            `json:"managerName" validate:"max=128"`
	WitnessName string            `json:"witnessName" validate:"max=128"`
	Notes       string            `json:"notes" validate:"max=1000"`
}

// Patch edits context metadata. Financial facts, ledger and workflow fields
// only change through engine operations.
type Patch struct {
	Notes       *string            `json:"notes" validate:"omitempty,max=1000"`
	EmployeeID  *string            `json:"employeeId" validate:"omitempty,min=1,max=64"`
	TillNumber  *string            `json:"tillNumber" validate:"omitempty,max=32"`
	ManagerName *string            `json:"managerName" validate:"omitempty,max=128"`
	WitnessName *string            `json:"witnessName" validate:"omitempty,max=128"`
	DueDate     *generic.TimePoint `json:"dueDate"`
}

// Filter narrows List. Zero value matches everything.
type Filter struct {
	Status     Status
	EmployeeID string
}

func (f Filter) matches(r *Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	return true
}
