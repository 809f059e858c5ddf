package deficit

import (
	"time"

	"github.com/warp/deficit-engine/generic"
)

// =============================================================================
// DERIVED FIELDS
// =============================================================================

// normalize recomputes every derived field from the record's facts and
// ledger. It runs on every commit, so no operation stores a balance of its
// own.
func normalize(r *Record, now time.Time) {
	r.ShortAmount = generic.Cents(generic.ClampZero(r.TotalSales.Sub(r.MoneyGiven)))
	r.RemainingBalance = generic.ClampZero(r.ShortAmount.Sub(r.PaidTotal()))
	if r.Receipt.Stage == "" {
		r.Receipt.Stage = StageIdle
	}

	switch {
	case r.RemainingBalance.IsZero():
		r.Status = StatusPaid
	case r.Status == StatusPaid:
		r.Status = StatusPending
	}

	if r.Status == StatusOverdue {
		r.WasOverdue = true
	}
	if r.DaysOverdue < 0 {
		r.DaysOverdue = 0
	}

	if r.Status == StatusPaid {
		if r.SettledAt == nil {
			settled := lastPaymentTime(r, now)
			r.SettledAt = &settled
		}
	} else {
		r.SettledAt = nil
	}
}

func lastPaymentTime(r *Record, fallback time.Time) time.Time {
	var last time.Time
	for _, p := range r.Payments {
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
	}
	if last.IsZero() {
		return fallback
	}
	return last
}

// =============================================================================
// INVARIANTS
// =============================================================================

// checkInvariants returns the first rule r breaks, comparing against prev
// for the rules that constrain change (prev is nil on create).
func checkInvariants(prev, r *Record) error {
	fail := func(rule string) error { return &InvariantError{RecordID: r.ID, Rule: rule} }

	if r.ID == "" {
		return fail("id is empty")
	}
	if r.DueDate.IsZero() {
		return fail("due date is missing")
	}
	if !r.Status.Valid() {
		return fail("unknown status " + string(r.Status))
	}

	// Ledger
	seen := make(map[generic.PaymentID]bool, len(r.Payments))
	for _, p := range r.Payments {
		if !p.Amount.IsPositive() {
			return fail("payment amount must be positive")
		}
		if seen[p.ID] {
			return fail("duplicate payment id " + string(p.ID))
		}
		seen[p.ID] = true
	}
	want := generic.ClampZero(r.ShortAmount.Sub(r.PaidTotal()))
	if !r.RemainingBalance.Equal(want) {
		return fail("remaining balance does not match short amount minus payments")
	}
	if (r.Status == StatusPaid) != r.RemainingBalance.IsZero() {
		return fail("status paid must coincide with a zero balance")
	}

	// Workflow flags
	rc := r.Receipt
	if rc.CopiesPrinted < 0 || rc.CopiesPrinted > 2 {
		return fail("copies printed out of range")
	}
	if rc.CopiesPrinted >= 1 && (!rc.Printed || rc.Number == "") {
		return fail("printed copies require a printed receipt with a number")
	}
	if rc.ManagerSigned && !rc.VendorSigned {
		return fail("manager cannot sign before vendor")
	}
	if rc.CopyArchived && (!rc.ManagerSigned || r.Status != StatusPaid) {
		return fail("archived receipt requires manager signature and paid status")
	}
	if err := checkStage(rc); err != "" {
		return fail(err)
	}

	// Monotonic facts
	if prev != nil {
		if prev.WasOverdue && !r.WasOverdue {
			return fail("wasOverdue cannot be cleared")
		}
		if !prev.ShortAmount.Equal(r.ShortAmount) || !prev.TotalSales.Equal(r.TotalSales) || !prev.MoneyGiven.Equal(r.MoneyGiven) {
			return fail("financial facts are immutable")
		}
	}
	return nil
}

// checkStage verifies the workflow flags are exactly those the stage implies.
func checkStage(rc Receipt) string {
	type flags struct {
		printed, vendor, manager, archived bool
		copies                             int
	}
	var want flags
	switch rc.Stage {
	case StageIdle:
		want = flags{}
	case StagePrinting:
		want = flags{printed: true, copies: 1}
	case StageVendorSign:
		want = flags{printed: true, copies: 2}
	case StageManagerSign:
		want = flags{printed: true, copies: 2, vendor: true}
	case StageArchiving:
		want = flags{printed: true, copies: 2, vendor: true, manager: true}
	case StageArchived:
		want = flags{printed: true, copies: 2, vendor: true, manager: true, archived: true}
	default:
		return "unknown stage " + string(rc.Stage)
	}
	got := flags{printed: rc.Printed, vendor: rc.VendorSigned, manager: rc.ManagerSigned, archived: rc.CopyArchived, copies: rc.CopiesPrinted}
	if got != want {
		return "workflow flags disagree with stage " + string(rc.Stage)
	}
	if rc.Stage == StageIdle && (rc.Number != "" || rc.PrintDate != nil) {
		return "idle stage cannot carry a receipt number"
	}
	return ""
}
