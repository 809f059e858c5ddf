package deficit

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/metrics"
)

// Action names a settlement operation in errors, logs and metrics.
type Action string

const (
	ActionPrint         Action = "print"
	ActionVendorSigned  Action = "vendor_signed"
	ActionManagerSigned Action = "manager_signed"
	ActionArchive       Action = "archive"
	ActionCancel        Action = "cancel"
	ActionPayroll       Action = "payroll"
)

// =============================================================================
// STATE MACHINE
//
//   idle ──Print(copy 1)──▶ printing ──(copy 2)──▶ vendor_sign
//        ──ConfirmVendorSigned──▶ manager_sign
//        ──ConfirmManagerSigned──▶ archiving
//        ──ConfirmArchive──▶ archived
//
//   Cancel (PIN) returns any stage to idle.
// =============================================================================

// Print produces both copies of the settlement document.
//
// From idle it produces copy 1 on a scratch record; if that fails nothing is
// stored. Once copy 1 is committed the record is in printing and copy 2 is
// produced. If copy 2 fails the record stays in printing with copy 1 kept,
// and calling Print again retries copy 2 only.
func (e *Engine) Print(ctx context.Context, id generic.RecordID, managerName string) (rec Record, err error) {
	defer func() { e.observe(ActionPrint, id, err) }()

	release, err := e.guard.Acquire(ctx, id)
	if err != nil {
		return Record{}, err
	}
	defer release()

	rec, err = e.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}

	switch rec.Receipt.Stage {
	case StageIdle:
		rec, err = e.printFirstCopy(ctx, rec, managerName)
		if err != nil {
			return Record{}, err
		}
	case StagePrinting:
		// copy 1 already committed
	default:
		return Record{}, &TransitionError{RecordID: id, Action: ActionPrint, Stage: rec.Receipt.Stage}
	}

	if _, err := e.produce(ctx, rec, CopyManager); err != nil {
		return rec, err
	}
	return e.repo.mutate(ctx, id, func(r *Record) error {
		if r.Receipt.Stage != StagePrinting {
			return &TransitionError{RecordID: id, Action: ActionPrint, Stage: r.Receipt.Stage}
		}
		r.Receipt.CopiesPrinted = 2
		r.Receipt.Stage = StageVendorSign
		return nil
	})
}

func (e *Engine) printFirstCopy(ctx context.Context, rec Record, managerName string) (Record, error) {
	if rec.IsSettled() {
		return Record{}, invalid("status", "record is already paid")
	}
	name := strings.TrimSpace(managerName)
	if name == "" {
		name = rec.ManagerName
	}
	if name == "" {
		return Record{}, invalid("managerName", "required to print")
	}

	now := e.now()
	scratch := rec.Clone()
	scratch.ManagerName = name
	scratch.Receipt = Receipt{
		Stage:         StagePrinting,
		Printed:       true,
		Number:        NewReceiptNumber(now),
		PrintDate:     &now,
		CopiesPrinted: 1,
	}

	number, err := e.produce(ctx, scratch, CopyVendor)
	if err != nil {
		return Record{}, err
	}
	if number != "" {
		scratch.Receipt.Number = number
	}

	return e.repo.mutate(ctx, rec.ID, func(r *Record) error {
		if r.Receipt.Stage != StageIdle {
			return &TransitionError{RecordID: r.ID, Action: ActionPrint, Stage: r.Receipt.Stage}
		}
		r.ManagerName = name
		r.Receipt = scratch.Receipt
		return nil
	})
}

// produce runs one sink call under the engine's sink timeout.
func (e *Engine) produce(ctx context.Context, rec Record, copyNum int) (string, error) {
	var number string
	err := errNoSink
	if e.sink != nil {
		callCtx, cancel := context.WithTimeout(ctx, e.sinkTTL)
		number, err = e.sink.Produce(callCtx, rec.Clone(), copyNum)
		cancel()
	}
	if err != nil {
		metrics.SinkFailures.WithLabelValues(strconv.Itoa(copyNum)).Inc()
		return "", &SinkError{RecordID: rec.ID, Copy: copyNum, Err: err}
	}
	return strings.TrimSpace(number), nil
}

// ConfirmVendorSigned records the vendor's signature on both copies.
func (e *Engine) ConfirmVendorSigned(ctx context.Context, id generic.RecordID) (Record, error) {
	return e.advance(ctx, id, ActionVendorSigned, StageVendorSign, func(r *Record) {
		r.Receipt.VendorSigned = true
		r.Receipt.Stage = StageManagerSign
	})
}

// ConfirmManagerSigned records the manager's countersignature.
func (e *Engine) ConfirmManagerSigned(ctx context.Context, id generic.RecordID) (Record, error) {
	return e.advance(ctx, id, ActionManagerSigned, StageManagerSign, func(r *Record) {
		r.Receipt.ManagerSigned = true
		r.Receipt.Stage = StageArchiving
	})
}

// ConfirmArchive files the signed copy and closes the deficit. Whatever is
// still owed is settled by a synthesised settlement payment.
func (e *Engine) ConfirmArchive(ctx context.Context, id generic.RecordID) (Record, error) {
	return e.advance(ctx, id, ActionArchive, StageArchiving, func(r *Record) {
		if r.RemainingBalance.IsPositive() {
			r.Payments = append(r.Payments, synthesize(r, SourceSettlement, e.now(), "settled at archive"))
			metrics.Payments.WithLabelValues(string(SourceSettlement)).Inc()
		}
		r.Receipt.CopyArchived = true
		r.Receipt.Stage = StageArchived
	})
}

// advance runs a one-step transition that is only accepted in stage from.
func (e *Engine) advance(ctx context.Context, id generic.RecordID, action Action, from Stage, apply func(*Record)) (rec Record, err error) {
	defer func() { e.observe(action, id, err) }()

	release, err := e.guard.Acquire(ctx, id)
	if err != nil {
		return Record{}, err
	}
	defer release()

	return e.repo.mutate(ctx, id, func(r *Record) error {
		if r.Receipt.Stage != from {
			return &TransitionError{RecordID: id, Action: action, Stage: r.Receipt.Stage}
		}
		apply(r)
		return nil
	})
}

// =============================================================================
// CANCELLATION
// =============================================================================

// Cancel returns the record to idle from any stage. It needs the manager
// PIN. Every workflow flag and the payroll flag are cleared, payments the
// engine synthesised are removed, and the status falls back to overdue if
// the record was ever overdue, else pending. Manual payments stay, so a
// record they already cover remains paid.
func (e *Engine) Cancel(ctx context.Context, id generic.RecordID, pin, reason string) (rec Record, err error) {
	defer func() { e.observe(ActionCancel, id, err) }()

	if err := e.gate.Verify(ctx, pin); err != nil {
		return Record{}, err
	}
	release, err := e.guard.Acquire(ctx, id)
	if err != nil {
		return Record{}, err
	}
	defer release()

	return e.repo.mutate(ctx, id, func(r *Record) error {
		kept := make([]Payment, 0, len(r.Payments))
		for _, p := range r.Payments {
			if !p.Synthesized() {
				kept = append(kept, p)
			}
		}
		r.Payments = kept
		r.Receipt = Receipt{Stage: StageIdle}
		r.PaidFromPayroll = false
		r.SettledAt = nil
		if r.WasOverdue {
			r.Status = StatusOverdue
		} else {
			r.Status = StatusPending
		}

		now := e.now()
		r.CancellationReason = strings.TrimSpace(reason)
		r.CancelledAt = &now
		return nil
	})
}

// observe counts and logs the outcome of a workflow action.
func (e *Engine) observe(action Action, id generic.RecordID, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, generic.ErrSinkUnavailable):
		result = "sink_failed"
	case generic.IsClientError(err), generic.IsNotFound(err), errors.Is(err, generic.ErrBusy):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.WorkflowTransitions.WithLabelValues(string(action), result).Inc()

	entry := e.log.WithFields(logrus.Fields{"record_id": id, "action": action, "result": result})
	if err != nil {
		entry.WithError(err).Warn("settlement action not applied")
		return
	}
	entry.Info("settlement action applied")
}
