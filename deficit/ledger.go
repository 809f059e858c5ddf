package deficit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/metrics"
)

// ApplyPayment appends a manual payment to the record's ledger.
//
// The balance and status follow from the ledger: a zero balance makes the
// record paid, and a payment that leaves a balance on a paid record sends it
// back to pending. Any payment clears the payroll flag.
func (e *Engine) ApplyPayment(ctx context.Context, id generic.RecordID, amount decimal.Decimal, notes string) (Record, error) {
	amount = generic.Cents(amount)
	if !amount.IsPositive() {
		return Record{}, invalid("amount", "must be greater than zero")
	}

	rec, err := e.repo.mutate(ctx, id, func(rec *Record) error {
		rec.Payments = append(rec.Payments, Payment{
			ID:        generic.PaymentID(uuid.NewString()),
			Timestamp: e.now(),
			Amount:    amount,
			Notes:     notes,
			Source:    SourceManual,
		})
		rec.PaidFromPayroll = false
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	metrics.Payments.WithLabelValues(string(SourceManual)).Inc()
	e.log.WithFields(logrus.Fields{
		"record_id": id,
		"amount":    amount.StringFixed(generic.MoneyPlaces),
		"remaining": rec.RemainingBalance.StringFixed(generic.MoneyPlaces),
		"status":    rec.Status,
	}).Info("payment applied")
	return rec, nil
}

// synthesize builds the engine-created payment that settles what is left.
func synthesize(rec *Record, source PaymentSource, at time.Time, notes string) Payment {
	return Payment{
		ID:        generic.PaymentID(uuid.NewString()),
		Timestamp: at,
		Amount:    rec.RemainingBalance,
		Notes:     notes,
		Source:    source,
	}
}
