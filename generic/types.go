/*
Package generic provides the domain-agnostic building blocks of the deficit engine.

PURPOSE:
  This package holds the pieces that know nothing about cash deficits:
  money arithmetic, calendar dates, the key-value persistence contract and
  the error taxonomy. The deficit package builds its lifecycle on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money helpers over decimal.Decimal (never float64)
  - RecordID / PaymentID: type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing record/payment IDs
  3. Cents: Amounts entering the engine are rounded to two places

USAGE:
  short := generic.ClampZero(totalSales.Sub(moneyGiven))
  amount := generic.Cents(req.Amount)

SEE ALSO:
  - time.go: Day-granularity calendar dates
  - store.go: Key-value persistence interface
  - errors.go: Error taxonomy
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RecordID string
type PaymentID string

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places money is kept at.
const MoneyPlaces = 2

// Cents rounds an amount to MoneyPlaces.
func Cents(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// ClampZero returns d, or zero if d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
