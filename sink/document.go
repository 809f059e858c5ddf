/*
Package sink turns a settlement record into a printable document and hands
it to wherever documents go: a spool directory watched by the print daemon,
or a Cloud Storage bucket for the archive copy.

DOCUMENT:
  Each copy is one JSON document named <receipt>-copy<n>.json. Copy 1 is the
  vendor's, copy 2 is filed by the manager. The layout is the print daemon's
  concern; only the fields are fixed here.

SEE ALSO:
  - deficit/sink.go: DocumentSink contract
  - deficit/workflow.go: when copies are produced
*/
package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
)

// Document is the content of one settlement copy.
type Document struct {
	ReceiptNumber string           `json:"receiptNumber"`
	Copy          int              `json:"copy"`
	CopyFor       string           `json:"copyFor"`
	RecordID      generic.RecordID `json:"recordId"`
	ShiftDate     string           `json:"shiftDate"`
	Shift         string           `json:"shift"`
	EmployeeID    string           `json:"employeeId"`
	TillNumber    string           `json:"tillNumber,omitempty"`
	ManagerName   string           `json:"managerName"`
	WitnessName   string           `json:"witnessName,omitempty"`
	TotalSales    string           `json:"totalSales"`
	MoneyGiven    string           `json:"moneyGiven"`
	ShortAmount   string           `json:"shortAmount"`
	AlreadyPaid   string           `json:"alreadyPaid"`
	Remaining     string           `json:"remaining"`
	DueDate       string           `json:"dueDate"`
	PrintedAt     time.Time        `json:"printedAt"`
}

// NewDocument renders copy copyNum of rec.
func NewDocument(rec deficit.Record, copyNum int) (Document, error) {
	if rec.Receipt.Number == "" {
		return Document{}, fmt.Errorf("record %s has no receipt number", rec.ID)
	}
	copyFor := "vendor"
	if copyNum == deficit.CopyManager {
		copyFor = "manager"
	}
	printedAt := time.Now().UTC()
	if rec.Receipt.PrintDate != nil {
		printedAt = rec.Receipt.PrintDate.UTC()
	}
	money := func(d decimal.Decimal) string { return d.StringFixed(generic.MoneyPlaces) }

	return Document{
		ReceiptNumber: rec.Receipt.Number,
		Copy:          copyNum,
		CopyFor:       copyFor,
		RecordID:      rec.ID,
		ShiftDate:     rec.Date.String(),
		Shift:         string(rec.Shift),
		EmployeeID:    rec.EmployeeID,
		TillNumber:    rec.TillNumber,
		ManagerName:   rec.ManagerName,
		WitnessName:   rec.WitnessName,
		TotalSales:    money(rec.TotalSales),
		MoneyGiven:    money(rec.MoneyGiven),
		ShortAmount:   money(rec.ShortAmount),
		AlreadyPaid:   money(rec.PaidTotal()),
		Remaining:     money(rec.RemainingBalance),
		DueDate:       rec.DueDate.String(),
		PrintedAt:     printedAt,
	}, nil
}

// Name is the file or object name of the document.
func (d Document) Name() string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, d.ReceiptNumber)
	return fmt.Sprintf("%s-copy%d.json", safe, d.Copy)
}

func (d Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
