// Package report writes the deficit export projection as CSV or XLSX.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/warp/deficit-engine/deficit"
)

// SheetName is the worksheet the XLSX export writes to.
const SheetName = "Deficits"

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Filename returns the attachment name for an export taken at t.
func Filename(t time.Time, ext string) string {
	return fmt.Sprintf("deficits-%s.%s", t.Format("20060102"), ext)
}

// WriteCSV writes a header row and one row per export row.
func WriteCSV(w io.Writer, rows []deficit.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(deficit.Columns()); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row.Values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook. Money columns are numeric cells
// so they can be summed.
func WriteXLSX(w io.Writer, rows []deficit.ExportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	for i, h := range deficit.Columns() {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return err
		}
	}

	for r, row := range rows {
		for c, value := range cells(row) {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(SheetName, cell, value); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	return f.Write(w)
}

// cells is Values with typed money, counts and flags.
func cells(row deficit.ExportRow) []any {
	typed := map[string]any{
		"total_sales":       row.TotalSales.InexactFloat64(),
		"money_given":       row.MoneyGiven.InexactFloat64(),
		"short_amount":      row.ShortAmount.InexactFloat64(),
		"remaining_balance": row.RemainingBalance.InexactFloat64(),
		"days_overdue":      row.DaysOverdue,
		"paid_from_payroll": row.PaidFromPayroll,
	}
	values := row.Values()
	out := make([]any, len(values))
	for i, name := range deficit.Columns() {
		if v, ok := typed[name]; ok {
			out[i] = v
			continue
		}
		out[i] = values[i]
	}
	return out
}
