package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/deficit-engine/deficit"
	"github.com/warp/deficit-engine/generic"
	"github.com/warp/deficit-engine/report"
)

// =============================================================================
// RECORDS
// =============================================================================

func (c *cli) listCmd() *cobra.Command {
	var status, employee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deficit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := c.rt.Engine.List(cmd.Context(), deficit.Filter{
				Status:     deficit.Status(status),
				EmployeeID: employee,
			})
			if err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only records in this status (pending, overdue, paid)")
	cmd.Flags().StringVar(&employee, "employee", "", "only records for this employee id")
	return cmd
}

func writeTable(out io.Writer, records []deficit.Record) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tDUE\tEMPLOYEE\tSHORT\tREMAINING\tSTATUS\tSTAGE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Date, r.DueDate, r.EmployeeID,
			r.ShortAmount.StringFixed(generic.MoneyPlaces),
			r.RemainingBalance.StringFixed(generic.MoneyPlaces),
			r.Status, r.Receipt.Stage)
	}
	return tw.Flush()
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.rt.Engine.Get(cmd.Context(), generic.RecordID(args[0]))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.rt.Engine.Delete(cmd.Context(), generic.RecordID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

// =============================================================================
// ESCALATION / PAYROLL
// =============================================================================

func (c *cli) escalateCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Promote pending records past their due date to overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			today := c.rt.Engine.Today()
			if asOf != "" {
				d, err := generic.ParseDate(asOf)
				if err != nil {
					return err
				}
				today = d
			}
			res, err := c.rt.Engine.EscalateAsOf(cmd.Context(), today)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "as of %s: examined %d, escalated %d, skipped %d\n", res.AsOf, res.Examined, res.Escalated, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate due dates against this day (YYYY-MM-DD)")
	return cmd
}

func (c *cli) capacityCmd() *cobra.Command {
	var month, employee string
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Payroll capacity report for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			period := generic.MonthOf(c.rt.Engine.Today())
			if month != "" {
				p, err := generic.ParseMonth(month)
				if err != nil {
					return err
				}
				period = p
			}
			rep, err := c.rt.Engine.PayrollCapacity(cmd.Context(), period, employee)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "period:      %s\n", rep.Period)
			fmt.Fprintf(out, "salary:      %s\n", rep.MonthlySalary.StringFixed(generic.MoneyPlaces))
			fmt.Fprintf(out, "deductions:  %s (%d records)\n", rep.Deductions.StringFixed(generic.MoneyPlaces), len(rep.Records))
			fmt.Fprintf(out, "remaining:   %s\n", rep.Remaining.StringFixed(generic.MoneyPlaces))
			if rep.Exceeded {
				fmt.Fprintln(out, "WARNING: deductions exceed the monthly salary")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month to report (YYYY-MM, default current)")
	cmd.Flags().StringVar(&employee, "employee", "", "only deductions for this employee id")
	return cmd
}

// =============================================================================
// EXPORT
// =============================================================================

func (c *cli) exportCmd() *cobra.Command {
	var status, employee, dir, format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write records to a CSV or XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var write func(io.Writer, []deficit.ExportRow) error
			switch strings.ToLower(format) {
			case "csv":
				write = report.WriteCSV
			case "xlsx":
				write = report.WriteXLSX
			default:
				return fmt.Errorf("unknown format %q (use csv or xlsx)", format)
			}

			rows, err := c.rt.Engine.Export(cmd.Context(), deficit.Filter{
				Status:     deficit.Status(status),
				EmployeeID: employee,
			})
			if err != nil {
				return err
			}

			path := filepath.Join(dir, report.Filename(c.rt.Engine.Today().Time, strings.ToLower(format)))
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := write(f, rows); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", len(rows), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	cmd.Flags().StringVar(&status, "status", "", "only records in this status")
	cmd.Flags().StringVar(&employee, "employee", "", "only records for this employee id")
	return cmd
}

// =============================================================================
// SETTINGS
// =============================================================================

func (c *cli) settingsCmd() *cobra.Command {
	var (
		pin, newPIN, salary string
		grace               int
	)
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change engine settings",
		Long: `Without flags, prints the current settings.

Changing anything requires the current manager PIN:
  deficitctl settings --pin 0000 --new-pin 4821
  deficitctl settings --pin 4821 --grace-days 7 --salary 1800`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var u deficit.SettingsUpdate
			if cmd.Flags().Changed("new-pin") {
				u.NewPIN = &newPIN
			}
			if cmd.Flags().Changed("grace-days") {
				u.DueDateGraceDays = &grace
			}
			if cmd.Flags().Changed("salary") {
				d, err := decimal.NewFromString(salary)
				if err != nil {
					return fmt.Errorf("invalid salary %q: %w", salary, err)
				}
				u.MonthlySalary = &d
			}

			view := c.rt.Engine.Settings()
			if u.NewPIN != nil || u.DueDateGraceDays != nil || u.MonthlySalary != nil {
				changed, err := c.rt.Engine.ChangeSettings(cmd.Context(), pin, u)
				if err != nil {
					return err
				}
				view = changed
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "due date grace days: %d\n", view.DueDateGraceDays)
			fmt.Fprintf(out, "monthly salary:      %s\n", view.MonthlySalary.StringFixed(generic.MoneyPlaces))
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "current manager PIN")
	cmd.Flags().StringVar(&newPIN, "new-pin", "", "new manager PIN (4-8 digits)")
	cmd.Flags().IntVar(&grace, "grace-days", 0, "days between a deficit and its due date")
	cmd.Flags().StringVar(&salary, "salary", "", "monthly salary used by the payroll capacity report")
	return cmd
}
