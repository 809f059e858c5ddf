// Command deficitctl is the operator CLI for the deficit engine. It opens
// the same store the server uses and runs one engine operation per call.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/deficit-engine/cmd/internal/boot"
	"github.com/warp/deficit-engine/config"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	backend    string
	dbPath     string
	verbose    bool

	log *logrus.Logger
	rt  *boot.Runtime
}

func main() {
	root, c := newRootCmd()
	err := root.Execute()
	if cerr := c.close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The caller closes the returned cli
// after Execute, whether or not the subcommand failed.
func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:   "deficitctl",
		Short: "Operate the cash-deficit engine from the command line",
		Long: `deficitctl opens the configured store and runs a single engine operation.

Available subcommands:
  list      - List deficit records
  show      - Show one record as JSON
  escalate  - Promote pending records past their due date to overdue
  export    - Write records to a CSV or XLSX file
  capacity  - Payroll capacity report for a month
  delete    - Delete a record
  settings  - Show or change engine settings (PIN required to change)`,
		SilenceUsage:      true,
		PersistentPreRunE: c.open,
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "deficit.toml", "TOML configuration file")
	root.PersistentFlags().StringVar(&c.backend, "storage", "", "storage backend (overrides config)")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log engine activity to stderr")

	root.AddCommand(
		c.listCmd(),
		c.showCmd(),
		c.escalateCmd(),
		c.exportCmd(),
		c.capacityCmd(),
		c.deleteCmd(),
		c.settingsCmd(),
	)
	return root, c
}

func (c *cli) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.backend != "" {
		cfg.Storage.Backend = c.backend
	}
	if c.dbPath != "" {
		cfg.Storage.Path = c.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.log = config.NewLogger(cfg.Log.Level, "text")
	c.log.SetOutput(cmd.ErrOrStderr())
	if !c.verbose {
		c.log.SetLevel(logrus.WarnLevel)
	}

	// The CLI never prints settlement documents.
	rt, err := boot.Open(cmd.Context(), cfg, c.log, false)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	c.rt = rt
	return nil
}

func (c *cli) close() error {
	if c.rt == nil {
		return nil
	}
	err := c.rt.Close()
	c.rt = nil
	return err
}
