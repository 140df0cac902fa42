// Package commands provides the ordermesh CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/ordermesh/cli/styles"
	"github.com/AshkanYarmoradi/ordermesh/config"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the ordermesh CLI
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "ordermesh",
		Short: "Event-sourced aggregates and change data capture routing",
		Long: styles.Banner() + `

ordermesh persists aggregates as snapshots plus an append-only event log
and routes committed events to downstream services.

` + styles.Title().Render("Quick Start:") + `

  ` + styles.Code().Render("ordermesh init") + `          Write ordermesh.yaml
  ` + styles.Code().Render("ordermesh migrate") + `       Create the store schema
  ` + styles.Code().Render("ordermesh serve") + `         Serve the cart and order gRPC APIs
  ` + styles.Code().Render("ordermesh router run") + `    Route committed events downstream`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default ./"+config.FileName+")")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewRouterCommand())
	rootCmd.AddCommand(NewRelayCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewInspectCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// loadConfig loads the file named by --config, or the default search.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}
