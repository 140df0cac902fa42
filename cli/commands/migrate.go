package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/ordermesh/cli/styles"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store schema",
		Long: `Create the tables, collections and indexes the configured store needs.

Running it again is safe; existing objects are left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styles.FormatStep(1, 2, "Connecting to "+cfg.Storage.Driver))
			fmt.Fprintln(out, styles.FormatStep(2, 2, "Creating schema"))
			if err := rt.store.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Storage.Driver, err)
			}

			fmt.Fprintln(out, styles.FormatSuccess("Schema is up to date"))
			return nil
		},
	}
}
