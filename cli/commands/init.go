package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/ordermesh/cli/styles"
	"github.com/AshkanYarmoradi/ordermesh/config"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a default " + config.FileName,
		Long: `Write a configuration file with every setting at its default.

Examples:
  ordermesh init             # Write ./ordermesh.yaml
  ordermesh init deploy/dev  # Write deploy/dev/ordermesh.yaml
  ordermesh init --force     # Overwrite an existing file`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			out := cmd.OutOrStdout()

			if config.Exists(dir) && !force {
				fmt.Fprintln(out, styles.FormatWarning(config.FileName+" already exists, use --force to overwrite"))
				return nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			doc, err := config.DefaultYAML()
			if err != nil {
				return err
			}
			path := filepath.Join(dir, config.FileName)
			if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
				return err
			}

			fmt.Fprintln(out, styles.FormatSuccess("Wrote "+path))
			fmt.Fprintln(out, styles.FormatInfo("Next: edit storage.driver, then run "+styles.Code().Render("ordermesh migrate")))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}
