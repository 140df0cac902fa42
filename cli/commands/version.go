package commands

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/ordermesh/cli/styles"
)

// NewVersionCommand creates the version command
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styles.Banner())
			fmt.Fprintln(out)

			t := styles.NewTable().
				Row("Version", version).
				Row("Commit", commit).
				Row("Built", date).
				Row("Go", goruntime.Version()).
				Row("OS/Arch", fmt.Sprintf("%s/%s", goruntime.GOOS, goruntime.GOARCH))
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
}
