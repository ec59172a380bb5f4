package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/marks/internal/app"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <bookmarks.yaml>",
		Short: "Add the bookmarks of a Homepage bookmarks.yaml",
		Long: `Import reads a Homepage (gethomepage.dev) bookmarks.yaml and adds each entry
for the signed-in user. Entries without a name or href are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d, skipped %d, failed %d\n", rep.Added, rep.Skipped, rep.Failed)
			if rep.Failed > 0 {
				return fmt.Errorf("%d bookmarks could not be added", rep.Failed)
			}
			return nil
		},
	}
}
