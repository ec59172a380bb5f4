// Package cli holds the marks command tree.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/marks/internal/config"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "marks",
		Short: "Personal bookmark manager",
		Long: `marks keeps a personal list of bookmarks in sync with a backing store.
Sign in through the browser with "marks serve", then add, select and delete
bookmarks; changes made elsewhere show up live.

Settings come from MARKS_* environment variables or the file named by MARKS_CONFIG.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newImportCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)
	return root
}

// ExecuteContext runs the command tree with ctx.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

// setup loads the configuration and builds the logger every command shares.
func setup() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	log.Debug("configuration loaded", logger.Any("config", cfg.Redacted()))
	return cfg, log, nil
}
