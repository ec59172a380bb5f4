package app

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/mutation"
	"github.com/MrSnakeDoc/marks/internal/sources/homepage"
)

// ImportReport counts the outcome of each imported entry.
type ImportReport struct {
	Added   int
	Skipped int
	Failed  int
}

// Import adds every bookmark of a Homepage bookmarks.yaml for the stored session.
func (a *App) Import(ctx context.Context, path string) (ImportReport, error) {
	cfg, err := homepage.NewLoader(path).Load()
	if err != nil {
		return ImportReport{}, fmt.Errorf("load %s: %w", path, err)
	}
	entries := homepage.Flatten(cfg)

	id, err := a.Session.Resolve(ctx)
	if err != nil {
		return ImportReport{}, err
	}
	if id == nil {
		return ImportReport{}, ErrNotSignedIn
	}
	a.logger.Info("importing bookmarks",
		logger.String("file", path),
		logger.Int("entries", len(entries)),
		logger.String("user_id", id.ID))

	return importEntries(ctx, a.Controller, entries, a.logger), nil
}

// importEntries sends each entry through Add, so the usual guards apply.
func importEntries(ctx context.Context, c *mutation.Controller, entries []homepage.Entry, log logger.Logger) ImportReport {
	var rep ImportReport
	for _, e := range entries {
		res := c.Add(ctx, e.Title, e.URL)
		switch res.Status {
		case domain.StatusOK:
			rep.Added++
		case domain.StatusSkipped:
			rep.Skipped++
		default:
			rep.Failed++
			log.Warn("import entry failed",
				logger.String("category", e.Category),
				logger.String("title", e.Title),
				logger.Error(res.Err))
		}
	}
	return rep
}
