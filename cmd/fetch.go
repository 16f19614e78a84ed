package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/app"
	"github.com/JakeFAU/feeddigest/internal/feed"
	"github.com/JakeFAU/feeddigest/internal/sources"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [category]",
		Short: "Fetch every enabled feed and write raw-items.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			list, err := loadSources(a)
			if err != nil {
				return err
			}
			if _, err := a.Pipeline.Fetch(cmd.Context(), list, categoryFilter(cmd, args)); err != nil {
				return err
			}
			return a.WriteMetrics()
		},
	}
}

func loadSources(a *app.App) (feed.SourceList, error) {
	path := a.Config.Paths.Sources
	list, err := sources.Load(path)
	if err != nil {
		return feed.SourceList{}, err
	}
	a.Logger.Info("Loaded source list",
		zap.String("path", path),
		zap.Int("categories", len(list.Categories)),
	)
	return list, nil
}
