package cmd

import (
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [category]",
		Short: "Fetch then filter in one process",
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
			if _, _, err := a.Pipeline.Run(cmd.Context(), list, categoryFilter(cmd, args)); err != nil {
				return err
			}
			return a.WriteMetrics()
		},
	}
}
