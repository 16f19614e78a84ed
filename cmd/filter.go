package cmd

import (
	"github.com/spf13/cobra"
)

func newFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filter [category]",
		Short: "Window and dedupe raw-items.json into filtered-items.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := a.Pipeline.LoadRaw(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := a.Pipeline.Filter(cmd.Context(), raw, categoryFilter(cmd, args)); err != nil {
				return err
			}
			return a.WriteMetrics()
		},
	}
}
