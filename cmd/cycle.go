package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCycleCmd() *cobra.Command {
	var maxZones int
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Runs one crawl cycle and prints its summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if maxZones <= 0 {
				maxZones = a.Config.Orchestrator.MaxZones
			}
			stats, err := a.Orchestrator.RunCycle(cmd.Context(), maxZones)
			if err != nil {
				return fmt.Errorf("run cycle: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().IntVar(&maxZones, "max-zones", 0, "zones to select (default orchestrator.max_zones)")
	return cmd
}
