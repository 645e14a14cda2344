package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// newCleanupCmd creates the cleanup command
func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Fail workflows that have gone stale",
		Long: `Transition running workflows with no recent updates to failed.

Each cleaned workflow gets a workflow_stale_cleanup action recording why and
when. The threshold defaults to the configured value.

Example:
  waymark cleanup --threshold-hours 48`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			threshold := cfg.Cleanup.StaleThresholdHours
			if cmd.Flags().Changed("threshold-hours") {
				threshold, _ = cmd.Flags().GetInt("threshold-hours")
			}

			cleaned, err := store.CleanupStaleWorkflows(threshold)
			if err != nil {
				return err
			}
			if cleaned > 0 {
				if err := store.RecordMetric("workflows_stale_cleaned", float64(cleaned)); err != nil {
					slog.Warn("failed to record cleanup metric", "error", err)
				}
			}

			if jsonOut {
				return printJSON(map[string]int{"cleaned": cleaned})
			}
			fmt.Printf("Cleaned up %d stale workflow(s)\n", cleaned)
			return nil
		},
	}

	cmd.Flags().Int("threshold-hours", 0, "Staleness threshold in hours (0 uses config)")

	return cmd
}
