package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waymarklabs/waymark/internal/db"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show active workflows and milestones",
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

			workflows, err := store.ListActiveWorkflows()
			if err != nil {
				return err
			}
			milestones, err := store.ListActiveMilestones()
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(struct {
					Workflows  []db.Workflow  `json:"workflows"`
					Milestones []db.Milestone `json:"milestones"`
				}{workflows, milestones})
			}

			if len(workflows) == 0 && len(milestones) == 0 {
				fmt.Println("No active workflows or milestones")
				return nil
			}

			if len(workflows) > 0 {
				fmt.Printf("Active workflows (%d):\n", len(workflows))
				for _, w := range workflows {
					fmt.Printf("  %s  issue #%-5d %-10s %-9s retries=%d  %s\n",
						w.ID, w.IssueNumber, w.Phase, w.Status, w.RetryCount, w.Branch)
				}
			}
			if len(milestones) > 0 {
				fmt.Printf("Active milestones (%d):\n", len(milestones))
				for _, m := range milestones {
					fmt.Printf("  %s  %-10s %-9s %s\n", m.ID, m.Phase, m.Status, m.Name)
				}
			}
			return nil
		},
	}
}
