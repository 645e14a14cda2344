package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waymarklabs/waymark/internal/recovery"
)

// newRecoverCmd creates the recover command
func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Rebuild the task plan for an issue or milestone",
		Long: `Reconstruct the remaining work from stored state after a restart.

Recovery is read-only: it projects the workflow's action history and phase,
or the milestone's wave structure, into an ordered task list.

Examples:
  waymark recover --issue 42
  waymark recover --issue 42 --archetype gated
  waymark recover --milestone "Sprint 7" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, _ := cmd.Flags().GetInt("issue")
			milestone, _ := cmd.Flags().GetString("milestone")
			archetype, _ := cmd.Flags().GetString("archetype")

			if (issue == 0) == (milestone == "") {
				return fmt.Errorf("specify exactly one of --issue or --milestone")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			engine := recovery.NewEngine(store)

			var plan *recovery.Plan
			if issue != 0 {
				plan, err = engine.RecoverTasksByIssue(issue, recovery.Archetype(archetype))
			} else {
				plan, err = engine.RecoverTasksByMilestone(milestone)
			}
			if err != nil {
				return err
			}
			if plan == nil {
				fmt.Println("Nothing to recover")
				return nil
			}

			if jsonOut {
				return printJSON(plan)
			}

			fmt.Println(plan.Summary)
			for i, t := range plan.Tasks {
				marker := " "
				switch t.Status {
				case recovery.StatusCompleted:
					marker = "x"
				case recovery.StatusInProgress:
					marker = ">"
				}
				fmt.Printf("  [%s] %d. %s", marker, i, t.Subject)
				if len(t.BlockedBy) > 0 {
					fmt.Printf("  (blocked by %v)", t.BlockedBy)
				}
				if t.Metadata != nil && t.Metadata["failed"] == true {
					fmt.Print("  FAILED")
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().Int("issue", 0, "Recover the most recent workflow for this issue")
	cmd.Flags().String("milestone", "", "Recover a milestone by name")
	cmd.Flags().String("archetype", "auto", "Workflow archetype (auto, gated, phased)")

	return cmd
}
