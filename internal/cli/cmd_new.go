package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newNewCmd creates the new command
func newNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start tracking a workflow for an issue",
		Long: `Create a workflow row for one issue attempt.

The workflow starts in phase research with status running. Creating a second
workflow for the same issue starts a fresh attempt; recovery always follows
the most recent one.

Examples:
  waymark new --issue 42 --branch fix/42
  waymark new --issue 42 --branch fix/42 --worktree /tmp/wt-42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, _ := cmd.Flags().GetInt("issue")
			branch, _ := cmd.Flags().GetString("branch")
			worktree, _ := cmd.Flags().GetString("worktree")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			w, err := store.CreateWorkflow(issue, branch, worktree)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(w)
			}
			fmt.Printf("Created workflow %s for issue #%d on %s\n", w.ID, w.IssueNumber, w.Branch)
			return nil
		},
	}

	cmd.Flags().Int("issue", 0, "Issue number the workflow tracks")
	cmd.Flags().String("branch", "", "Branch the workflow works on")
	cmd.Flags().String("worktree", "", "Optional worktree path")
	_ = cmd.MarkFlagRequired("issue")
	_ = cmd.MarkFlagRequired("branch")

	return cmd
}
