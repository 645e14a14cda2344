package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newCommitCmd creates the commit command
func newCommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <workflow-id> <sha> <message...>",
		Short: "Record a commit against a workflow",
		Long: `Append one entry to a workflow's commit audit trail.

Example:
  waymark commit 3f2a... 9be1d2c "fix login redirect"`,
		Args: cobra.MinimumNArgs(3),
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

			c, err := store.LogCommit(args[0], args[1], strings.Join(args[2:], " "))
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(c)
			}
			fmt.Printf("Recorded commit %s on workflow %s\n", c.SHA, c.WorkflowID)
			return nil
		},
	}
}
