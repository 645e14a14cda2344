package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waymarklabs/waymark/internal/progress"
)

// newTasksCmd creates the tasks command
func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks [workflow-id]",
		Short: "Show the task tree with aggregated progress",
		Long: `Print the hierarchical task tree built from the latest snapshots,
with completion progress aggregated per subtree. Without a workflow id, shows
tasks across all workflows.

Examples:
  waymark tasks
  waymark tasks 3f2a... --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID := ""
			if len(args) == 1 {
				workflowID = args[0]
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

			tree, err := progress.NewAggregator(store).TaskTree(workflowID)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(tree)
			}

			if len(tree) == 0 {
				fmt.Println("No tasks recorded")
				return nil
			}
			for _, node := range tree {
				printTreeNode(node, 0)
			}
			return nil
		},
	}

	return cmd
}

func printTreeNode(node progress.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Printf("%s%s [%s] %d%% (%d/%d done)\n",
		indent, node.Task.Subject, node.Task.Status,
		node.Progress.Percentage, node.Progress.Completed, node.Progress.Total)
	for _, child := range node.Children {
		printTreeNode(child, depth+1)
	}
}
