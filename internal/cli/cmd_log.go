package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waymarklabs/waymark/internal/db"
)

// newLogCmd creates the log command
func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <workflow-id> <action>",
		Short: "Append an action to a workflow's history",
		Long: `Append one entry to a workflow's append-only action log.

Gate completion markers follow the gate-N-<description> convention; recovery
derives gated-workflow progress from them.

Examples:
  waymark log 3f2a... gate-1-issue-reviewed --result success
  waymark log 3f2a... test_run --result failed --meta error="3 tests failing"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, _ := cmd.Flags().GetString("result")
			metaPairs, _ := cmd.Flags().GetStringArray("meta")

			switch db.ActionResult(result) {
			case db.ResultSuccess, db.ResultFailed, db.ResultPending:
			default:
				return fmt.Errorf("invalid --result %q (success, failed, pending)", result)
			}

			meta, err := parseMetaFlags(metaPairs)
			if err != nil {
				return err
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

			a, err := store.LogAction(args[0], args[1], db.ActionResult(result), meta)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(a)
			}
			fmt.Printf("Logged %s (%s) on workflow %s\n", a.Action, a.Result, a.WorkflowID)
			return nil
		},
	}

	cmd.Flags().String("result", "success", "Action result (success, failed, pending)")
	cmd.Flags().StringArray("meta", nil, "Metadata entry as key=value (repeatable)")

	return cmd
}
