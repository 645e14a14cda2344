package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waymarklabs/waymark/internal/db"
)

// newMilestoneCmd creates the milestone command group
func newMilestoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "milestone",
		Short: "Manage workflow milestones",
	}

	cmd.AddCommand(newMilestoneNewCmd())
	cmd.AddCommand(newMilestoneLinkCmd())
	cmd.AddCommand(newMilestoneBaselineCmd())

	return cmd
}

func newMilestoneNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a milestone",
		Long: `Create a named milestone grouping workflows into dependency-ordered waves.

Examples:
  waymark milestone new "Sprint 7"
  waymark milestone new "Sprint 7" --github-number 3`,
		Args: cobra.ExactArgs(1),
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

			var ghNumber *int
			if cmd.Flags().Changed("github-number") {
				n, _ := cmd.Flags().GetInt("github-number")
				ghNumber = &n
			}

			m, err := store.CreateMilestone(args[0], ghNumber)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(m)
			}
			fmt.Printf("Created milestone %s (%s)\n", m.Name, m.ID)
			return nil
		},
	}

	cmd.Flags().Int("github-number", 0, "GitHub milestone number to associate")

	return cmd
}

func newMilestoneLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <milestone-id> <workflow-id>",
		Short: "Link a workflow into a milestone wave",
		Long: `Place a workflow into a milestone's execution wave. Workflows in the same
wave run concurrently; wave N+1 is blocked by all of wave N. Linking an
already linked workflow moves it to the new wave.

Example:
  waymark milestone link 5c1b... 3f2a... --wave 2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wave, _ := cmd.Flags().GetInt("wave")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.LinkWorkflowToMilestone(args[1], args[0], wave); err != nil {
				return err
			}

			if !quiet {
				fmt.Printf("Linked workflow %s into milestone %s (wave %d)\n", args[1], args[0], max(wave, 1))
			}
			return nil
		},
	}

	cmd.Flags().Int("wave", 1, "Execution wave for the workflow")

	return cmd
}

func newMilestoneBaselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline <milestone-id>",
		Short: "Capture a quality baseline for a milestone",
		Long: `Record lint and typecheck results as the milestone's quality baseline.
A milestone keeps at most one baseline; capturing again replaces it.

Example:
  waymark milestone baseline 5c1b... --lint-warnings 12 --lint-errors 0`,
		Args: cobra.ExactArgs(1),
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

			data := baselineFromFlags(cmd)
			if err := store.SaveBaseline(args[0], data); err != nil {
				return err
			}

			if !quiet {
				fmt.Printf("Captured baseline for milestone %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().Int("lint-exit-code", 0, "Lint exit code")
	cmd.Flags().Int("lint-warnings", 0, "Lint warning count")
	cmd.Flags().Int("lint-errors", 0, "Lint error count")
	cmd.Flags().Int("typecheck-exit-code", 0, "Typecheck exit code")
	cmd.Flags().Int("typecheck-errors", 0, "Typecheck error count")

	return cmd
}

func baselineFromFlags(cmd *cobra.Command) db.BaselineData {
	intFlag := func(name string) int {
		v, _ := cmd.Flags().GetInt(name)
		return v
	}
	return db.BaselineData{
		LintExitCode:      intFlag("lint-exit-code"),
		LintWarnings:      intFlag("lint-warnings"),
		LintErrors:        intFlag("lint-errors"),
		TypecheckExitCode: intFlag("typecheck-exit-code"),
		TypecheckErrors:   intFlag("typecheck-errors"),
	}
}
