package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/waymarklabs/waymark/internal/config"
)

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize waymark in current project",
		Long: `Initialize waymark in the current directory.

Creates the .waymark directory with a default config file and an empty,
migrated store.

Examples:
  waymark init            # Initialize with defaults
  waymark init --force    # Overwrite an existing config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			cfgPath := filepath.Join(config.WaymarkDir, config.ConfigFileName)
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("waymark already initialized. Use --force to reinitialize")
			}

			cfg := config.Default()
			if err := cfg.Write(cfgPath); err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if !quiet {
				fmt.Printf("Initialized waymark in %s (store at %s)\n", config.WaymarkDir, store.Path())
			}
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Overwrite existing configuration")

	return cmd
}
