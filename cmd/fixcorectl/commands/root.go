// Package commands implements the fixcorectl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantrail/fixcore/internal/config"
)

var (
	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// configPath is the fixcore configuration file this invocation reads
	// store paths (contexts file, replay-index directory) from.
	configPath string

	// cfg is the loaded configuration, populated in PersistentPreRunE.
	cfg *config.Config
)

// rootCmd is the top-level cobra command for fixcorectl.
var rootCmd = &cobra.Command{
	Use:   "fixcorectl",
	Short: "Offline operator CLI for the fixcore persistence/replay core",
	Long: "fixcorectl reads the fixcore engine's on-disk stores directly -- the " +
		"session-context file and the replay-index ring files -- rather than " +
		"through a network control plane, since the engine exposes none.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		cfg = loaded

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	return config.DefaultConfig(), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"fixcore configuration file (defaults match config.DefaultConfig())")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(replayIndexCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
