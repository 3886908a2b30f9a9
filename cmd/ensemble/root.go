package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Multi-worker task coordination engine",
	Long: `Ensemble coordinates task graphs across a pool of workers and keeps
a tiered memory of what they produced.

Tasks are declared in a YAML file with optional dependencies; ensemble
schedules them in dependency waves (or sequentially, or all at once),
dispatches each to a worker matching its profile, and folds the results
into one synthesized summary. Sessions persist to .ensemble/state.db and
their summaries can feed back into memory for later retrieval.

Start with 'ensemble init' to scaffold a project, then 'ensemble run'.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
