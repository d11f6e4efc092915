// Orchd is the goal-driven orchestration daemon.
//
// The daemon turns high-level goals into tasks, schedules them against a
// pool of agents, validates outputs through a quality gate, and matches
// deliverables back to goals semantically.
//
// Usage:
//
//	# Start the daemon with defaults
//	orchd serve --runner-cmd ./agent-runner.sh
//
//	# Configure via file and environment
//	orchd serve --config ~/.config/orchd/config.yaml
//	EXECUTOR_WORKERS=8 orchd serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchd",
	Short: "Goal-driven orchestration daemon",
	Long: `orchd decomposes goals into tasks, dispatches them to agents by
priority and capability, validates outputs through a quality gate, and
matches deliverables back to goals by semantic similarity.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orchd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
