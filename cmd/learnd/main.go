// Learnd is the background learning daemon: it queues, schedules, and
// processes pattern-detection and insight-generation work over captured
// project memories.
//
// Usage:
//
//	# Start the daemon
//	learnd serve
//
//	# Force an out-of-band analysis run
//	learnd enqueue --type=manual_analysis --payload='{"query":"repository pattern"}'
//
//	# Inspect pipeline state
//	learnd status
//
// Configuration comes from ~/.config/learnd/config.yaml (or --config) with
// LEARND_* environment overrides.
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

// configPath is the --config persistent flag value.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "learnd",
	Short: "Background learning daemon for captured project memories",
	Long: `learnd mines captured project memories for recurring patterns and
produces cross-project insights. It runs a durable priority task queue,
a recurring scheduler, a rule-based pattern engine, and a correlation
engine that feeds actionable insights back into the queue.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/learnd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("learnd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
