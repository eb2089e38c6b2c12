// Package main is the entry point for the climatixd CLI.
//
// climatixd can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach,
// plus one-shot probe commands for commissioning work.
//
// Usage:
//
//	climatixd serve -c climatixd.yaml       # Run the polling bridge
//	climatixd validate -c climatixd.yaml    # Validate configuration
//	climatixd watch -c climatixd.yaml       # Live terminal UI
//	climatixd read --host 192.168.1.40 "1!005121A700!2"
//	climatixd write --host 192.168.1.40 "1!005121A700!9" 21.5
//	climatixd version                       # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "climatixd",
	Short: "An adaptive polling bridge for Climatix controllers",
	Long: `climatixd polls Climatix-class HVAC controllers over their local JSON
endpoint and republishes the values through a stable HTTP API.

It batches point reads, backs off polling for values that stopped moving,
journals writes to guard the controller's flash, and exposes live values
over REST and Server-Sent Events.

Quick start:
  1. Create a config file (climatixd.yaml)
  2. Run: climatixd serve -c climatixd.yaml
  3. Query http://localhost:8624/api/points

Example config:
  listen_port: 8624
  controllers:
    - name: boiler
      host: 192.168.1.40
      points:
        - id: "1!005121A700!2"
        - id: "1!005121A700!9"
          mode: fast`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this climatixd binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("climatixd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
