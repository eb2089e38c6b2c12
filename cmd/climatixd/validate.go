package main

import (
	"fmt"
	"strings"

	"github.com/climatix-tools/climatixd/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the bridge.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a climatixd configuration file without starting the bridge.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  climatixd validate -c climatixd.yaml
  climatixd validate --config /etc/climatixd/climatixd.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// count points per polling mode across all controllers
	points := 0
	automatic, fast, slow := 0, 0, 0
	for _, cc := range cfg.Controllers {
		points += len(cc.Points)
		for _, pc := range cc.Points {
			switch strings.ToLower(strings.TrimSpace(pc.Mode)) {
			case "fast":
				fast++
			case "slow":
				slow++
			default:
				automatic++
			}
		}
	}

	listen := "disabled"
	if cfg.ListenPort != 0 {
		listen = fmt.Sprintf("%d", cfg.ListenPort)
	}
	journal := "disabled"
	if cfg.Journal.Path != "" {
		journal = cfg.Journal.Path
	}
	trace := "disabled"
	if cfg.Trace.Path != "" {
		trace = cfg.Trace.Path
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Listen port: %s\n", listen)
	fmt.Printf("  Journal:     %s\n", journal)
	fmt.Printf("  Trace:       %s\n", trace)
	fmt.Printf("  Controllers: %d\n", len(cfg.Controllers))
	fmt.Printf("  Points:      %d (%d automatic, %d fast, %d slow)\n",
		points, automatic, fast, slow)

	return nil
}
