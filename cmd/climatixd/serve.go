package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/climatix-tools/climatixd"
	"github.com/climatix-tools/climatixd/config"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// serveCmd runs the polling bridge.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the polling bridge",
	Long: `Run the climatixd polling bridge.

The bridge will:
  - Load configuration from the specified YAML file
  - Start the adaptive polling loop for every configured controller
  - Serve live values over the HTTP API if listen_port is set

The bridge runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  climatixd serve -c climatixd.yaml
  climatixd serve --config /etc/climatixd/climatixd.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	points := 0
	for _, cc := range cfg.Controllers {
		points += len(cc.Points)
	}
	logger.Info("config loaded",
		"controllers", len(cfg.Controllers),
		"points", points,
	)
	logger.Info("starting bridge",
		"listen_port", cfg.ListenPort,
		"journal", cfg.Journal.Path != "",
		"trace", cfg.Trace.Path != "",
	)

	// convert config to SDK options
	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build controllers: %w", err)
	}
	opts = append(opts, climatixd.WithLogger(logger))

	bridge, err := climatixd.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	defer func() {
		if err := bridge.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}()

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start bridge - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- bridge.Start(ctx)
	}()

	// wait for bridge to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("bridge error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("bridge error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
