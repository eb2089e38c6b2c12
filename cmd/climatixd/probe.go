package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/climatix-tools/climatixd/config"
	"github.com/climatix-tools/climatixd/internal/device"
	"github.com/spf13/cobra"
)

// addProbeFlags registers the connection flags shared by the read and write
// commands. The connection comes either from --host plus the credential
// flags, or from --config (with --controller when several are defined).
func addProbeFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "controller IP address or hostname")
	cmd.Flags().Int("port", device.DefaultPort, "controller web service port")
	cmd.Flags().String("username", device.DefaultUsername, "basic auth username")
	cmd.Flags().String("password", device.DefaultPassword, "basic auth password")
	cmd.Flags().String("pin", device.DefaultPIN, "device access PIN")
	cmd.Flags().Duration("timeout", device.DefaultTimeout, "per-request timeout")
	cmd.Flags().StringP("config", "c", "", "config file to take the connection from")
	cmd.Flags().String("controller", "", "controller name when the config defines several")
}

// probeConnection resolves the connection for a probe command.
func probeConnection(cmd *cobra.Command) (device.Connection, error) {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return device.Connection{}, fmt.Errorf("failed to load config: %w", err)
		}
		name, _ := cmd.Flags().GetString("controller")
		cc, err := pickController(cfg, name)
		if err != nil {
			return device.Connection{}, err
		}
		return device.Connection{
			Host:     cc.Host,
			Port:     cc.Port,
			Username: cc.Username,
			Password: cc.Password,
			PIN:      cc.PIN,
			Timeout:  cc.Timeout.Duration(),
		}, nil
	}

	host, _ := cmd.Flags().GetString("host")
	if strings.TrimSpace(host) == "" {
		return device.Connection{}, fmt.Errorf("either --host or --config must be set")
	}
	port, _ := cmd.Flags().GetInt("port")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	pin, _ := cmd.Flags().GetString("pin")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	return device.Connection{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		PIN:      pin,
		Timeout:  timeout,
	}, nil
}

// pickController selects a controller from the config by name, or the sole
// controller when no name is given.
func pickController(cfg *config.Config, name string) (config.ControllerConfig, error) {
	if name == "" {
		if len(cfg.Controllers) == 1 {
			return cfg.Controllers[0], nil
		}
		return config.ControllerConfig{}, fmt.Errorf(
			"config defines %d controllers, pick one with --controller", len(cfg.Controllers))
	}
	for _, cc := range cfg.Controllers {
		if cc.Name == name {
			return cc, nil
		}
	}
	return config.ControllerConfig{}, fmt.Errorf("controller %q not found in config", name)
}

// parseProbeValue interprets a value argument: numbers become float64,
// true/false become bool, anything else stays text.
func parseProbeValue(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
