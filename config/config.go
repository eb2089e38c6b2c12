// Package config provides YAML configuration parsing for climatixd.
//
// This package enables running climatixd as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	listen_port: 8624
//
//	journal:
//	  path: /var/lib/climatixd/journal.db
//
//	controllers:
//	  - name: boiler
//	    host: 192.168.1.40
//	    tick_interval: 30s
//	    points:
//	      - id: "1!005121A700!2"
//	      - id: "1!005121A700!9"
//	        mode: fast
//	        write_id: "1!005121A700!10"
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// minTickInterval is the minimum allowed tick interval. This prevents
	// accidental hammering of the controller's slow embedded web service.
	minTickInterval = 1 * time.Second

	// maxTickInterval bounds the tick interval; beyond an hour the adaptive
	// scheduler's backoff windows stop being meaningful.
	maxTickInterval = time.Hour
)

// Config is the root configuration structure for climatixd.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
//
// Zero values defer to the SDK defaults: an omitted controller port means 80,
// an omitted tick_interval means 30s, and so on. The one exception is
// ListenPort, where zero means the HTTP API is disabled.
type Config struct {
	// ListenPort is the HTTP API port. Zero (or omitted) disables the
	// HTTP server; the bridge still polls and serves SDK reads.
	ListenPort int `yaml:"listen_port"`

	// Journal configures the on-disk write/change journal.
	Journal JournalConfig `yaml:"journal"`

	// Trace configures the binary protocol trace.
	Trace TraceConfig `yaml:"trace"`

	// Controllers defines the controllers to poll. At least one is required.
	Controllers []ControllerConfig `yaml:"controllers"`
}

// JournalConfig configures the sqlite journal that records writes and
// observed value changes.
type JournalConfig struct {
	// Path is the journal database file. Empty disables journalling.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Path string `yaml:"path"`
}

// TraceConfig configures the CBOR protocol trace.
type TraceConfig struct {
	// Path is the trace file, by convention with a .ctrace suffix.
	// Empty disables tracing.
	// Supports environment variable substitution.
	Path string `yaml:"path"`
}

// ControllerConfig defines a single controller to poll.
type ControllerConfig struct {
	// Name identifies the controller in logs, the HTTP API and the journal.
	// Must be unique across the file.
	Name string `yaml:"name"`

	// Host is the controller's IP address or hostname.
	// Supports environment variable substitution.
	Host string `yaml:"host"`

	// Port is the TCP port of the controller's web service. Defaults to 80.
	Port int `yaml:"port"`

	// Username and Password are the HTTP Basic Auth credentials. They must
	// be set together; when omitted the vendor factory account is used.
	// Values support environment variable substitution.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// PIN is the numeric access PIN sent with every request.
	// Defaults to the factory PIN.
	// Supports environment variable substitution.
	PIN string `yaml:"pin"`

	// Timeout is the per-request HTTP timeout. Accepts duration strings
	// like "10s", "1m". Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// TickInterval is the time between polling cycles.
	// Must be between 1s and 1h. Defaults to 30s.
	TickInterval Duration `yaml:"tick_interval"`

	// PollThreshold is the slow-poll threshold in ticks. The SDK clamps it
	// to the supported range; zero selects the default.
	PollThreshold int `yaml:"poll_threshold"`

	// MaxPointsPerRead caps how many point addresses go into one HTTP read.
	// Zero selects the default.
	MaxPointsPerRead int `yaml:"max_points_per_read"`

	// Points lists the datapoints to poll. At least one is required;
	// duplicate ids are dropped keeping the first occurrence.
	Points []PointConfig `yaml:"points"`
}

// PointConfig defines a single datapoint on a controller.
type PointConfig struct {
	// ID is the controller's point address, used verbatim on the wire.
	ID string `yaml:"id"`

	// Mode is the polling mode: "automatic", "fast" or "slow".
	// Defaults to automatic.
	Mode string `yaml:"mode"`

	// WriteID is a distinct address used for writes, for datapoints whose
	// firmware exposes separate read and write members. Defaults to ID.
	WriteID string `yaml:"write_id"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in host, credential, pin, journal and
// trace values. Connection and cadence fields left at their zero value defer
// to the SDK defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be between 0 and 65535, got %d", c.ListenPort)
	}

	expanded, err := expandEnvVars(c.Journal.Path)
	if err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	c.Journal.Path = expanded

	expanded, err = expandEnvVars(c.Trace.Path)
	if err != nil {
		return fmt.Errorf("trace.path: %w", err)
	}
	c.Trace.Path = expanded

	if len(c.Controllers) == 0 {
		return errors.New("at least one controller must be defined")
	}

	seenNames := make(map[string]struct{}, len(c.Controllers))
	for i := range c.Controllers {
		cc := &c.Controllers[i]

		if cc.Name == "" {
			return fmt.Errorf("controllers[%d]: name is required", i)
		}
		if _, exists := seenNames[cc.Name]; exists {
			return fmt.Errorf("controllers[%d]: duplicate controller name %q", i, cc.Name)
		}
		seenNames[cc.Name] = struct{}{}

		if cc.Host == "" {
			return fmt.Errorf("controllers[%d] (%s): host is required", i, cc.Name)
		}
		expanded, err := expandEnvVars(cc.Host)
		if err != nil {
			return fmt.Errorf("controllers[%d] (%s): host: %w", i, cc.Name, err)
		}
		cc.Host = expanded

		if cc.Port < 0 || cc.Port > 65535 {
			return fmt.Errorf("controllers[%d] (%s): port must be between 1 and 65535, got %d", i, cc.Name, cc.Port)
		}

		expanded, err = expandEnvVars(cc.Username)
		if err != nil {
			return fmt.Errorf("controllers[%d] (%s): username: %w", i, cc.Name, err)
		}
		cc.Username = expanded

		expanded, err = expandEnvVars(cc.Password)
		if err != nil {
			return fmt.Errorf("controllers[%d] (%s): password: %w", i, cc.Name, err)
		}
		cc.Password = expanded

		if (cc.Username == "") != (cc.Password == "") {
			return fmt.Errorf("controllers[%d] (%s): username and password must be set together", i, cc.Name)
		}

		expanded, err = expandEnvVars(cc.PIN)
		if err != nil {
			return fmt.Errorf("controllers[%d] (%s): pin: %w", i, cc.Name, err)
		}
		cc.PIN = expanded

		if cc.Timeout != 0 {
			if cc.Timeout.Duration() < 0 {
				return fmt.Errorf("controllers[%d] (%s): timeout cannot be negative, got %s",
					i, cc.Name, cc.Timeout.Duration())
			}
			if cc.Timeout.Duration() < time.Second {
				return fmt.Errorf("controllers[%d] (%s): timeout must be at least 1s if specified, got %s",
					i, cc.Name, cc.Timeout.Duration())
			}
		}

		if cc.TickInterval != 0 {
			if cc.TickInterval.Duration() < minTickInterval {
				return fmt.Errorf("controllers[%d] (%s): tick_interval must be at least 1s, got %s",
					i, cc.Name, cc.TickInterval.Duration())
			}
			if cc.TickInterval.Duration() > maxTickInterval {
				return fmt.Errorf("controllers[%d] (%s): tick_interval must not exceed 1h, got %s",
					i, cc.Name, cc.TickInterval.Duration())
			}
		}

		if cc.PollThreshold < 0 {
			return fmt.Errorf("controllers[%d] (%s): poll_threshold cannot be negative, got %d",
				i, cc.Name, cc.PollThreshold)
		}

		if cc.MaxPointsPerRead < 0 {
			return fmt.Errorf("controllers[%d] (%s): max_points_per_read cannot be negative, got %d",
				i, cc.Name, cc.MaxPointsPerRead)
		}

		if len(cc.Points) == 0 {
			return fmt.Errorf("controllers[%d] (%s): at least one point is required", i, cc.Name)
		}
		for j := range cc.Points {
			pc := &cc.Points[j]
			if pc.ID == "" {
				return fmt.Errorf("controllers[%d] (%s): points[%d]: id is required", i, cc.Name, j)
			}
			if err := validateMode(pc.Mode); err != nil {
				return fmt.Errorf("controllers[%d] (%s): points[%d] (%s): %w", i, cc.Name, j, pc.ID, err)
			}
		}
	}

	return nil
}

// validateMode checks a point's polling mode string.
// Empty means automatic, which is valid.
func validateMode(mode string) error {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "automatic", "fast", "slow":
		return nil
	default:
		return fmt.Errorf("unknown mode %q (want automatic, fast or slow)", mode)
	}
}
