package climatixd

import (
	"errors"
	"time"
)

// controllerConfig holds mutable state during controller construction.
type controllerConfig struct {
	port             int
	username         string
	password         string
	pin              string
	timeout          time.Duration
	tickInterval     time.Duration
	pollThreshold    int
	maxPointsPerRead int
}

// ControllerOption is a function that configures a [Controller] during
// construction.
//
// ControllerOption implements the functional options pattern, allowing
// optional configuration to be passed to [NewController] in a type-safe,
// extensible way. Options return an error if validation fails.
//
// Built-in options: [WithPort], [WithCredentials], [WithPIN],
// [WithRequestTimeout], [WithTickInterval], [WithPollThreshold],
// [WithMaxPointsPerRead].
type ControllerOption func(*controllerConfig) error

// WithPort sets the TCP port of the controller's local web service.
//
// Defaults to 80, the factory setting.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) ControllerOption {
	return func(cfg *controllerConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithCredentials sets the HTTP Basic Auth username and password.
//
// Defaults to the vendor-published factory account ("JSON" /
// "SBTAdmin!"). Change this when the site has rotated the controller's
// local credentials.
//
// Returns an error if either value is empty.
func WithCredentials(username, password string) ControllerOption {
	return func(cfg *controllerConfig) error {
		if username == "" {
			return errors.New("username cannot be empty")
		}
		if password == "" {
			return errors.New("password cannot be empty")
		}
		cfg.username = username
		cfg.password = password
		return nil
	}
}

// WithPIN sets the numeric access PIN appended to every request.
//
// Defaults to "7659", the factory setting. Controllers configured with a
// different PIN reject reads and writes with a device error.
//
// Returns an error if the PIN is empty.
func WithPIN(pin string) ControllerOption {
	return func(cfg *controllerConfig) error {
		if pin == "" {
			return errors.New("pin cannot be empty")
		}
		cfg.pin = pin
		return nil
	}
}

// WithRequestTimeout sets the timeout for each HTTP request to the
// controller.
//
// The controller's embedded web service is slow: responses routinely take
// seconds. Defaults to 10 seconds if not specified.
//
// Returns an error if the duration is zero or negative.
func WithRequestTimeout(d time.Duration) ControllerOption {
	return func(cfg *controllerConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithTickInterval sets the interval between polling cycles for this
// controller.
//
// Each tick polls the points that are currently due in one batched read.
// Defaults to 30 seconds if not specified.
//
// The interval must be at least 1 second and at most 1 hour.
// Returns an error if the interval is outside these bounds.
//
// Note: The interval is measured from when a tick starts, not when it
// completes. For large point lists the effective interval is the configured
// interval plus the read duration.
func WithTickInterval(d time.Duration) ControllerOption {
	return func(cfg *controllerConfig) error {
		if d < minTickInterval {
			return errors.New("tick interval must be at least 1 second")
		}
		if d > maxTickInterval {
			return errors.New("tick interval must not exceed 1 hour")
		}
		cfg.tickInterval = d
		return nil
	}
}

// WithPollThreshold sets the slow-poll threshold in ticks.
//
// Slow points are read once per threshold window; automatic points back off
// towards the same window once their value settles. The value is clamped to
// the supported range (10-120); zero selects the default of 20.
//
// Returns an error if the value is negative.
func WithPollThreshold(n int) ControllerOption {
	return func(cfg *controllerConfig) error {
		if n < 0 {
			return errors.New("poll threshold cannot be negative")
		}
		cfg.pollThreshold = n
		return nil
	}
}

// WithMaxPointsPerRead caps how many point addresses are packed into one
// HTTP read.
//
// Long query strings make some firmwares drop the trailing auth and PIN
// parameters, so batched reads are chunked. Defaults to 40 if not
// specified; the wire client clamps values above 200.
//
// Returns an error if the value is not positive.
func WithMaxPointsPerRead(n int) ControllerOption {
	return func(cfg *controllerConfig) error {
		if n <= 0 {
			return errors.New("max points per read must be positive")
		}
		cfg.maxPointsPerRead = n
		return nil
	}
}
