package climatixd

import (
	"errors"
	"fmt"
	"log/slog"
)

// bridgeConfig holds mutable state during Bridge construction.
type bridgeConfig struct {
	controllers     []Controller
	listenPort      int
	logger          *slog.Logger
	journalPath     string
	tracePath       string
	writeCallbacks  []func(WriteEvent)
	changeCallbacks []func(ChangeEvent)
}

// Option is a function that configures a [Bridge] instance during
// construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithController], [WithControllers], [WithListenPort],
// [WithLogger], [WithJournalPath], [WithTracePath], [WithWriteCallback],
// [WithChangeCallback].
type Option func(*bridgeConfig) error

// WithController adds a single [Controller] to the bridge.
//
// Can be called multiple times to add multiple controllers. At least one
// controller must be configured for [New] to succeed. Each controller gets
// its own polling loop, value store and diagnostics.
//
// Example:
//
//	bridge, err := climatixd.New(
//	    climatixd.WithController(boiler),
//	    climatixd.WithController(ahu),
//	)
func WithController(c Controller) Option {
	return func(cfg *bridgeConfig) error {
		cfg.controllers = append(cfg.controllers, c)
		return nil
	}
}

// WithControllers adds multiple [Controller] values to the bridge.
//
// This is a convenience function for adding several controllers at once.
// Equivalent to calling [WithController] multiple times.
func WithControllers(controllers ...Controller) Option {
	return func(cfg *bridgeConfig) error {
		cfg.controllers = append(cfg.controllers, controllers...)
		return nil
	}
}

// WithListenPort enables the HTTP API server on the given TCP port.
//
// The API serves value snapshots, single points, writes, diagnostics and a
// Server-Sent Events stream; see the package documentation for the routes.
// If not specified the HTTP server is disabled and the bridge is consumed
// through the SDK surface only.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithListenPort(port int) Option {
	return func(cfg *bridgeConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("listen port must be between 1 and 65535")
		}
		cfg.listenPort = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Bridge instance.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	bridge, err := climatixd.New(
//	    climatixd.WithController(ctrl),
//	    climatixd.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *bridgeConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithJournalPath enables the on-disk event journal at the given SQLite
// database path.
//
// The journal records every successful write and every observed value
// change. It also makes the flash-wear write counters survive restarts:
// [New] replays the journalled write count for each controller. The file
// and its parent directory are created as needed.
//
// Returns an error if the path is empty.
func WithJournalPath(path string) Option {
	return func(cfg *bridgeConfig) error {
		if path == "" {
			return errors.New("journal path cannot be empty")
		}
		cfg.journalPath = path
		return nil
	}
}

// WithTracePath enables protocol tracing to the given file.
//
// Every HTTP attempt against every controller is appended to the file as a
// compact CBOR event: timestamp, correlation id, request kind, candidate
// path, point count, HTTP status, duration and error. The stream is meant
// for offline analysis of misbehaving controllers; leave it disabled in
// normal operation.
//
// Returns an error if the path is empty.
func WithTracePath(path string) Option {
	return func(cfg *bridgeConfig) error {
		if path == "" {
			return errors.New("trace path cannot be empty")
		}
		cfg.tracePath = path
		return nil
	}
}

// WithWriteCallback registers a function to be called after every
// successful device write.
//
// The callback receives a [WriteEvent] with the controller name, the
// written address and the value sent. Failed writes do not fire.
//
// Multiple callbacks may be registered by calling WithWriteCallback
// multiple times; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. They run synchronously on the
// writing goroutine, before the write call returns to its caller. Panics
// within callbacks are recovered and logged; they do not propagate.
//
// Nil callbacks are silently ignored.
func WithWriteCallback(cb func(WriteEvent)) Option {
	return func(cfg *bridgeConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.writeCallbacks = append(cfg.writeCallbacks, cb)
		return nil
	}
}

// WithChangeCallback registers a function to be called whenever a polled
// value changes.
//
// The callback receives a [ChangeEvent] carrying the previous and current
// value. The first observation of a point fires no event.
//
// Multiple callbacks may be registered by calling WithChangeCallback
// multiple times; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. They run synchronously on the
// controller's polling goroutine; a slow callback delays the next read.
// Dispatch long-running work to a separate goroutine. Panics within
// callbacks are recovered and logged; they do not propagate.
//
// Example:
//
//	bridge, err := climatixd.New(
//	    climatixd.WithController(ctrl),
//	    climatixd.WithChangeCallback(func(ev climatixd.ChangeEvent) {
//	        log.Printf("%s/%s: %v -> %v", ev.Controller, ev.PointID, ev.Previous, ev.Current)
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithChangeCallback(cb func(ChangeEvent)) Option {
	return func(cfg *bridgeConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.changeCallbacks = append(cfg.changeCallbacks, cb)
		return nil
	}
}

// validate checks cross-field constraints after all options have applied.
func (cfg *bridgeConfig) validate() error {
	if len(cfg.controllers) == 0 {
		return errors.New("at least one controller is required")
	}

	// controller name uniqueness (names key the API, journal and logs)
	seen := make(map[string]bool, len(cfg.controllers))
	for _, c := range cfg.controllers {
		if seen[c.name] {
			return fmt.Errorf("duplicate controller name: %q", c.name)
		}
		seen[c.name] = true
	}
	return nil
}
