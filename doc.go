// Package climatixd provides an adaptive polling bridge for Climatix-class
// HVAC controllers, exposing their datapoints as live value snapshots over
// a Go API and an optional HTTP API.
//
// These controllers serve a JSON endpoint on their embedded web stack, but
// the stack is slow and fragile: batched reads must be chunked, two path
// spellings exist in the field, payloads arrive in UTF-8 or Latin-1
// depending on firmware, and the flash behind every write endures a limited
// number of cycles. climatixd absorbs those quirks behind a clean API and
// polls adaptively, so points that keep changing are read often while
// settled points barely touch the device.
//
// # Quick Start
//
// Configure points and a controller, then start the bridge with graceful
// shutdown:
//
//	pt, _ := climatixd.NewPoint("1!005121A700!2")
//	ctrl, _ := climatixd.NewController("boiler", "192.168.1.40", []climatixd.Point{pt})
//	bridge, _ := climatixd.New(climatixd.WithController(ctrl))
//	defer bridge.Close()
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	bridge.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// climatixd uses the functional options pattern for configuration:
//
//	bridge, err := climatixd.New(
//	    climatixd.WithControllers(boiler, ahu),
//	    climatixd.WithListenPort(8624),
//	    climatixd.WithJournalPath("/var/lib/climatixd/journal.db"),
//	    climatixd.WithChangeCallback(onChange),
//	)
//
// Controllers and points carry their own options:
//
//	ctrl, err := climatixd.NewController("boiler", "192.168.1.40", points,
//	    climatixd.WithCredentials("JSON", "SBTAdmin!"),
//	    climatixd.WithTickInterval(15 * time.Second),
//	    climatixd.WithPollThreshold(40),
//	)
//
//	pt, err := climatixd.NewPoint("1!005121A700!9",
//	    climatixd.WithMode(climatixd.PollFast),
//	    climatixd.WithWriteID("1!005121A700!10"),
//	)
//
// # Polling Modes
//
// Each point polls in one of three modes:
//
//   - [PollAutomatic]: eager while the value keeps changing, backing off
//     towards the slow threshold once it settles (the default)
//   - [PollFast]: read on every tick
//   - [PollSlow]: read once per threshold window
//
// All due points of a tick are fetched in one batched, chunked HTTP read.
//
// # HTTP API
//
// With [WithListenPort] set, the bridge serves:
//
//   - GET  /api/controllers: configured controller names
//   - GET  /api/points: current value snapshot for one controller
//   - GET  /api/points/{id}: one cached point value
//   - POST /api/points/{id}: write a point value, body {"value": ...}
//   - GET  /api/diagnostics: traffic counters for every controller
//   - GET  /api/events: Server-Sent Events stream of value snapshots
//
// # Architecture
//
// climatixd consists of several internal packages (under internal/):
//
//   - internal/device: wire client with chunking, candidate paths and
//     encoding fallback
//   - internal/poll: the adaptive scheduling coordinator and diagnostics
//   - internal/store: in-memory snapshots with pub/sub for live updates
//   - internal/server: HTTP API with REST routes and Server-Sent Events
//   - internal/journal: SQLite event journal (writes, changes, flash-wear)
//   - internal/trace: CBOR protocol traces of every HTTP attempt
//
// The internal packages are not part of the public API and may change
// without notice.
package climatixd
