// Package server provides the HTTP API over the daemon's value stores.
//
// This package is internal to climatixd and handles all HTTP concerns:
//
//   - REST API: controller list, value snapshots, single-point reads and
//     writes, and per-controller diagnostics under "/api/"
//   - Server-Sent Events: live snapshot updates at "/api/events"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the climatixd library should not need to interact with this
// package directly. The server is started automatically by
// [climatixd.Bridge.Start] when a listen port is configured.
package server
