// Package store provides the shared point-value snapshot for one controller.
//
// This package is internal to climatixd and manages the in-memory cache of
// raw point values maintained by the polling coordinator. It implements a
// publish-subscribe pattern so HTTP clients (server-sent events) can follow
// snapshot updates in real time.
//
// The main components are:
//
//   - [Store]: Interface defining snapshot and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Update]: Notification sent to subscribers after each merge
//
// Snapshots are copy-on-write: a merge builds a new map and swaps it in
// atomically, so concurrent readers observe either the old or the new
// snapshot, never a partially merged one. Keys are never removed once set.
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers miss updates rather than block the coordinator).
//
// Users of the climatixd library should not need to interact with this
// package directly. Storage is managed internally by the Bridge.
package store
