package store

// Update notifies subscribers that a merge published a new snapshot.
type Update struct {
	// IDs lists the point ids carried by the merge, sorted. The values
	// behind them may or may not differ from the previous snapshot.
	IDs []string
}

// Store defines snapshot storage and subscription operations for point
// values.
//
// Implementations must be safe for concurrent use: one writer (the
// coordinator) and any number of readers and subscribers.
type Store interface {
	// Merge publishes a new snapshot consisting of the current values
	// overlaid with the given ones. Existing keys absent from values keep
	// their prior value; keys are never deleted.
	Merge(values map[string]any)

	// Snapshot returns a copy of the current snapshot. The map is owned
	// by the caller; the values inside it must be treated as read-only.
	Snapshot() map[string]any

	// Get returns the raw value for one point id.
	Get(id string) (any, bool)

	// Populated reports whether any value was ever merged. The
	// coordinator uses this to detect its first tick.
	Populated() bool

	// Subscribe returns a channel receiving an [Update] per merge.
	Subscribe() <-chan Update

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(ch <-chan Update)
}
