package climatixd

// WriteEvent describes one successful device write.
//
// WriteEvent is delivered to callbacks registered via [WithWriteCallback]
// after the controller has acknowledged the write, and is recorded in the
// journal when one is configured. Failed writes produce no event.
type WriteEvent struct {
	// Controller is the configured name of the controller written to.
	Controller string

	// PointID is the address the write targeted. For points with a
	// distinct write address this is the write id, not the read id.
	PointID string

	// Value is the value sent, before wire formatting.
	Value any
}

// ChangeEvent describes an observed change of a point's value.
//
// ChangeEvent is delivered to callbacks registered via [WithChangeCallback]
// whenever a polled read returns a value that differs from the previous
// one. The first observation of a point produces no event: there is nothing
// to compare against.
//
// Values are compared with a small numeric tolerance, so re-encodings of
// the same reading (the string "21.5" versus the number 21.5) do not fire
// events.
type ChangeEvent struct {
	// Controller is the configured name of the controller.
	Controller string

	// PointID is the read address of the point that changed.
	PointID string

	// Previous is the value before the change, extracted from the stored
	// payload. Never nil.
	Previous any

	// Current is the value after the change.
	Current any
}

// Diagnostics is a point-in-time view of one controller's traffic counters.
//
// Totals accumulate from bridge construction; the per-minute rates cover
// the trailing five minutes and read zero until enough samples span a
// measurable interval. WriteCount additionally includes writes journalled
// by previous runs when a journal is configured, because it tracks wear on
// the controller's flash, which persists across restarts.
type Diagnostics struct {
	// Controller is the configured name of the controller.
	Controller string

	// ReadRequestsTotal counts attempted HTTP read requests, including
	// per-chunk and candidate-path retries, irrespective of outcome.
	ReadRequestsTotal int64

	// ReadValuesTotal counts point values requested, counted per read
	// cycle before the outcome is known.
	ReadValuesTotal int64

	// ReadRequestsPerMinute and ReadValuesPerMinute are rates over the
	// trailing five minutes.
	ReadRequestsPerMinute float64
	ReadValuesPerMinute   float64

	// WriteCount is the cumulative number of successful writes ever
	// issued to the controller.
	WriteCount int64
}
