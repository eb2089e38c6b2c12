// Package trace records every HTTP attempt made against a controller as a
// compact CBOR stream, one event per attempt including candidate-path
// retries. The stream is an offline debugging aid for the controller's
// erratic HTTP stack: it captures which path spelling answered, how long the
// round-trip took and what went wrong, without inflating the daemon's logs.
package trace

import (
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Event is one HTTP attempt against a controller.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the attempt started (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ID uniquely identifies the event (UUID).
	ID string `cbor:"2,keyasint"`

	// Controller is the configured name of the controller addressed.
	Controller string `cbor:"3,keyasint,omitempty"`

	// Kind is the request function: "read" or "write".
	Kind string `cbor:"4,keyasint"`

	// Path is the candidate endpoint path used for this attempt.
	Path string `cbor:"5,keyasint,omitempty"`

	// Points is the number of point addresses carried by the request.
	Points int `cbor:"6,keyasint,omitempty"`

	// StatusCode is the HTTP status; zero when no response arrived.
	StatusCode int `cbor:"7,keyasint,omitempty"`

	// Duration is the wall time of the attempt, stored as nanoseconds.
	Duration time.Duration `cbor:"8,keyasint,omitempty"`

	// Error is the attempt's error message, empty on success.
	Error string `cbor:"9,keyasint,omitempty"`
}

// Recorder is the interface trace sinks implement. Pass NopRecorder to
// disable tracing.
type Recorder interface {
	// Record captures one attempt. Implementations must be safe for
	// concurrent use and must not block the caller on slow sinks.
	Record(event Event)

	// Close flushes and releases the sink. Safe to call more than once.
	Close() error
}

// NopRecorder discards all events. Safe for concurrent use and usable as a
// zero value.
type NopRecorder struct{}

// Record discards the event.
func (NopRecorder) Record(Event) {}

// Close does nothing.
func (NopRecorder) Close() error { return nil }

var _ Recorder = NopRecorder{}

// FileRecorder writes trace events to a file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileRecorder struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileRecorder creates a FileRecorder that writes to the given path.
// If the file exists, new events are appended. The file is created with
// permissions 0644 if it doesn't exist.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileRecorder{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Record writes an event to the trace file.
func (r *FileRecorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	// ignore encoding errors: tracing must never disrupt polling
	_ = r.encoder.Encode(event)
}

// Close closes the trace file. After Close, subsequent Record calls are
// silently ignored.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	return r.file.Close()
}

var _ Recorder = (*FileRecorder)(nil)
