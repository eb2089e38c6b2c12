package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event types recorded in the journal.
const (
	// EventWrite records a value written to the controller. Write events
	// are the source of truth for the flash-wear counter.
	EventWrite = "write"
	// EventChange records an observed change in a polled value.
	EventChange = "change"
)

// Event is one journalled occurrence.
type Event struct {
	Timestamp     time.Time
	Controller    string
	PointID       string
	PreviousValue string
	NewValue      string
	Type          string
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    controller TEXT NOT NULL,
    point_id TEXT NOT NULL,
    previous_value TEXT,
    new_value TEXT,
    event_type TEXT NOT NULL
);`

const (
	timestampLayout = "2006-01-02 15:04:05.000"

	// eventBuffer is how many events may be queued before Record starts
	// dropping. Sized well above one tick's worth of changes.
	eventBuffer = 256
)

// Journal is an append-only event log backed by a single SQLite file.
// Events are queued on a channel and flushed by a background goroutine, so
// callers on the polling path never wait on disk I/O. Closing the journal
// flushes everything already queued.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	events chan Event

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open opens the journal database at path, creating the file and schema as
// needed, and starts the background writer.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger,
		events: make(chan Event, eventBuffer),
	}
	j.wg.Add(1)
	go j.writer()
	return j, nil
}

// RecordWrite journals a successful write of value to a point.
func (j *Journal) RecordWrite(controller, pointID, value string) {
	j.Record(Event{
		Controller: controller,
		PointID:    pointID,
		NewValue:   value,
		Type:       EventWrite,
	})
}

// RecordChange journals an observed value change on a polled point.
func (j *Journal) RecordChange(controller, pointID, previous, current string) {
	j.Record(Event{
		Controller:    controller,
		PointID:       pointID,
		PreviousValue: previous,
		NewValue:      current,
		Type:          EventChange,
	})
}

// Record queues an event for writing. It never blocks: when the buffer is
// full the event is dropped with a warning. Events recorded after Close are
// silently discarded.
func (j *Journal) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.events <- e:
	default:
		j.logger.Warn("journal buffer full, dropping event",
			"type", e.Type,
			"controller", e.Controller,
			"point", e.PointID)
	}
}

// WriteCount returns how many write events have ever been journalled for the
// named controller. It is used at startup to restore the flash-wear counter,
// before any new events are queued; events still in the buffer are not
// counted.
func (j *Journal) WriteCount(ctx context.Context, controller string) (int64, error) {
	var n int64
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE event_type = ? AND controller = ?",
		EventWrite, controller,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count write events: %w", err)
	}
	return n, nil
}

// Close stops accepting new events, flushes everything already queued and
// closes the database. Safe to call more than once.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		j.mu.Unlock()

		close(j.events)
		j.wg.Wait()
		j.closeErr = j.db.Close()
	})
	return j.closeErr
}

// writer drains the event channel into the database until Close.
func (j *Journal) writer() {
	defer j.wg.Done()
	for e := range j.events {
		j.insert(e)
	}
}

func (j *Journal) insert(e Event) {
	_, err := j.db.Exec(
		"INSERT INTO events(timestamp, controller, point_id, previous_value, new_value, event_type) VALUES(?, ?, ?, ?, ?, ?)",
		e.Timestamp.Format(timestampLayout),
		e.Controller,
		e.PointID,
		e.PreviousValue,
		e.NewValue,
		e.Type,
	)
	if err != nil {
		j.logger.Error("failed to insert journal event", "error", err)
	}
}
