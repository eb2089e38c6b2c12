package climatixd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/climatix-tools/climatixd/internal/device"
	"github.com/climatix-tools/climatixd/internal/journal"
	"github.com/climatix-tools/climatixd/internal/poll"
	"github.com/climatix-tools/climatixd/internal/server"
	"github.com/climatix-tools/climatixd/internal/store"
	"github.com/climatix-tools/climatixd/internal/trace"
)

// flashWearThresholds are the cumulative write counts at which a warning is
// logged, once per threshold per run. Controller flash is rated for roughly
// 100k write cycles.
var flashWearThresholds = []int64{2_000, 10_000, 50_000}

// Bridge is the main orchestrator for adaptive controller polling.
//
// Bridge polls the points of one or more controllers on their configured
// tick intervals, keeps a live value snapshot per controller, accepts
// writes, and optionally serves the snapshots over HTTP. It is created
// using [New] with functional options and started with [Bridge.Start].
//
// The typical lifecycle is:
//
//	bridge, err := climatixd.New(climatixd.WithController(ctrl))
//	if err != nil {
//	    slog.Error("failed to create bridge", "error", err)
//	    os.Exit(1)
//	}
//	defer bridge.Close()
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	bridge.Start(ctx) // blocks until context cancelled
//
// The caller controls the polling lifecycle via the context: cancel it to
// trigger graceful shutdown. [Bridge.Close] releases the journal and trace
// file and may be called before, during or after Start.
//
// [Bridge.WritePoint], [Bridge.Value], [Bridge.Snapshot], [Bridge.Refresh]
// and [Bridge.Diagnostics] are usable as soon as New returns; values simply
// stay absent until the first tick has populated the stores.
type Bridge struct {
	controllers     []Controller
	listenPort      int
	logger          *slog.Logger
	writeCallbacks  []func(WriteEvent)
	changeCallbacks []func(ChangeEvent)

	// journal is nil when no journal path is configured.
	journal *journal.Journal
	trace   trace.Recorder

	runtimes map[string]*controllerRuntime

	closeOnce sync.Once
	closeErr  error
}

// controllerRuntime bundles the per-controller machinery: the wire client,
// the value store, the polling coordinator and the flash-wear accounting.
type controllerRuntime struct {
	spec   Controller
	points map[string]Point
	client *device.Client
	rw     device.ReadWriter
	store  *store.MemoryStore
	coord  *poll.Coordinator

	// mu guards the write counter and the per-run warning marks.
	mu     sync.Mutex
	writes int64
	warned map[int64]bool
}

// New creates a new [Bridge] instance with the given options.
//
// At least one controller must be configured via [WithController] or
// [WithControllers], and controller names must be unique. Other options
// have sensible defaults: no HTTP server, no journal, no trace,
// [slog.Default] for logging.
//
// New opens the journal database and the trace file when configured, and
// restores each controller's flash-wear write counter from the journal.
// Call [Bridge.Close] to release them.
//
// Returns an error if no controllers are configured, if any option is
// invalid, or if the journal or trace file cannot be opened.
//
// Example:
//
//	bridge, err := climatixd.New(
//	    climatixd.WithController(ctrl),
//	    climatixd.WithListenPort(8624),
//	    climatixd.WithJournalPath("/var/lib/climatixd/journal.db"),
//	)
func New(opts ...Option) (*Bridge, error) {
	cfg := &bridgeConfig{}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		controllers:     cfg.controllers,
		listenPort:      cfg.listenPort,
		logger:          logger,
		writeCallbacks:  cfg.writeCallbacks,
		changeCallbacks: cfg.changeCallbacks,
		trace:           trace.NopRecorder{},
		runtimes:        make(map[string]*controllerRuntime, len(cfg.controllers)),
	}

	if cfg.journalPath != "" {
		j, err := journal.Open(cfg.journalPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		b.journal = j
	}

	if cfg.tracePath != "" {
		rec, err := trace.NewFileRecorder(cfg.tracePath)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		b.trace = rec
	}

	for _, c := range b.controllers {
		rt, err := b.newRuntime(c)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("controller %q: %w", c.name, err)
		}
		b.runtimes[c.name] = rt
	}

	return b, nil
}

// newRuntime wires one controller's client, store and coordinator, and
// restores its journalled write count.
func (b *Bridge) newRuntime(c Controller) (*controllerRuntime, error) {
	rt := &controllerRuntime{
		spec:   c,
		points: make(map[string]Point, len(c.points)),
		warned: make(map[int64]bool, len(flashWearThresholds)),
	}
	for _, p := range c.points {
		rt.points[p.id] = p
	}

	diag := poll.NewDiagnostics()
	client, err := device.NewClient(c.connection(), device.WithObserver(b.recordAttempt(c.name, diag)))
	if err != nil {
		return nil, err
	}
	rt.client = client
	rt.rw = device.NotifyWrites(client, b.noteWrite(rt))
	rt.store = store.NewMemoryStore()
	rt.coord = poll.New(rt.rw, rt.store, poll.Config{
		Points:      c.pointSpecs(),
		Threshold:   c.pollThreshold,
		ChunkSize:   c.maxPointsPerRead,
		Diagnostics: diag,
		OnChange:    b.noteChange(rt),
	})

	if b.journal != nil {
		writes, err := b.journal.WriteCount(context.Background(), c.name)
		if err != nil {
			return nil, fmt.Errorf("restore write count: %w", err)
		}
		rt.writes = writes
	}

	return rt, nil
}

// Start begins polling controllers and, when configured, serving the HTTP
// API.
//
// Start is a blocking call that runs until the provided context is
// cancelled. During execution:
//
//   - Every controller is read in full immediately, then polled adaptively
//     at its configured tick interval
//   - The HTTP API starts on the configured listen port (if enabled)
//   - Tick outcomes are logged (DEBUG level for routine ticks)
//
// The caller controls the lifecycle via context cancellation. For signal
// handling, use [signal.NotifyContext]:
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//	bridge.Start(ctx)
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server
// fails to start.
func (b *Bridge) Start(ctx context.Context) error {
	b.logger.Info("climatixd starting", "controllers", len(b.controllers))
	for _, c := range b.controllers {
		b.logger.Info("controller configured",
			"controller", c.name,
			"host", c.host,
			"points", len(c.points),
			"tick_interval", c.tickInterval.String(),
			"poll_threshold", c.pollThreshold,
		)
	}

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// track the polling goroutines to ensure clean shutdown
	var wg sync.WaitGroup
	for _, c := range b.controllers {
		rt := b.runtimes[c.name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.drive(ctx, rt)
		}()
	}

	// start the HTTP server
	if b.listenPort > 0 {
		httpServer := server.NewServer(b.serverControllers(), b.listenPort, b.WritePoint, b.logger)
		if err := httpServer.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		b.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d/api/points", b.listenPort))
	}

	<-ctx.Done()
	wg.Wait()
	b.logger.Info("climatixd stopped")
	return nil
}

// drive runs one controller's polling loop: an immediate first tick, then
// one tick per configured interval, until the context is cancelled.
func (b *Bridge) drive(ctx context.Context, rt *controllerRuntime) {
	ticker := time.NewTicker(rt.spec.tickInterval)
	defer ticker.Stop()

	b.tick(ctx, rt)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx, rt)
		}
	}
}

// tick executes one scheduling cycle and logs its outcome.
func (b *Bridge) tick(ctx context.Context, rt *controllerRuntime) {
	if ctx.Err() != nil {
		return
	}

	cycle := uuid.NewString()
	start := time.Now()
	stats, err := rt.coord.Tick(ctx)

	logAttrs := []any{
		"controller", rt.spec.name,
		"cycle", cycle,
		"due", stats.Due,
		"skipped", stats.Skipped,
		"changed", stats.Changed,
		"tick_ms", time.Since(start).Milliseconds(),
	}
	switch {
	case err != nil:
		b.logger.Warn("tick completed with error", append(logAttrs, "error", err.Error())...)
	case stats.First:
		b.logger.Info("initial read complete", logAttrs...)
	default:
		b.logger.Debug("tick complete", logAttrs...)
	}
}

// WritePoint writes a value to one point and refreshes its cached reading.
//
// The controller parameter selects which configured controller owns the
// point; it may be empty when exactly one controller is configured. The
// point is addressed by its read id; when it was configured with a distinct
// write address via [WithWriteID], the device write targets that address.
//
// When the cached value already equals the desired one (within the same
// tolerance change detection uses), the device write is skipped entirely:
// controller flash endures a limited number of write cycles, so redundant
// writes are dropped before they reach the wire. Otherwise the value is
// written, the journal and write callbacks fire, and the point is re-read
// immediately so the store reflects the value the controller actually
// accepted. If the targeted re-read fails, a refresh of all points is
// attempted before reporting an error.
//
// Accepted value types are those the wire format supports: numbers, strings
// and booleans.
func (b *Bridge) WritePoint(ctx context.Context, controller, pointID string, value any) error {
	rt, err := b.runtime(controller)
	if err != nil {
		return err
	}
	pt, ok := rt.points[pointID]
	if !ok {
		return fmt.Errorf("point %q is not configured on controller %q", pointID, rt.spec.name)
	}

	if raw, ok := rt.store.Get(pointID); ok {
		if cached, ok := device.FirstValue(raw); ok && poll.ValuesEqual(cached, value) {
			b.logger.Debug("write skipped, cached value already matches",
				"controller", rt.spec.name,
				"point", pointID,
			)
			return nil
		}
	}

	if _, err := rt.rw.Write(ctx, pt.WriteID(), value); err != nil {
		return fmt.Errorf("write %q: %w", pointID, err)
	}

	if err := rt.coord.Refresh(ctx, []string{pointID}); err != nil {
		b.logger.Warn("post-write refresh failed, re-reading all points",
			"controller", rt.spec.name,
			"point", pointID,
			"error", err.Error(),
		)
		if err := rt.coord.Refresh(ctx, rt.coord.PointIDs()); err != nil {
			return fmt.Errorf("write applied but refresh failed: %w", err)
		}
	}
	return nil
}

// Refresh immediately reads the given points of one controller, bypassing
// the adaptive schedule, and merges the fresh values into the snapshot.
// With no point ids, every configured point is read.
//
// The controller parameter may be empty when exactly one controller is
// configured. Returns an error if any id is not configured on the
// controller or if the read fails; a failed refresh leaves the snapshot
// untouched.
func (b *Bridge) Refresh(ctx context.Context, controller string, pointIDs ...string) error {
	rt, err := b.runtime(controller)
	if err != nil {
		return err
	}
	if len(pointIDs) == 0 {
		pointIDs = rt.coord.PointIDs()
	} else {
		for _, id := range pointIDs {
			if _, ok := rt.points[id]; !ok {
				return fmt.Errorf("point %q is not configured on controller %q", id, rt.spec.name)
			}
		}
	}
	return rt.coord.Refresh(ctx, pointIDs)
}

// Value returns the raw cached value for one point, as last read from the
// controller.
//
// The payload follows the wire convention: a scalar, or a short list whose
// first element is the logical value. Use [FirstValue] or [NumericValue] to
// unwrap it. The second return is false when the controller name does not
// resolve or the point has not been read yet.
func (b *Bridge) Value(controller, pointID string) (any, bool) {
	rt, err := b.runtime(controller)
	if err != nil {
		return nil, false
	}
	return rt.store.Get(pointID)
}

// Snapshot returns a copy of one controller's current value snapshot,
// keyed by point id.
//
// The returned map is owned by the caller. Values follow the raw wire
// convention; see [Bridge.Value].
func (b *Bridge) Snapshot(controller string) (map[string]any, error) {
	rt, err := b.runtime(controller)
	if err != nil {
		return nil, err
	}
	return rt.store.Snapshot(), nil
}

// Diagnostics returns a point-in-time diagnostics snapshot for every
// controller, in configuration order.
func (b *Bridge) Diagnostics() []Diagnostics {
	out := make([]Diagnostics, 0, len(b.controllers))
	for _, c := range b.controllers {
		out = append(out, b.diagnosticsFor(b.runtimes[c.name]))
	}
	return out
}

// Controllers returns a copy of the configured controllers.
//
// The returned slice is a copy; modifying it does not affect the Bridge.
// Each [Controller] in the slice is immutable.
func (b *Bridge) Controllers() []Controller {
	cp := make([]Controller, len(b.controllers))
	copy(cp, b.controllers)
	return cp
}

// ListenPort returns the configured HTTP API port, or zero when the server
// is disabled.
func (b *Bridge) ListenPort() int {
	return b.listenPort
}

// Close releases the bridge's persistent resources: the journal database
// and the trace file. It does not stop a running [Bridge.Start]; cancel
// that context first. Close is idempotent.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		var errs []error
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close journal: %w", err))
			}
		}
		if err := b.trace.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace: %w", err))
		}
		b.closeErr = errors.Join(errs...)
	})
	return b.closeErr
}

// runtime resolves a controller name, defaulting to the sole controller
// when the name is empty.
func (b *Bridge) runtime(name string) (*controllerRuntime, error) {
	if name == "" {
		if len(b.controllers) == 1 {
			return b.runtimes[b.controllers[0].name], nil
		}
		return nil, fmt.Errorf("controller name is required when %d controllers are configured", len(b.controllers))
	}
	rt, ok := b.runtimes[name]
	if !ok {
		return nil, fmt.Errorf("unknown controller %q", name)
	}
	return rt, nil
}

// diagnosticsFor assembles one controller's public diagnostics snapshot.
func (b *Bridge) diagnosticsFor(rt *controllerRuntime) Diagnostics {
	snap := rt.coord.Diagnostics().Snapshot()

	rt.mu.Lock()
	writes := rt.writes
	rt.mu.Unlock()

	return Diagnostics{
		Controller:            rt.spec.name,
		ReadRequestsTotal:     snap.RequestsTotal,
		ReadValuesTotal:       snap.ValuesTotal,
		ReadRequestsPerMinute: snap.RequestsPerMinute,
		ReadValuesPerMinute:   snap.ValuesPerMinute,
		WriteCount:            writes,
	}
}

// serverControllers adapts the runtimes for the HTTP API layer.
func (b *Bridge) serverControllers() []server.Controller {
	out := make([]server.Controller, 0, len(b.controllers))
	for _, c := range b.controllers {
		rt := b.runtimes[c.name]
		out = append(out, server.Controller{
			Name:     c.name,
			Store:    rt.store,
			PointIDs: rt.coord.PointIDs(),
			Diagnostics: func() server.Diagnostics {
				d := b.diagnosticsFor(rt)
				return server.Diagnostics{
					ReadRequestsTotal:     d.ReadRequestsTotal,
					ReadValuesTotal:       d.ReadValuesTotal,
					ReadRequestsPerMinute: d.ReadRequestsPerMinute,
					ReadValuesPerMinute:   d.ReadValuesPerMinute,
					WriteCount:            d.WriteCount,
				}
			},
		})
	}
	return out
}

// recordAttempt builds the per-request observer for one controller's wire
// client: read attempts feed the request-rate diagnostics, and every
// attempt lands in the protocol trace.
func (b *Bridge) recordAttempt(controller string, diag *poll.Diagnostics) func(device.Attempt) {
	return func(a device.Attempt) {
		if a.Kind == device.AttemptRead {
			diag.NoteRequest()
		}

		event := trace.Event{
			Timestamp:  time.Now(),
			ID:         uuid.NewString(),
			Controller: controller,
			Kind:       a.Kind,
			Path:       a.Path,
			Points:     a.Points,
			StatusCode: a.StatusCode,
			Duration:   a.Duration,
		}
		if a.Err != nil {
			event.Error = a.Err.Error()
		}
		b.trace.Record(event)
	}
}

// noteWrite builds the write-success hook for one controller: it advances
// the flash-wear counter, journals the write and fires the registered write
// callbacks.
func (b *Bridge) noteWrite(rt *controllerRuntime) func(id string, value any) {
	return func(id string, value any) {
		rt.mu.Lock()
		rt.writes++
		writes := rt.writes
		var crossed int64
		for _, limit := range flashWearThresholds {
			if writes >= limit && !rt.warned[limit] {
				rt.warned[limit] = true
				crossed = limit
			}
		}
		rt.mu.Unlock()

		if crossed > 0 {
			b.logger.Warn("cumulative write count crossed flash-wear threshold",
				"controller", rt.spec.name,
				"writes", writes,
				"threshold", crossed,
			)
		}

		if b.journal != nil {
			b.journal.RecordWrite(rt.spec.name, id, fmt.Sprint(value))
		}

		if len(b.writeCallbacks) > 0 {
			ev := WriteEvent{Controller: rt.spec.name, PointID: id, Value: value}
			for _, cb := range b.writeCallbacks {
				invokeWriteCallbackSafe(cb, ev, b.logger)
			}
		}
	}
}

// noteChange builds the coordinator's change hook for one controller: it
// journals the change and fires the registered change callbacks.
func (b *Bridge) noteChange(rt *controllerRuntime) func(poll.ChangeEvent) {
	return func(change poll.ChangeEvent) {
		if b.journal != nil {
			b.journal.RecordChange(rt.spec.name, change.PointID,
				fmt.Sprint(change.Previous), fmt.Sprint(change.Current))
		}

		if len(b.changeCallbacks) > 0 {
			ev := ChangeEvent{
				Controller: rt.spec.name,
				PointID:    change.PointID,
				Previous:   change.Previous,
				Current:    change.Current,
			}
			for _, cb := range b.changeCallbacks {
				invokeChangeCallbackSafe(cb, ev, b.logger)
			}
		}
	}
}

// invokeWriteCallbackSafe calls a write callback with panic recovery.
// Panics are logged but do not propagate.
func invokeWriteCallbackSafe(cb func(WriteEvent), ev WriteEvent, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("write callback panicked",
				"panic", r,
				"controller", ev.Controller,
				"point", ev.PointID,
			)
		}
	}()
	cb(ev)
}

// invokeChangeCallbackSafe calls a change callback with panic recovery.
// Panics are logged but do not propagate.
func invokeChangeCallbackSafe(cb func(ChangeEvent), ev ChangeEvent, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("change callback panicked",
				"panic", r,
				"controller", ev.Controller,
				"point", ev.PointID,
			)
		}
	}()
	cb(ev)
}
