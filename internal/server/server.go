package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/climatix-tools/climatixd/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write
	// operation. This prevents goroutine leaks when clients are slow or
	// disconnected. Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// maxWriteBodySize bounds the JSON body of a point write request.
	maxWriteBodySize = 1 << 16 // 64KB
)

// WriteFunc performs a point write on behalf of the API, including the
// forced refresh that makes the new value visible in the store.
type WriteFunc func(ctx context.Context, controller, pointID string, value any) error

// Diagnostics is the per-controller observability payload served by the API.
type Diagnostics struct {
	// ReadRequestsTotal counts attempted HTTP read requests since startup.
	ReadRequestsTotal int64 `json:"read_requests_total"`

	// ReadValuesTotal counts point values requested since startup.
	ReadValuesTotal int64 `json:"read_values_total"`

	// ReadRequestsPerMinute and ReadValuesPerMinute are rates over the
	// trailing five minutes.
	ReadRequestsPerMinute float64 `json:"read_requests_per_minute"`
	ReadValuesPerMinute   float64 `json:"read_values_per_minute"`

	// WriteCount is the cumulative number of writes ever issued to the
	// controller, including those journalled by previous runs.
	WriteCount int64 `json:"write_count"`
}

// Controller bundles what the API serves for one physical controller.
type Controller struct {
	// Name is the controller's configured name.
	Name string

	// Store is the controller's live value store.
	Store store.Store

	// PointIDs lists the configured point addresses, used to validate
	// write targets.
	PointIDs []string

	// Diagnostics returns the controller's current traffic counters.
	Diagnostics func() Diagnostics
}

// Server exposes the daemon's HTTP API:
//
//   - GET  /api/controllers: configured controller names
//   - GET  /api/points: current value snapshot for one controller
//   - GET  /api/points/{id}: one cached point value
//   - POST /api/points/{id}: write a point value, body {"value": ...}
//   - GET  /api/diagnostics: traffic counters for every controller
//   - GET  /api/events: Server-Sent Events stream of value snapshots
//
// Endpoints that address a single controller take a ?controller=NAME query
// parameter; it may be omitted when exactly one controller is configured.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	controllers []Controller
	byName      map[string]Controller
	points      map[string]map[string]struct{}
	port        int
	write       WriteFunc
	httpServer  *http.Server
	logger      *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - controllers: the controllers to serve, in configuration order
//   - port: TCP port to listen on
//   - write: write entry point invoked by POST /api/points/{id} (may be nil
//     to reject writes)
//   - logger: logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(controllers []Controller, port int, write WriteFunc, logger *slog.Logger) *Server {
	byName := make(map[string]Controller, len(controllers))
	points := make(map[string]map[string]struct{}, len(controllers))
	for _, c := range controllers {
		byName[c.Name] = c
		ids := make(map[string]struct{}, len(c.PointIDs))
		for _, id := range c.PointIDs {
			ids[id] = struct{}{}
		}
		points[c.Name] = ids
	}
	return &Server{
		controllers: controllers,
		byName:      byName,
		points:      points,
		port:        port,
		write:       write,
		logger:      logger,
	}
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/controllers", s.handleControllers)
	mux.HandleFunc("/api/points", s.handlePoints)
	mux.HandleFunc("/api/points/", s.handlePoint)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/api/events", s.handleEvents)

	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler: mux,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// resolveController picks the controller addressed by the request: the
// ?controller= parameter, or the sole configured controller when the
// parameter is absent. On failure it writes the error response and returns
// false.
func (s *Server) resolveController(w http.ResponseWriter, r *http.Request) (Controller, bool) {
	name := r.URL.Query().Get("controller")
	if name == "" {
		if len(s.controllers) == 1 {
			return s.controllers[0], true
		}
		http.Error(w, "controller parameter required", http.StatusBadRequest)
		return Controller{}, false
	}
	c, ok := s.byName[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown controller %q", name), http.StatusNotFound)
		return Controller{}, false
	}
	return c, true
}

// writeJSON encodes v as the response body.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleControllers lists the configured controller names.
func (s *Server) handleControllers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := make([]string, len(s.controllers))
	for i, c := range s.controllers {
		names[i] = c.Name
	}
	s.writeJSON(w, names)
}

// pointsPayload is the snapshot document served by /api/points and the SSE
// stream.
type pointsPayload struct {
	Controller string         `json:"controller"`
	Points     map[string]any `json:"points"`
}

// handlePoints returns the full value snapshot for one controller.
func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, ok := s.resolveController(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, pointsPayload{Controller: c.Name, Points: c.Store.Snapshot()})
}

// pointPayload is the single-point document served by /api/points/{id}.
type pointPayload struct {
	Controller string `json:"controller"`
	ID         string `json:"id"`
	Value      any    `json:"value"`
}

// handlePoint reads or writes one point, addressed by the path suffix.
func (s *Server) handlePoint(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/points/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	c, ok := s.resolveController(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, ok := c.Store.Get(id)
		if !ok {
			http.Error(w, fmt.Sprintf("no value for point %q", id), http.StatusNotFound)
			return
		}
		s.writeJSON(w, pointPayload{Controller: c.Name, ID: id, Value: value})

	case http.MethodPost:
		s.handleWrite(w, r, c, id)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// writeRequest is the body accepted by POST /api/points/{id}.
type writeRequest struct {
	Value any `json:"value"`
}

// handleWrite performs a point write through the bridge's write entry point.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, c Controller, id string) {
	if s.write == nil {
		http.Error(w, "writes are not enabled", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.points[c.Name][id]; !ok {
		http.Error(w, fmt.Sprintf("unknown point %q", id), http.StatusNotFound)
		return
	}

	var req writeRequest
	body := http.MaxBytesReader(w, r.Body, maxWriteBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	switch req.Value.(type) {
	case float64, string, bool:
	case nil:
		http.Error(w, "value is required", http.StatusBadRequest)
		return
	default:
		http.Error(w, "value must be a number, string or boolean", http.StatusBadRequest)
		return
	}

	if err := s.write(r.Context(), c.Name, id, req.Value); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	// report the refreshed cached value so callers see what stuck
	value, _ := c.Store.Get(id)
	s.writeJSON(w, pointPayload{Controller: c.Name, ID: id, Value: value})
}

// handleDiagnostics returns the traffic counters for every controller,
// keyed by controller name.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out := make(map[string]Diagnostics, len(s.controllers))
	for _, c := range s.controllers {
		if c.Diagnostics != nil {
			out[c.Name] = c.Diagnostics()
		}
	}
	s.writeJSON(w, out)
}

// handleEvents streams value snapshots via Server-Sent Events: one snapshot
// per controller on connect, then one whenever a controller's store merges
// new values.
//
// The handler uses write deadlines to prevent goroutine leaks when clients
// are slow or disconnected. Without deadlines, a blocked Fprintf call would
// prevent the handler from detecting context cancellation or channel closure.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some
	// ResponseWriter impls)
	deadlinesSupported := true

	// writeAndFlush writes SSE data with a deadline to prevent blocking
	// forever. If the client is slow or disconnected, the write times out
	// rather than blocking indefinitely, allowing the handler to detect
	// shutdown signals.
	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// fan updates from every controller's store into one channel; the
	// forwarders exit when their subscription closes or the handler leaves
	done := make(chan struct{})
	defer close(done)
	updates := make(chan Controller)
	for _, c := range s.controllers {
		ch := c.Store.Subscribe()
		defer c.Store.Unsubscribe(ch)

		go func(c Controller, ch <-chan store.Update) {
			for {
				select {
				case _, ok := <-ch:
					if !ok {
						return
					}
					select {
					case updates <- c:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(c, ch)
	}

	snapshot := func(c Controller) ([]byte, error) {
		return json.Marshal(pointsPayload{Controller: c.Name, Points: c.Store.Snapshot()})
	}

	// send initial snapshots (also protected by write deadline)
	for _, c := range s.controllers {
		data, err := snapshot(c)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	// stream updates
	for {
		select {
		case c := <-updates:
			data, err := snapshot(c)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}
