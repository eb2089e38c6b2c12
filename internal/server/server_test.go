package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/climatix-tools/climatixd/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testController builds a Controller over a fresh MemoryStore seeded with
// the given values.
func testController(name string, values map[string]any, pointIDs ...string) (Controller, *store.MemoryStore) {
	st := store.NewMemoryStore()
	if len(values) > 0 {
		st.Merge(values)
	}
	return Controller{
		Name:     name,
		Store:    st,
		PointIDs: pointIDs,
		Diagnostics: func() Diagnostics {
			return Diagnostics{ReadRequestsTotal: 7, ReadValuesTotal: 280}
		},
	}, st
}

// TestHandleControllers verifies the controller listing.
func TestHandleControllers(t *testing.T) {
	boiler, _ := testController("boiler", nil)
	attic, _ := testController("attic", nil)
	s := NewServer([]Controller{boiler, attic}, 0, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/controllers", nil)
	rec := httptest.NewRecorder()
	s.handleControllers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(names) != 2 || names[0] != "boiler" || names[1] != "attic" {
		t.Errorf("names = %v, want [boiler attic] in configuration order", names)
	}
}

// TestHandlePoints_SoleControllerDefault verifies that the controller
// parameter may be omitted when exactly one controller is configured.
func TestHandlePoints_SoleControllerDefault(t *testing.T) {
	c, _ := testController("boiler", map[string]any{"p1": []any{21.5}}, "p1")
	s := NewServer([]Controller{c}, 0, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/points", nil)
	rec := httptest.NewRecorder()
	s.handlePoints(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload pointsPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if payload.Controller != "boiler" {
		t.Errorf("controller = %q, want boiler", payload.Controller)
	}
	if _, ok := payload.Points["p1"]; !ok {
		t.Errorf("points = %v, want p1 present", payload.Points)
	}
}

// TestHandlePoints_ControllerResolution verifies the parameter requirement
// with multiple controllers and the unknown-controller response.
func TestHandlePoints_ControllerResolution(t *testing.T) {
	boiler, _ := testController("boiler", map[string]any{"p1": 1.0})
	attic, _ := testController("attic", map[string]any{"p2": 2.0})
	s := NewServer([]Controller{boiler, attic}, 0, nil, testLogger())

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"missing parameter with two controllers", "/api/points", http.StatusBadRequest},
		{"explicit controller", "/api/points?controller=attic", http.StatusOK},
		{"unknown controller", "/api/points?controller=garage", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()
			s.handlePoints(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

// TestHandlePoint_Get verifies reading one cached point value and the 404
// for points with no cached value.
func TestHandlePoint_Get(t *testing.T) {
	c, _ := testController("boiler", map[string]any{"1!005121A700!2": []any{22.5}}, "1!005121A700!2")
	s := NewServer([]Controller{c}, 0, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/points/1!005121A700!2", nil)
	rec := httptest.NewRecorder()
	s.handlePoint(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload pointPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if payload.ID != "1!005121A700!2" {
		t.Errorf("id = %q, want the requested point", payload.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/points/absent", nil)
	rec = httptest.NewRecorder()
	s.handlePoint(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status for absent point = %d, want 404", rec.Code)
	}
}

// TestHandleWrite_Success verifies the write path: the write function is
// invoked with the decoded value and the response carries the refreshed
// cached value.
func TestHandleWrite_Success(t *testing.T) {
	c, st := testController("boiler", map[string]any{"p1": []any{21.0}}, "p1")

	var mu sync.Mutex
	var gotController, gotPoint string
	var gotValue any
	write := func(_ context.Context, controller, pointID string, value any) error {
		mu.Lock()
		defer mu.Unlock()
		gotController, gotPoint, gotValue = controller, pointID, value
		// emulate the forced refresh making the new value visible
		st.Merge(map[string]any{"p1": []any{22.5}})
		return nil
	}
	s := NewServer([]Controller{c}, 0, write, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/points/p1", strings.NewReader(`{"value": 22.5}`))
	rec := httptest.NewRecorder()
	s.handlePoint(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	mu.Lock()
	if gotController != "boiler" || gotPoint != "p1" {
		t.Errorf("write called with (%q, %q), want (boiler, p1)", gotController, gotPoint)
	}
	if v, ok := gotValue.(float64); !ok || v != 22.5 {
		t.Errorf("write value = %v, want 22.5", gotValue)
	}
	mu.Unlock()

	var payload pointPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	vals, ok := payload.Value.([]any)
	if !ok || len(vals) != 1 || vals[0] != 22.5 {
		t.Errorf("response value = %v, want the refreshed [22.5]", payload.Value)
	}
}

// TestHandleWrite_Validation verifies the request validation responses.
func TestHandleWrite_Validation(t *testing.T) {
	c, _ := testController("boiler", nil, "p1")
	write := func(context.Context, string, string, any) error { return nil }
	s := NewServer([]Controller{c}, 0, write, testLogger())

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
	}{
		{"unknown point", "/api/points/nope", `{"value": 1}`, http.StatusNotFound},
		{"malformed json", "/api/points/p1", `{`, http.StatusBadRequest},
		{"missing value", "/api/points/p1", `{}`, http.StatusBadRequest},
		{"null value", "/api/points/p1", `{"value": null}`, http.StatusBadRequest},
		{"array value", "/api/points/p1", `{"value": [1, 2]}`, http.StatusBadRequest},
		{"object value", "/api/points/p1", `{"value": {"x": 1}}`, http.StatusBadRequest},
		{"string value accepted", "/api/points/p1", `{"value": "Comfort"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.handlePoint(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

// TestHandleWrite_Failure verifies that device-side write failures surface
// as a gateway error.
func TestHandleWrite_Failure(t *testing.T) {
	c, _ := testController("boiler", nil, "p1")
	write := func(context.Context, string, string, any) error {
		return errors.New("device reported error code 3")
	}
	s := NewServer([]Controller{c}, 0, write, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/points/p1", strings.NewReader(`{"value": 1}`))
	rec := httptest.NewRecorder()
	s.handlePoint(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

// TestHandleWrite_DisabledWithoutWriteFunc verifies that writes are rejected
// when no write entry point is wired.
func TestHandleWrite_DisabledWithoutWriteFunc(t *testing.T) {
	c, _ := testController("boiler", nil, "p1")
	s := NewServer([]Controller{c}, 0, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/points/p1", strings.NewReader(`{"value": 1}`))
	rec := httptest.NewRecorder()
	s.handlePoint(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// TestHandleDiagnostics verifies the per-controller diagnostics document.
func TestHandleDiagnostics(t *testing.T) {
	boiler, _ := testController("boiler", nil)
	attic, _ := testController("attic", nil)
	s := NewServer([]Controller{boiler, attic}, 0, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics", nil)
	rec := httptest.NewRecorder()
	s.handleDiagnostics(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out map[string]Diagnostics
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("diagnostics for %d controllers, want 2", len(out))
	}
	if out["boiler"].ReadValuesTotal != 280 {
		t.Errorf("boiler ReadValuesTotal = %d, want 280", out["boiler"].ReadValuesTotal)
	}
}

// TestMethodNotAllowed verifies the method guards on the read-only endpoints.
func TestMethodNotAllowed(t *testing.T) {
	c, _ := testController("boiler", nil)
	s := NewServer([]Controller{c}, 0, nil, testLogger())

	handlers := map[string]http.HandlerFunc{
		"/api/controllers": s.handleControllers,
		"/api/points":      s.handlePoints,
		"/api/diagnostics": s.handleDiagnostics,
	}
	for target, handler := range handlers {
		req := httptest.NewRequest(http.MethodPost, target, nil)
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s status = %d, want 405", target, rec.Code)
		}
	}
}

// readSSEEvent reads one "data: ..." frame from an SSE stream.
func readSSEEvent(t *testing.T, r *bufio.Reader) pointsPayload {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading SSE stream: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected SSE line %q", line)
		}
		var payload pointsPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			t.Fatalf("decoding SSE payload: %v", err)
		}
		return payload
	}
}

// TestHandleEvents_StreamsSnapshots verifies the SSE stream over a real HTTP
// connection: one snapshot per controller on connect, then a fresh snapshot
// when a store merges new values.
//
// A real connection is required because mock ResponseWriters don't support
// the write deadlines the handler sets.
func TestHandleEvents_StreamsSnapshots(t *testing.T) {
	c, st := testController("boiler", map[string]any{"p1": []any{21.0}}, "p1")
	s := NewServer([]Controller{c}, 0, nil, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(s.handleEvents))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	reader := bufio.NewReader(resp.Body)

	initial := readSSEEvent(t, reader)
	if initial.Controller != "boiler" {
		t.Errorf("initial snapshot controller = %q, want boiler", initial.Controller)
	}

	st.Merge(map[string]any{"p1": []any{22.0}})

	update := readSSEEvent(t, reader)
	vals, ok := update.Points["p1"].([]any)
	if !ok || len(vals) != 1 || vals[0] != 22.0 {
		t.Errorf("update snapshot p1 = %v, want [22]", update.Points["p1"])
	}
}

// TestHandleEvents_ClientDisconnectReleasesHandler verifies that closing the
// client connection lets the handler and its forwarder goroutines exit.
func TestHandleEvents_ClientDisconnectReleasesHandler(t *testing.T) {
	c, st := testController("boiler", map[string]any{"p1": 1.0}, "p1")
	s := NewServer([]Controller{c}, 0, nil, testLogger())

	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleEvents(w, r)
		close(handlerDone)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	// read the initial snapshot, then drop the connection
	readSSEEvent(t, bufio.NewReader(resp.Body))
	resp.Body.Close()

	// keep producing updates so the handler notices the dead connection
	timeout := time.After(10 * time.Second)
	for {
		select {
		case <-handlerDone:
			return
		case <-timeout:
			t.Fatal("handler did not exit after client disconnect")
		default:
			st.Merge(map[string]any{"p1": 2.0})
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// TestServer_StartAndShutdown verifies the lifecycle: synchronous bind on an
// available port and graceful shutdown on context cancellation.
func TestServer_StartAndShutdown(t *testing.T) {
	c, _ := testController("boiler", nil)
	// port 0 = OS assigns an available port. Valid for the internal Server
	// package, though the public API validates configured ports.
	s := NewServer([]Controller{c}, 0, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	cancel()

	// shutdown happens in the background; poll until the server is gone
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("server did not shut down")
		default:
		}
		ctxPing, cancelPing := context.WithTimeout(context.Background(), 50*time.Millisecond)
		err := s.httpServer.Shutdown(ctxPing)
		cancelPing()
		if err == nil {
			return
		}
	}
}

// TestServer_StartFailsOnOccupiedPort verifies the synchronous bind error.
func TestServer_StartFailsOnOccupiedPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("occupying a port: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	c, _ := testController("boiler", nil)
	s := NewServer([]Controller{c}, port, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err == nil {
		t.Fatal("Start() on an occupied port should return an error")
	} else if !strings.Contains(err.Error(), fmt.Sprintf("%d", port)) {
		t.Errorf("error %q should name the port", err)
	}
}
