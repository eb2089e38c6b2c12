package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

// testConnection builds a Connection pointing at an httptest server.
func testConnection(t *testing.T, server *httptest.Server) Connection {
	t.Helper()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("failed to parse test server port: %v", err)
	}
	return Connection{Host: u.Hostname(), Port: port, Timeout: 2 * time.Second}
}

// valuesHandler responds to every request with the given values payload.
func valuesHandler(values map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"values": values, "Error": 0})
	}
}

// TestNewClient_RequiresHost verifies that a connection without a host is
// rejected before any network traffic.
func TestNewClient_RequiresHost(t *testing.T) {
	if _, err := NewClient(Connection{}); err == nil {
		t.Error("expected error for missing host, got nil")
	}
	if _, err := NewClient(Connection{Host: "   "}); err == nil {
		t.Error("expected error for blank host, got nil")
	}
}

// TestNewClient_AppliesDefaults verifies that zero-valued connection fields
// are filled with the vendor-published defaults.
func TestNewClient_AppliesDefaults(t *testing.T) {
	client, err := NewClient(Connection{Host: "192.0.2.1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	conn := client.conn
	if conn.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, conn.Port)
	}
	if conn.Username != DefaultUsername || conn.Password != DefaultPassword {
		t.Errorf("expected default credentials, got %q/%q", conn.Username, conn.Password)
	}
	if conn.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, conn.Timeout)
	}
	if len(conn.Paths) != 2 || conn.Paths[0] != "/jsongen.html" || conn.Paths[1] != "/JSONgen.html" {
		t.Errorf("unexpected candidate paths: %v", conn.Paths)
	}
	if conn.PIN != "" {
		t.Errorf("PIN should not be defaulted by the client, got %q", conn.PIN)
	}
}

// TestClient_Read_EncodesProtocolParams verifies the exact parameter order
// (FN first, one OA per point, PIN, then the fixed trailing flags) and the
// Basic Auth credentials on the wire.
func TestClient_Read_EncodesProtocolParams(t *testing.T) {
	var gotQuery, gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUser, gotPass, _ = r.BasicAuth()
		_ = json.NewEncoder(w).Encode(map[string]any{"values": map[string]any{}})
	}))
	defer server.Close()

	conn := testConnection(t, server)
	conn.PIN = "7659"
	client, err := NewClient(conn)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Read(context.Background(), []string{"a", "b"}, 0); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	want := "FN=Read&OA=a&OA=b&PIN=7659&LNG=-1&US=1"
	if gotQuery != want {
		t.Errorf("query mismatch:\n got  %s\n want %s", gotQuery, want)
	}
	if gotUser != DefaultUsername || gotPass != DefaultPassword {
		t.Errorf("expected default basic auth, got %q/%q", gotUser, gotPass)
	}
}

// TestClient_Read_OmitsPINWhenEmpty verifies that the PIN parameter is
// absent from requests when the connection has no PIN.
func TestClient_Read_OmitsPINWhenEmpty(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{"values": map[string]any{}})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.Read(context.Background(), []string{"a"}, 0); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if strings.Contains(gotQuery, "PIN=") {
		t.Errorf("expected no PIN parameter, got query %s", gotQuery)
	}
}

// TestClient_Read_EmptyIDs verifies that an empty id list short-circuits to
// an empty result without any network call.
func TestClient_Read_EmptyIDs(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_ = json.NewEncoder(w).Encode(map[string]any{"values": map[string]any{}})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	result, err := client.Read(context.Background(), []string{"", ""}, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(result.Values) != 0 {
		t.Errorf("expected empty result, got %v", result.Values)
	}
	if requests != 0 {
		t.Errorf("expected no HTTP requests, got %d", requests)
	}
}

// TestClient_Read_ChunksRequests verifies that 97 points with a chunk size
// of 40 issue exactly 3 requests (40, 40, 17) whose results merge into one
// ReadResult.
func TestClient_Read_ChunksRequests(t *testing.T) {
	var chunkSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		oas := r.URL.Query()["OA"]
		chunkSizes = append(chunkSizes, len(oas))

		values := make(map[string]any, len(oas))
		for _, oa := range oas {
			values[oa] = []any{1.0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": values, "Error": 0})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ids := make([]string, 97)
	for i := range ids {
		ids[i] = fmt.Sprintf("oa-%02d", i)
	}

	result, err := client.Read(context.Background(), ids, 40)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(chunkSizes) != 3 || chunkSizes[0] != 40 || chunkSizes[1] != 40 || chunkSizes[2] != 17 {
		t.Errorf("expected chunks [40 40 17], got %v", chunkSizes)
	}
	if len(result.Values) != 97 {
		t.Errorf("expected 97 merged values, got %d", len(result.Values))
	}
}

// TestClient_Read_FallsBackToSecondPath verifies that a transport failure on
// the first candidate path is retried on the second spelling.
func TestClient_Read_FallsBackToSecondPath(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/jsongen.html" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": map[string]any{"a": 1.5}})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	result, err := client.Read(context.Background(), []string{"a"}, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(paths) != 2 || paths[0] != "/jsongen.html" || paths[1] != "/JSONgen.html" {
		t.Errorf("expected both candidate paths in order, got %v", paths)
	}
	if result.Values["a"] != 1.5 {
		t.Errorf("expected value 1.5 for a, got %v", result.Values["a"])
	}
}

// TestClient_Read_DeviceErrorTriesNextPath verifies that an error payload
// without values counts as a failed candidate rather than a final answer.
func TestClient_Read_DeviceErrorTriesNextPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/jsongen.html" {
			_ = json.NewEncoder(w).Encode(map[string]any{"Error": 3})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": map[string]any{"a": "ok"}})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	result, err := client.Read(context.Background(), []string{"a"}, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if result.Values["a"] != "ok" {
		t.Errorf("expected fallback value, got %v", result.Values["a"])
	}
}

// TestClient_Read_AllCandidatesFail verifies that exhausting every candidate
// path surfaces the final error and no partial result.
func TestClient_Read_AllCandidatesFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	result, err := client.Read(context.Background(), []string{"a"}, 0)
	if err == nil {
		t.Fatal("expected error when all candidates fail, got nil")
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Errorf("expected TransportError, got %T: %v", err, err)
	}
	if result.Values != nil {
		t.Errorf("expected zero result on failure, got %v", result.Values)
	}
}

// TestClient_Read_DeviceErrorSurfaces verifies that a device error on every
// candidate path is reported as a DeviceError carrying the code.
func TestClient_Read_DeviceErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Error": 3})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Read(context.Background(), []string{"a"}, 0)

	var deviceErr *DeviceError
	if !errors.As(err, &deviceErr) {
		t.Fatalf("expected DeviceError, got %T: %v", err, err)
	}
	if deviceErr.Code != float64(3) {
		t.Errorf("expected error code 3, got %v", deviceErr.Code)
	}
}

// TestClient_Read_ErrorWithValuesTolerated verifies that a payload carrying
// both an error code and values is accepted; only error-without-values is a
// failure.
func TestClient_Read_ErrorWithValuesTolerated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Error":  7,
			"values": map[string]any{"a": []any{2.0}},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	result, err := client.Read(context.Background(), []string{"a"}, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if _, ok := result.Values["a"]; !ok {
		t.Error("expected value for a despite error code")
	}
}

// TestClient_Read_LatinOneFallback verifies that a response body that is not
// valid UTF-8 is decoded as Latin-1.
func TestClient_Read_LatinOneFallback(t *testing.T) {
	// "Wärme" with the umlaut encoded as the single Latin-1 byte 0xE4
	body := []byte("{\"values\":{\"a\":\"W\xe4rme\"}}")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	result, err := client.Read(context.Background(), []string{"a"}, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if result.Values["a"] != "Wärme" {
		t.Errorf("expected Latin-1 decoded value %q, got %q", "Wärme", result.Values["a"])
	}
}

// TestClient_Read_NonObjectJSON verifies that structurally valid JSON that
// is not an object is reported as a DecodeError.
func TestClient_Read_NonObjectJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[1, 2, 3]"))
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Read(context.Background(), []string{"a"}, 0)

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("expected DecodeError, got %T: %v", err, err)
	}
}

// TestClient_Read_NullJSONTriesNextPath verifies that a bare JSON null body
// counts as a failed candidate rather than an empty final answer.
func TestClient_Read_NullJSONTriesNextPath(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/jsongen.html" {
			_, _ = w.Write([]byte("null"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": map[string]any{"a": "ok"}})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	result, err := client.Read(context.Background(), []string{"a"}, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(paths) != 2 || paths[0] != "/jsongen.html" || paths[1] != "/JSONgen.html" {
		t.Errorf("expected both candidate paths in order, got %v", paths)
	}
	if result.Values["a"] != "ok" {
		t.Errorf("expected fallback value, got %v", result.Values["a"])
	}
}

// TestClient_Read_Timeout verifies that a request exceeding the connection
// timeout fails as a TransportError.
func TestClient_Read_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	conn := testConnection(t, server)
	conn.Timeout = 50 * time.Millisecond
	client, err := NewClient(conn)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	start := time.Now()
	_, err = client.Read(context.Background(), []string{"a"}, 0)
	elapsed := time.Since(start)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	// both candidate paths time out, so allow twice the timeout plus slack
	if elapsed > time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

// TestClient_Write_FormatsValues verifies the wire formatting of write
// values, in particular that integral floats are sent without a decimal
// point.
func TestClient_Write_FormatsValues(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"integral float drops decimal point", 1.0, "pt;1"},
		{"fractional float unchanged", 21.5, "pt;21.5"},
		{"negative integral float", -3.0, "pt;-3"},
		{"int", 2, "pt;2"},
		{"int64", int64(40), "pt;40"},
		{"bool true", true, "pt;1"},
		{"bool false", false, "pt;0"},
		{"string passthrough", "Standby", "pt;Standby"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOA string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotOA = r.URL.Query().Get("OA")
				_ = json.NewEncoder(w).Encode(map[string]any{"values": map[string]any{}})
			}))
			defer server.Close()

			client, err := NewClient(testConnection(t, server))
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}

			if _, err := client.Write(context.Background(), "pt", tt.value); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if gotOA != tt.want {
				t.Errorf("expected OA %q, got %q", tt.want, gotOA)
			}
		})
	}
}

// TestClient_Write_FunctionCode verifies that writes use FN=Write and carry
// the trailing protocol flags.
func TestClient_Write_FunctionCode(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{"Error": 0})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Write(context.Background(), "pt", 5.0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := "FN=Write&OA=pt%3B5&LNG=-1&US=1"
	if gotQuery != want {
		t.Errorf("query mismatch:\n got  %s\n want %s", gotQuery, want)
	}
}

// TestClient_Write_Validation verifies that missing or unsupported arguments
// are rejected locally as ConfigurationError.
func TestClient_Write_Validation(t *testing.T) {
	client, err := NewClient(Connection{Host: "192.0.2.1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	tests := []struct {
		name  string
		id    string
		value any
	}{
		{"empty id", "", 1.0},
		{"blank id", "  ", 1.0},
		{"nil value", "pt", nil},
		{"unsupported type", "pt", []any{1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Write(context.Background(), tt.id, tt.value)

			var confErr *ConfigurationError
			if !errors.As(err, &confErr) {
				t.Errorf("expected ConfigurationError, got %T: %v", err, err)
			}
		})
	}
}

// TestClient_Write_DeviceError verifies that an error payload on every path
// fails the write.
func TestClient_Write_DeviceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Error": 1})
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Write(context.Background(), "pt", 1.0)

	var deviceErr *DeviceError
	if !errors.As(err, &deviceErr) {
		t.Errorf("expected DeviceError, got %T: %v", err, err)
	}
}

// TestClient_Write_NullJSONFails verifies that a bare JSON null response on
// every path is rejected as a DecodeError instead of reported as success.
func TestClient_Write_NullJSONFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	}))
	defer server.Close()

	client, err := NewClient(testConnection(t, server))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Write(context.Background(), "pt", 21.5)

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("expected DecodeError, got %T: %v", err, err)
	}
}

// TestClient_Observer verifies that the attempt observer fires once per
// HTTP request, including failed attempts, with the attempt metadata.
func TestClient_Observer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/jsongen.html" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": map[string]any{"a": 1.0, "b": 2.0}})
	}))
	defer server.Close()

	var attempts []Attempt
	client, err := NewClient(testConnection(t, server), WithObserver(func(a Attempt) {
		attempts = append(attempts, a)
	}))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Read(context.Background(), []string{"a", "b"}, 0); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	first, second := attempts[0], attempts[1]
	if first.Kind != AttemptRead || first.Points != 2 || first.Err == nil || first.StatusCode != http.StatusInternalServerError {
		t.Errorf("unexpected first attempt: %+v", first)
	}
	if second.Kind != AttemptRead || second.Points != 2 || second.Err != nil || second.StatusCode != http.StatusOK {
		t.Errorf("unexpected second attempt: %+v", second)
	}
}

// TestClient_Close verifies that Close is idempotent and nil-safe.
func TestClient_Close(t *testing.T) {
	client, err := NewClient(Connection{Host: "192.0.2.1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	client.Close()
	client.Close()

	var nilClient *Client
	nilClient.Close()
}
