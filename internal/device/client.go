package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Published factory defaults for the controller's local web service.
const (
	DefaultPort     = 80
	DefaultUsername = "JSON"
	DefaultPassword = "SBTAdmin!"
	DefaultPIN      = "7659"
	DefaultTimeout  = 10 * time.Second
)

// Read chunking bounds. Long query strings make some firmwares drop the
// trailing auth/PIN parameters, so batched reads are split into chunks.
const (
	DefaultChunkSize = 40
	minChunkSize     = 1
	maxChunkSize     = 200
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits; the controller's embedded HTTP stack serves
// very few concurrent connections
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 2
	defaultMaxConnsPerHost     = 2
	defaultIdleConnTimeout     = 60 * time.Second
)

// defaultCandidatePaths lists the endpoint spellings tried in order.
// Some firmwares use different casing for this endpoint.
var defaultCandidatePaths = []string{"/jsongen.html", "/JSONgen.html"}

// Connection holds the parameters for reaching one controller.
//
// Zero-valued fields are filled with the vendor-published defaults by
// [NewClient]; only Host is required.
type Connection struct {
	// Host is the controller's IP address or hostname.
	Host string

	// Port of the local web service. Defaults to [DefaultPort].
	Port int

	// Username and Password authenticate via HTTP Basic Auth. They
	// default to [DefaultUsername] and [DefaultPassword].
	Username string
	Password string

	// PIN is appended to every request when non-empty. Most units ship
	// with [DefaultPIN].
	PIN string

	// Timeout bounds each HTTP attempt. Defaults to [DefaultTimeout].
	Timeout time.Duration

	// Paths are the candidate endpoint paths tried in order. Defaults
	// to "/jsongen.html" followed by "/JSONgen.html".
	Paths []string
}

func (c Connection) withDefaults() Connection {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if len(c.Paths) == 0 {
		c.Paths = defaultCandidatePaths
	}
	return c
}

func (c Connection) baseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// Attempt kinds reported to the request observer.
const (
	AttemptRead  = "read"
	AttemptWrite = "write"
)

// Attempt describes one HTTP request made against the controller. It is
// reported to the observer configured via [WithObserver] once per request,
// irrespective of the outcome.
type Attempt struct {
	// Kind is [AttemptRead] or [AttemptWrite].
	Kind string

	// Path is the candidate endpoint path used for this attempt.
	Path string

	// Points is the number of point addresses carried by the request.
	Points int

	// StatusCode is the HTTP status; zero when no response arrived.
	StatusCode int

	// Duration is the wall time of the attempt.
	Duration time.Duration

	// Err is nil when the attempt produced a structurally valid payload.
	Err error
}

// ReadResult holds the merged values of one batched read, keyed by point
// id. Each value is either a scalar or a short list whose first element is
// the logical value; see [FirstValue].
type ReadResult struct {
	Values map[string]any
}

// Client performs point reads and writes against one controller.
//
// The client is stateless beyond its connection parameters and is safe for
// concurrent use. It never retries across calls: transport, decode and
// device errors are retried across the candidate endpoint paths within a
// single call only, and then surface to the caller.
type Client struct {
	conn       Connection
	httpClient *http.Client
	observer   func(Attempt)
}

// ClientOption customizes a [Client].
type ClientOption func(*Client)

// WithObserver registers fn to be called once per attempted HTTP request,
// after the attempt completes. Used for request-rate diagnostics and
// protocol tracing; fn must not block.
func WithObserver(fn func(Attempt)) ClientOption {
	return func(c *Client) { c.observer = fn }
}

// NewClient creates a client for the given connection. Zero fields of conn
// are filled with the vendor defaults; Host is required.
func NewClient(conn Connection, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(conn.Host) == "" {
		return nil, fmt.Errorf("controller host is required")
	}

	c := &Client{
		conn: conn.withDefaults(),
		httpClient: &http.Client{
			// no global timeout - each attempt is bounded via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Read fetches the given points in chunks of at most chunkSize and merges
// the chunk results into one [ReadResult], last write per key winning.
//
// Empty ids are dropped and an empty list short-circuits to an empty result
// with no network traffic. A chunkSize of zero selects [DefaultChunkSize];
// other values are clamped to [1, 200]. Every chunk is attempted against
// each candidate path in order; a chunk failing all candidates fails the
// whole call and any partially merged result is discarded.
func (c *Client) Read(ctx context.Context, ids []string, chunkSize int) (ReadResult, error) {
	oa := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			oa = append(oa, id)
		}
	}
	result := ReadResult{Values: make(map[string]any, len(oa))}
	if len(oa) == 0 {
		return result, nil
	}

	size := clampChunkSize(chunkSize)
	for start := 0; start < len(oa); start += size {
		end := start + size
		if end > len(oa) {
			end = len(oa)
		}
		chunk := oa[start:end]

		params := make([]param, 0, len(chunk)+4)
		params = append(params, param{"FN", "Read"})
		for _, id := range chunk {
			params = append(params, param{"OA", id})
		}
		payload, err := c.getJSON(ctx, AttemptRead, len(chunk), c.finishParams(params))
		if err != nil {
			return ReadResult{}, err
		}

		values, ok := payload["values"].(map[string]any)
		if !ok {
			// a payload without values but also without an error code
			// contributes nothing to the result
			continue
		}
		for k, v := range values {
			result.Values[k] = v
		}
	}
	return result, nil
}

// Write sets one point to the given value. Supported values are numbers,
// integers, booleans and text; a float whose fractional part is exactly
// zero is sent without a decimal point ("1", not "1.0") so enumerated and
// boolean-like points receive integer-looking text.
//
// On success the decoded payload is returned; callers normally only care
// that the error is nil.
func (c *Client) Write(ctx context.Context, id string, value any) (map[string]any, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &ConfigurationError{Reason: "write requires a point id"}
	}
	text, err := formatWriteValue(value)
	if err != nil {
		return nil, err
	}

	params := []param{{"FN", "Write"}, {"OA", id + ";" + text}}
	return c.getJSON(ctx, AttemptWrite, 1, c.finishParams(params))
}

// Close releases idle connections in the client's pool. The client remains
// usable afterwards. Safe to call multiple times.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// getJSON runs one logical request across the candidate paths and returns
// the first structurally valid payload.
func (c *Client) getJSON(ctx context.Context, kind string, points int, params []param) (map[string]any, error) {
	var lastErr error
	for _, path := range c.conn.Paths {
		payload, err := c.attempt(ctx, kind, points, path, params)
		if err != nil {
			lastErr = err
			continue
		}
		return payload, nil
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, kind string, points int, path string, params []param) (payload map[string]any, err error) {
	start := time.Now()
	statusCode := 0
	defer func() {
		if c.observer != nil {
			c.observer(Attempt{
				Kind:       kind,
				Path:       path,
				Points:     points,
				StatusCode: statusCode,
				Duration:   time.Since(start),
				Err:        err,
			})
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.conn.Timeout)
	defer cancel()

	reqURL := c.conn.baseURL() + path + "?" + encodeQuery(params)
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if reqErr != nil {
		return nil, &TransportError{Path: path, Err: reqErr}
	}
	req.SetBasicAuth(c.conn.Username, c.conn.Password)

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, &TransportError{Path: path, Err: doErr}
	}
	defer func() { _ = resp.Body.Close() }()

	statusCode = resp.StatusCode
	if resp.StatusCode >= 400 {
		return nil, &TransportError{Path: path, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if readErr != nil {
		return nil, &TransportError{Path: path, Err: readErr}
	}

	if jsonErr := json.Unmarshal([]byte(decodeBody(body)), &payload); jsonErr != nil {
		return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("response is not a JSON object: %v", jsonErr)}
	}
	if payload == nil {
		// a bare JSON null unmarshals into a nil map without error
		return nil, &DecodeError{Path: path, Reason: "response is not a JSON object: null"}
	}
	if code, failed := deviceErrorCode(payload); failed {
		if _, hasValues := payload["values"]; !hasValues {
			return nil, &DeviceError{Path: path, Code: code}
		}
	}
	return payload, nil
}

// decodeBody interprets response bytes as UTF-8 when valid, falling back to
// Latin-1. Some firmwares emit ISO-8859-1 for extended characters while
// still labelling the payload application/json.
func decodeBody(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	runes := make([]rune, len(body))
	for i, b := range body {
		runes[i] = rune(b)
	}
	return string(runes)
}

// deviceErrorCode reports the controller error code carried by payload.
// Absent, null and numeric-zero codes mean success.
func deviceErrorCode(payload map[string]any) (any, bool) {
	code, ok := payload["Error"]
	if !ok || code == nil {
		return nil, false
	}
	if n, isNum := code.(float64); isNum && n == 0 {
		return nil, false
	}
	return code, true
}

// param is one query parameter. The controller's protocol parameters are
// order-sensitive (function code first, fixed flags last), which url.Values
// cannot express.
type param struct {
	key   string
	value string
}

func encodeQuery(params []param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// finishParams appends the optional PIN and the fixed trailing flags.
func (c *Client) finishParams(params []param) []param {
	if c.conn.PIN != "" {
		params = append(params, param{"PIN", c.conn.PIN})
	}
	return append(params, param{"LNG", "-1"}, param{"US", "1"})
}

func formatWriteValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		// integral floats render without a decimal point: 1.0 -> "1"
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		// boolean-like points take integer text
		if v {
			return "1", nil
		}
		return "0", nil
	case nil:
		return "", &ConfigurationError{Reason: "write requires a value"}
	default:
		return "", &ConfigurationError{Reason: fmt.Sprintf("unsupported write value type %T", value)}
	}
}

func clampChunkSize(n int) int {
	switch {
	case n == 0:
		return DefaultChunkSize
	case n < minChunkSize:
		return minChunkSize
	case n > maxChunkSize:
		return maxChunkSize
	}
	return n
}
