// Package mockdevice simulates a Climatix controller's local JSON endpoint
// for demos and manual testing.
//
// The simulator reproduces the protocol quirks real firmwares show: only the
// capitalised /JSONgen.html path answers (clients must fall through their
// candidate paths), requests need the factory basic auth credentials, a
// wrong or missing PIN yields an in-band error payload, and read values come
// back as two-element arrays. Analog points drift on every read; stepped
// points advance on a 20-60 second schedule.
//
// Simulated points:
//
//	1!005121A700!2   supply temperature (drifting)
//	1!005121A700!3   return temperature (drifting)
//	1!005121A700!9   room setpoint, written via 1!005121A700!10
//	1!013000A700!11  operating mode (stepped)
//	1!005121A700!13  pump command (stepped)
package mockdevice

import (
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Factory credentials and PIN the simulator accepts.
const (
	Username = "JSON"
	Password = "SBTAdmin!"
	PIN      = "7659"
)

// point is one simulated datapoint. Analog points drift between min and max;
// stepped points cycle through steps on a 20-60s schedule.
type point struct {
	value        float64
	min, max     float64
	drift        float64
	steps        []float64
	stepIdx      int
	nextChangeAt time.Time
}

// Device is an in-memory Climatix simulator. It implements http.Handler.
type Device struct {
	mu         sync.Mutex
	points     map[string]*point
	writeAlias map[string]string
}

// New creates a simulator seeded with a small boiler-plant point set.
func New() *Device {
	return &Device{
		points: map[string]*point{
			"1!005121A700!2":  {value: 48.5, min: 35, max: 70, drift: 0.4},
			"1!005121A700!3":  {value: 39.2, min: 30, max: 55, drift: 0.3},
			"1!005121A700!9":  {value: 21.0, min: 5, max: 35},
			"1!013000A700!11": {steps: []float64{0, 1, 2, 1}},
			"1!005121A700!13": {steps: []float64{1, 0}},
		},
		// the setpoint reads on one address and writes on another
		writeAlias: map[string]string{
			"1!005121A700!10": "1!005121A700!9",
		},
	}
}

// Serve runs a simulator on addr until the listener fails.
func Serve(addr string) error {
	return http.ListenAndServe(addr, New())
}

func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// the lowercase candidate path is deliberately not served, forcing
	// clients through their path fallback
	if r.URL.Path != "/JSONgen.html" {
		http.NotFound(w, r)
		return
	}

	// the embedded web stack is slow and uneven
	time.Sleep(time.Duration(30+rand.Intn(120)) * time.Millisecond)

	if user, pass, ok := r.BasicAuth(); !ok || user != Username || pass != Password {
		w.Header().Set("WWW-Authenticate", `Basic realm="climatix"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	if q.Get("PIN") != PIN {
		writeJSON(w, map[string]any{"Error": 4})
		return
	}

	switch q.Get("FN") {
	case "Read":
		d.handleRead(w, q["OA"])
	case "Write":
		d.handleWrite(w, q.Get("OA"))
	default:
		writeJSON(w, map[string]any{"Error": 2})
	}
}

func (d *Device) handleRead(w http.ResponseWriter, ids []string) {
	values := make(map[string]any, len(ids))

	d.mu.Lock()
	for _, id := range ids {
		pt, ok := d.points[id]
		if !ok {
			// unknown addresses are silently omitted
			continue
		}
		pt.advance()
		text := formatValue(pt.value)
		values[id] = []any{text, text}
	}
	d.mu.Unlock()

	writeJSON(w, map[string]any{"values": values})
}

func (d *Device) handleWrite(w http.ResponseWriter, oa string) {
	id, text, ok := strings.Cut(oa, ";")
	if !ok {
		writeJSON(w, map[string]any{"Error": 2})
		return
	}
	target := id
	if aliased, ok := d.writeAlias[id]; ok {
		target = aliased
	}

	d.mu.Lock()
	pt, known := d.points[target]
	if known {
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			pt.value = pt.clamp(v)
		}
	}
	d.mu.Unlock()

	if !known {
		writeJSON(w, map[string]any{"Error": 3})
		return
	}
	slog.Info("mock write", "point", target, "value", text)
	writeJSON(w, map[string]any{
		"values": map[string]any{id: []any{text, text}},
		"Error":  0,
	})
}

// advance moves a point along. Callers hold the device lock.
func (p *point) advance() {
	if len(p.steps) > 0 {
		now := time.Now()
		if p.nextChangeAt.IsZero() {
			p.nextChangeAt = now.Add(stepDelay())
		}
		if now.After(p.nextChangeAt) {
			p.stepIdx = (p.stepIdx + 1) % len(p.steps)
			p.nextChangeAt = now.Add(stepDelay())
		}
		p.value = p.steps[p.stepIdx]
		return
	}
	if p.drift > 0 {
		p.value = p.clamp(p.value + (rand.Float64()*2-1)*p.drift)
	}
}

func (p *point) clamp(v float64) float64 {
	if p.max > p.min {
		if v < p.min {
			return p.min
		}
		if v > p.max {
			return p.max
		}
	}
	return v
}

func stepDelay() time.Duration {
	return time.Duration(20+rand.Intn(41)) * time.Second
}

// formatValue renders like the firmware: one decimal, integral values
// without a decimal point.
func formatValue(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}

func writeJSON(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
