package poll

import (
	"sync"
	"time"
)

const (
	// rateWindow is the lookback over which per-minute rates are computed.
	rateWindow = 5 * time.Minute

	// sampleRetention bounds the rate history. It is kept slightly longer
	// than rateWindow so the window normally has a sample just outside it.
	sampleRetention = 6 * time.Minute
)

// sample is a point-in-time copy of the cumulative counters.
type sample struct {
	at       time.Time
	requests int64
	values   int64
}

// Diagnostics tracks how much traffic a coordinator generates against its
// controller: cumulative totals since startup plus a short sample history
// used to estimate recent rates. Safe for concurrent use.
type Diagnostics struct {
	mu       sync.Mutex
	requests int64
	values   int64
	samples  []sample
	now      func() time.Time
}

// NewDiagnostics returns an empty Diagnostics.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{now: time.Now}
}

// NoteRequest records one attempted HTTP request. Attempts are counted
// before their outcome is known, so failing requests stay visible in the
// request rate.
func (d *Diagnostics) NoteRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	d.record()
}

// NoteValues records n point values requested from the controller.
func (d *Diagnostics) NoteValues(n int) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values += int64(n)
	d.record()
}

// record appends a sample of the current counters and prunes history older
// than sampleRetention. Callers must hold mu.
func (d *Diagnostics) record() {
	now := d.now()
	d.samples = append(d.samples, sample{at: now, requests: d.requests, values: d.values})

	cutoff := now.Add(-sampleRetention)
	trim := 0
	for trim < len(d.samples) && d.samples[trim].at.Before(cutoff) {
		trim++
	}
	if trim > 0 {
		d.samples = d.samples[trim:]
	}
}

// Snapshot is a point-in-time view of the traffic counters and derived rates.
type Snapshot struct {
	RequestsTotal     int64
	ValuesTotal       int64
	RequestsPerMinute float64
	ValuesPerMinute   float64
}

// Snapshot returns the cumulative totals plus per-minute rates computed over
// the trailing rateWindow: the delta between the latest sample and the
// oldest sample still inside the window (or the oldest retained sample when
// everything predates the window), divided by the time between them. Rates
// stay zero until two samples span a measurable interval.
func (d *Diagnostics) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := Snapshot{RequestsTotal: d.requests, ValuesTotal: d.values}
	if len(d.samples) < 2 {
		return snap
	}

	start := d.now().Add(-rateWindow)
	oldest := d.samples[0]
	for _, s := range d.samples {
		if !s.at.Before(start) {
			oldest = s
			break
		}
	}
	latest := d.samples[len(d.samples)-1]

	minutes := latest.at.Sub(oldest.at).Minutes()
	if minutes <= 0 {
		return snap
	}
	snap.RequestsPerMinute = float64(latest.requests-oldest.requests) / minutes
	snap.ValuesPerMinute = float64(latest.values-oldest.values) / minutes
	return snap
}
