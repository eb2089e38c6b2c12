package poll

import (
	"math/rand"
	"testing"
)

// TestClampThreshold verifies threshold normalisation: zero selects the
// default and out-of-range values are clamped.
func TestClampThreshold(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero selects default", 0, DefaultThreshold},
		{"below minimum", 5, MinThreshold},
		{"negative", -3, MinThreshold},
		{"above maximum", 500, MaxThreshold},
		{"minimum kept", 10, 10},
		{"maximum kept", 120, 120},
		{"in range kept", 45, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampThreshold(tt.in); got != tt.want {
				t.Errorf("ClampThreshold(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

// TestClassify verifies the due predicate for every mode across the counter
// range: fast is always due, slow only at the threshold, automatic inside
// the eager window or at the threshold.
func TestClassify(t *testing.T) {
	const threshold = 20

	tests := []struct {
		name       string
		mode       Mode
		counter    int
		wantDue    bool
		wantReason reason
	}{
		{"fast at zero", ModeFast, 0, true, reasonFast},
		{"fast mid-range", ModeFast, 12, true, reasonFast},
		{"fast above threshold", ModeFast, 99, true, reasonFast},

		{"slow at zero", ModeSlow, 0, false, reasonNotDue},
		{"slow just below threshold", ModeSlow, 19, false, reasonNotDue},
		{"slow at threshold", ModeSlow, 20, true, reasonThreshold},
		{"slow above threshold", ModeSlow, 33, true, reasonThreshold},

		{"automatic at zero", ModeAutomatic, 0, true, reasonEager},
		{"automatic at eager edge", ModeAutomatic, 5, true, reasonEager},
		{"automatic just past eager window", ModeAutomatic, 6, false, reasonNotDue},
		{"automatic mid-range", ModeAutomatic, 12, false, reasonNotDue},
		{"automatic at threshold", ModeAutomatic, 20, true, reasonThreshold},
		{"automatic above threshold", ModeAutomatic, 50, true, reasonThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due, r := classify(tt.mode, tt.counter, threshold)
			if due != tt.wantDue || r != tt.wantReason {
				t.Errorf("classify(%v, %d, %d) = (%v, %d), want (%v, %d)",
					tt.mode, tt.counter, threshold, due, r, tt.wantDue, tt.wantReason)
			}
		})
	}
}

// TestNextCounter_SlowAlwaysParksLow verifies that slow points land in
// [0, 3] after every read, changed or not.
func TestNextCounter_SlowAlwaysParksLow(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		changed := i%2 == 0
		got := nextCounter(ModeSlow, reasonThreshold, changed, 25, rng)
		if got < 0 || got > 3 {
			t.Fatalf("nextCounter(slow, changed=%v) = %d, want in [0, 3]", changed, got)
		}
	}
}

// TestNextCounter_AutomaticThresholdBranch verifies the threshold-read rule
// for automatic points: unchanged parks in [7, 9], changed resets to zero.
func TestNextCounter_AutomaticThresholdBranch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		got := nextCounter(ModeAutomatic, reasonThreshold, false, 20, rng)
		if got < 7 || got > 9 {
			t.Fatalf("unchanged threshold read: counter = %d, want in [7, 9]", got)
		}
	}

	if got := nextCounter(ModeAutomatic, reasonThreshold, true, 20, rng); got != 0 {
		t.Errorf("changed threshold read: counter = %d, want 0", got)
	}
}

// TestNextCounter_WalkAndReset verifies the default rule for fast points and
// automatic points inside the eager window: unchanged walks the counter by
// one, changed resets it to zero.
func TestNextCounter_WalkAndReset(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name    string
		mode    Mode
		r       reason
		changed bool
		counter int
		want    int
	}{
		{"fast unchanged walks", ModeFast, reasonFast, false, 4, 5},
		{"fast changed resets", ModeFast, reasonFast, true, 4, 0},
		{"eager unchanged walks", ModeAutomatic, reasonEager, false, 2, 3},
		{"eager changed resets", ModeAutomatic, reasonEager, true, 5, 0},
		{"refreshed mid-range walks", ModeAutomatic, reasonNotDue, false, 12, 13},
		{"refreshed mid-range resets", ModeAutomatic, reasonNotDue, true, 12, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextCounter(tt.mode, tt.r, tt.changed, tt.counter, rng); got != tt.want {
				t.Errorf("nextCounter(%v, %d, %v, %d) = %d, want %d",
					tt.mode, tt.r, tt.changed, tt.counter, got, tt.want)
			}
		})
	}
}

// TestValuesEqual verifies the numeric-tolerant equality used to decide
// whether a read changed a point: numeric forms compare within 1e-6, text
// falls back to string comparison and absent equals only absent.
func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"string one equals float one", "1", 1.0, true},
		{"on is not numeric one", "on", 1, false},
		{"within epsilon", 21.5, 21.5000001, true},
		{"outside epsilon", 21.5, 21.51, false},
		{"same text", "Comfort", "Comfort", true},
		{"different text", "Comfort", "Standby", false},
		{"trailing zeros equal numerically", "21.50", "21.5", true},
		{"bool coerces to one", true, 1, true},
		{"both absent", nil, nil, true},
		{"absent vs zero", nil, 0.0, false},
		{"present vs absent", "x", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValuesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
