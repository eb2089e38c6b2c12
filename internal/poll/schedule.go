package poll

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/climatix-tools/climatixd/internal/device"
)

// Mode selects how aggressively a point is polled.
type Mode uint8

const (
	// ModeAutomatic polls eagerly while a point is new or its value keeps
	// changing, then backs off towards the slow threshold once it settles.
	ModeAutomatic Mode = iota
	// ModeFast polls the point on every tick.
	ModeFast
	// ModeSlow polls the point only when its counter reaches the shared
	// threshold.
	ModeSlow
)

// String returns the lowercase mode name used in configuration and logs.
func (m Mode) String() string {
	switch m {
	case ModeFast:
		return "fast"
	case ModeSlow:
		return "slow"
	default:
		return "automatic"
	}
}

const (
	// DefaultThreshold is the slow-poll threshold, in ticks, used when no
	// threshold is configured.
	DefaultThreshold = 20

	// MinThreshold and MaxThreshold bound the configurable threshold.
	MinThreshold = 10
	MaxThreshold = 120

	// eagerWindow is the counter band in which automatic points poll on
	// every tick. Fresh points and points that just changed start at zero,
	// so they are watched closely until their value settles.
	eagerWindow = 5

	// valueEpsilon is the tolerance below which two numeric readings count
	// as the same value.
	valueEpsilon = 1e-6
)

// ClampThreshold normalises a configured slow-poll threshold. Zero selects
// [DefaultThreshold]; any other value is clamped to
// [MinThreshold, MaxThreshold].
func ClampThreshold(n int) int {
	switch {
	case n == 0:
		return DefaultThreshold
	case n < MinThreshold:
		return MinThreshold
	case n > MaxThreshold:
		return MaxThreshold
	default:
		return n
	}
}

// reason records why a point was selected for a read. The post-read counter
// rules depend on it: an automatic point read because its counter hit the
// threshold parks just below the threshold while its value stays flat,
// whereas every other read walks the counter by one.
type reason uint8

const (
	reasonNotDue    reason = iota
	reasonFast             // fast mode polls unconditionally
	reasonEager            // automatic point inside the eager window
	reasonThreshold        // counter reached the shared threshold
)

// classify reports whether a point with the given counter is due on this
// tick, and why. Forced refreshes reuse the reason while ignoring due, so a
// refresh settles the counter exactly as a scheduled read would have.
func classify(mode Mode, counter, threshold int) (bool, reason) {
	switch mode {
	case ModeFast:
		return true, reasonFast
	case ModeSlow:
		if counter >= threshold {
			return true, reasonThreshold
		}
		return false, reasonNotDue
	default:
		if counter >= threshold {
			return true, reasonThreshold
		}
		if counter <= eagerWindow {
			return true, reasonEager
		}
		return false, reasonNotDue
	}
}

// nextCounter computes a point's schedule counter after a completed read.
//
// Slow points always park at a small random offset so a fleet of slow points
// does not hit the threshold on the same tick. An automatic point read at the
// threshold parks in [7, 9] while unchanged, keeping a stable point on a low
// duty cycle without ever re-entering the eager window. Every other read
// walks the counter by one while the value holds. A changed value resets the
// counter to zero, which for automatic points also re-opens the eager window.
func nextCounter(mode Mode, r reason, changed bool, counter int, rng *rand.Rand) int {
	if mode == ModeSlow {
		return rng.Intn(4)
	}
	if mode == ModeAutomatic && r == reasonThreshold {
		if changed {
			return 0
		}
		return 7 + rng.Intn(3)
	}
	if changed {
		return 0
	}
	return counter + 1
}

// ValuesEqual reports whether two extracted point values represent the same
// reading. Values that both parse as numbers compare within [valueEpsilon],
// so a reading that arrives as "21.5" one tick and 21.5 the next does not
// register as a change. Anything else falls back to string comparison.
// Absent values are equal only to each other. The same comparison gates
// no-op write elision, so "equal" means "not worth a device round-trip".
func ValuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	fa, aok := device.Numeric(a)
	fb, bok := device.Numeric(b)
	if aok && bok {
		return math.Abs(fa-fb) < valueEpsilon
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
