package climatixd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/climatix-tools/climatixd/internal/poll"
)

// PollMode selects how aggressively the bridge polls a point.
//
// PollMode is a string type that can hold one of three predefined values:
// [PollAutomatic], [PollFast], or [PollSlow]. Using a string type allows for
// human-readable configuration files and logs while maintaining type safety
// through the defined constants.
type PollMode string

const (
	// PollAutomatic polls the point eagerly while its value keeps changing,
	// then backs off towards the slow-poll threshold once it settles. This
	// is the default and the right choice for most points.
	PollAutomatic PollMode = "automatic"

	// PollFast polls the point on every tick. Use it for setpoints and
	// alarm flags whose latest value always matters.
	PollFast PollMode = "fast"

	// PollSlow polls the point only once per threshold window. Use it for
	// configuration parameters that effectively never change.
	PollSlow PollMode = "slow"
)

// String returns the string representation of the mode.
// This implements the fmt.Stringer interface.
func (m PollMode) String() string {
	return string(m)
}

// ParsePollMode converts a configuration string into a [PollMode].
//
// The empty string parses as [PollAutomatic], matching the config file
// behaviour where the mode field is optional. Matching is case-insensitive.
//
// Returns an error for any other value.
func ParsePollMode(s string) (PollMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "automatic":
		return PollAutomatic, nil
	case "fast":
		return PollFast, nil
	case "slow":
		return PollSlow, nil
	default:
		return "", fmt.Errorf("unknown poll mode %q (want automatic, fast or slow)", s)
	}
}

// pollMode converts the public mode into the scheduler's representation.
func (m PollMode) pollMode() poll.Mode {
	switch m {
	case PollFast:
		return poll.ModeFast
	case PollSlow:
		return poll.ModeSlow
	default:
		return poll.ModeAutomatic
	}
}

// Point represents one controller datapoint the bridge polls.
//
// Point is immutable after creation via [NewPoint]. All fields are private
// with getter methods, ensuring the point cannot be modified after
// construction.
//
// Points are configured using the functional options pattern with
// [PointOption] functions such as [WithMode] and [WithWriteID].
type Point struct {
	id      string
	mode    PollMode
	writeID string
}

// pointConfig holds mutable state during point construction.
type pointConfig struct {
	mode    PollMode
	writeID string
}

// PointOption is a function that configures a [Point] during construction.
//
// PointOption implements the functional options pattern, allowing optional
// configuration to be passed to [NewPoint] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithMode], [WithWriteID].
type PointOption func(*pointConfig) error

// NewPoint creates a [Point] for the given datapoint address.
//
// The id parameter is the controller's point address, an opaque string such
// as "1!005121A700!2" obtained from the vendor's discovery tooling. It is
// used verbatim on the wire and as the key in value snapshots.
//
// Options are applied in order using the functional options pattern.
// See [WithMode] and [WithWriteID].
//
// Returns an error if the id is empty.
//
// Example:
//
//	pt, err := climatixd.NewPoint("1!005121A700!2",
//	    climatixd.WithMode(climatixd.PollFast),
//	)
func NewPoint(id string, opts ...PointOption) (Point, error) {
	if strings.TrimSpace(id) == "" {
		return Point{}, errors.New("point id cannot be empty")
	}

	cfg := &pointConfig{
		mode: PollAutomatic,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Point{}, err
		}
	}

	return Point{
		id:      id,
		mode:    cfg.mode,
		writeID: cfg.writeID,
	}, nil
}

// ID returns the point's read address.
func (p Point) ID() string {
	return p.id
}

// Mode returns the point's polling mode.
// Defaults to [PollAutomatic] if not explicitly set via [WithMode].
func (p Point) Mode() PollMode {
	return p.mode
}

// WriteID returns the address used when writing to this point.
// Some firmwares expose a datapoint under one address for reading and a
// different one for writing; when no write address was configured via
// [WithWriteID], WriteID returns the read address.
func (p Point) WriteID() string {
	if p.writeID == "" {
		return p.id
	}
	return p.writeID
}

// WithMode sets the polling mode for this point.
//
// See [PollAutomatic], [PollFast] and [PollSlow] for what each mode does.
// If not specified, [PollAutomatic] is used.
//
// Returns an error if the mode is not one of the defined constants.
func WithMode(mode PollMode) PointOption {
	return func(cfg *pointConfig) error {
		switch mode {
		case PollAutomatic, PollFast, PollSlow:
			cfg.mode = mode
			return nil
		default:
			return fmt.Errorf("unknown poll mode %q", mode)
		}
	}
}

// WithWriteID sets a distinct write address for this point.
//
// Reads keep using the point's id; [Bridge.WritePoint] targets the write
// address instead. Use this for datapoints whose firmware exposes separate
// read and write members.
//
// Example:
//
//	pt, err := climatixd.NewPoint("1!005121A700!9",
//	    climatixd.WithWriteID("1!005121A700!10"),
//	)
//
// Returns an error if the write id is empty.
func WithWriteID(writeID string) PointOption {
	return func(cfg *pointConfig) error {
		if strings.TrimSpace(writeID) == "" {
			return errors.New("write id cannot be empty")
		}
		cfg.writeID = writeID
		return nil
	}
}
