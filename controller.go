package climatixd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/climatix-tools/climatixd/internal/device"
	"github.com/climatix-tools/climatixd/internal/poll"
)

const (
	defaultTickInterval = 30 * time.Second
	minTickInterval     = time.Second
	maxTickInterval     = time.Hour
)

// Controller describes one physical controller the bridge polls.
//
// Controller is immutable after creation via [NewController]. All fields are
// private with getter methods that return copies of mutable data (slices),
// ensuring the controller cannot be modified after construction.
//
// Controllers are configured using the functional options pattern with
// [ControllerOption] functions such as [WithPort], [WithCredentials],
// [WithPIN], [WithRequestTimeout], [WithTickInterval], [WithPollThreshold],
// and [WithMaxPointsPerRead].
type Controller struct {
	name             string
	host             string
	port             int
	username         string
	password         string
	pin              string
	timeout          time.Duration
	tickInterval     time.Duration
	pollThreshold    int
	maxPointsPerRead int
	points           []Point
}

// NewController creates a [Controller] with the given name, host, points and
// options.
//
// The name parameter identifies the controller in logs, diagnostics, the
// HTTP API and the journal; it must be unique across one [Bridge]. The host
// parameter is the controller's IP address or hostname. The points slice
// lists the datapoints to poll; at least one is required, and duplicate ids
// are dropped keeping the first occurrence.
//
// Connection options default to the vendor-published factory values: port
// 80, username "JSON", password "SBTAdmin!", PIN "7659", a 10 second
// request timeout. The polling cadence defaults to a 30 second tick, a
// slow-poll threshold of 20 ticks and at most 40 points per HTTP read.
//
// Returns an error if the name or host is empty, if no valid point is
// supplied, or if any option is invalid.
//
// Example:
//
//	ctrl, err := climatixd.NewController("boiler", "192.168.1.40", points,
//	    climatixd.WithTickInterval(15 * time.Second),
//	    climatixd.WithPollThreshold(40),
//	)
func NewController(name, host string, points []Point, opts ...ControllerOption) (Controller, error) {
	if strings.TrimSpace(name) == "" {
		return Controller{}, errors.New("controller name cannot be empty")
	}
	if strings.TrimSpace(host) == "" {
		return Controller{}, errors.New("controller host cannot be empty")
	}

	cfg := &controllerConfig{
		port:             device.DefaultPort,
		username:         device.DefaultUsername,
		password:         device.DefaultPassword,
		pin:              device.DefaultPIN,
		timeout:          device.DefaultTimeout,
		tickInterval:     defaultTickInterval,
		maxPointsPerRead: device.DefaultChunkSize,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Controller{}, err
		}
	}

	deduped := make([]Point, 0, len(points))
	seen := make(map[string]bool, len(points))
	for i, p := range points {
		if p.id == "" {
			return Controller{}, fmt.Errorf("point %d has an empty id (use NewPoint)", i)
		}
		if seen[p.id] {
			continue
		}
		seen[p.id] = true
		deduped = append(deduped, p)
	}
	if len(deduped) == 0 {
		return Controller{}, errors.New("at least one point is required")
	}

	return Controller{
		name:             name,
		host:             host,
		port:             cfg.port,
		username:         cfg.username,
		password:         cfg.password,
		pin:              cfg.pin,
		timeout:          cfg.timeout,
		tickInterval:     cfg.tickInterval,
		pollThreshold:    poll.ClampThreshold(cfg.pollThreshold),
		maxPointsPerRead: cfg.maxPointsPerRead,
		points:           deduped,
	}, nil
}

// Name returns the controller's configured name.
func (c Controller) Name() string {
	return c.name
}

// Host returns the controller's IP address or hostname.
func (c Controller) Host() string {
	return c.host
}

// Port returns the TCP port of the controller's local web service.
func (c Controller) Port() int {
	return c.port
}

// RequestTimeout returns the per-request HTTP timeout.
func (c Controller) RequestTimeout() time.Duration {
	return c.timeout
}

// TickInterval returns the interval between polling cycles.
func (c Controller) TickInterval() time.Duration {
	return c.tickInterval
}

// PollThreshold returns the effective slow-poll threshold in ticks, after
// clamping the configured value to the supported range.
func (c Controller) PollThreshold() int {
	return c.pollThreshold
}

// MaxPointsPerRead returns how many point addresses are carried per HTTP
// read at most.
func (c Controller) MaxPointsPerRead() int {
	return c.maxPointsPerRead
}

// Points returns a copy of the controller's configured points, in
// configuration order with duplicates removed.
//
// The returned slice is a copy; modifying it does not affect the Controller.
// Each [Point] in the slice is immutable.
func (c Controller) Points() []Point {
	cp := make([]Point, len(c.points))
	copy(cp, c.points)
	return cp
}

// pointIDs returns the read addresses in configuration order.
func (c Controller) pointIDs() []string {
	ids := make([]string, len(c.points))
	for i, p := range c.points {
		ids[i] = p.id
	}
	return ids
}

// pointSpecs converts the points into the scheduler's representation.
func (c Controller) pointSpecs() []poll.PointSpec {
	specs := make([]poll.PointSpec, len(c.points))
	for i, p := range c.points {
		specs[i] = poll.PointSpec{ID: p.id, Mode: p.mode.pollMode()}
	}
	return specs
}

// connection assembles the wire-level connection parameters.
func (c Controller) connection() device.Connection {
	return device.Connection{
		Host:     c.host,
		Port:     c.port,
		Username: c.username,
		Password: c.password,
		PIN:      c.pin,
		Timeout:  c.timeout,
	}
}
