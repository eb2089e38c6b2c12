package config

import (
	"fmt"

	"github.com/climatix-tools/climatixd"
)

// BuildOptions converts parsed configuration into SDK options for
// [climatixd.New].
//
// Options are only emitted for fields the file actually sets, so SDK
// defaults apply to everything left at its zero value.
func BuildOptions(cfg *Config) ([]climatixd.Option, error) {
	controllers, err := BuildControllers(cfg)
	if err != nil {
		return nil, err
	}

	opts := []climatixd.Option{
		climatixd.WithControllers(controllers...),
	}

	if cfg.ListenPort != 0 {
		opts = append(opts, climatixd.WithListenPort(cfg.ListenPort))
	}
	if cfg.Journal.Path != "" {
		opts = append(opts, climatixd.WithJournalPath(cfg.Journal.Path))
	}
	if cfg.Trace.Path != "" {
		opts = append(opts, climatixd.WithTracePath(cfg.Trace.Path))
	}

	return opts, nil
}

// BuildControllers converts parsed configuration into SDK Controller objects.
func BuildControllers(cfg *Config) ([]climatixd.Controller, error) {
	controllers := make([]climatixd.Controller, 0, len(cfg.Controllers))
	for _, cc := range cfg.Controllers {
		ctrl, err := buildController(cc)
		if err != nil {
			return nil, err
		}
		controllers = append(controllers, ctrl)
	}
	return controllers, nil
}

// buildController converts a single ControllerConfig to an SDK Controller.
func buildController(cc ControllerConfig) (climatixd.Controller, error) {
	points := make([]climatixd.Point, 0, len(cc.Points))
	for _, pc := range cc.Points {
		pt, err := buildPoint(pc)
		if err != nil {
			return climatixd.Controller{}, fmt.Errorf("controller %s: %w", cc.Name, err)
		}
		points = append(points, pt)
	}

	var opts []climatixd.ControllerOption

	if cc.Port != 0 {
		opts = append(opts, climatixd.WithPort(cc.Port))
	}
	if cc.Username != "" && cc.Password != "" {
		opts = append(opts, climatixd.WithCredentials(cc.Username, cc.Password))
	}
	if cc.PIN != "" {
		opts = append(opts, climatixd.WithPIN(cc.PIN))
	}
	if cc.Timeout != 0 {
		opts = append(opts, climatixd.WithRequestTimeout(cc.Timeout.Duration()))
	}
	if cc.TickInterval != 0 {
		opts = append(opts, climatixd.WithTickInterval(cc.TickInterval.Duration()))
	}
	if cc.PollThreshold != 0 {
		opts = append(opts, climatixd.WithPollThreshold(cc.PollThreshold))
	}
	if cc.MaxPointsPerRead != 0 {
		opts = append(opts, climatixd.WithMaxPointsPerRead(cc.MaxPointsPerRead))
	}

	ctrl, err := climatixd.NewController(cc.Name, cc.Host, points, opts...)
	if err != nil {
		return climatixd.Controller{}, fmt.Errorf("controller %s: %w", cc.Name, err)
	}
	return ctrl, nil
}

// buildPoint converts a single PointConfig to an SDK Point.
func buildPoint(pc PointConfig) (climatixd.Point, error) {
	var opts []climatixd.PointOption

	if pc.Mode != "" {
		mode, err := climatixd.ParsePollMode(pc.Mode)
		if err != nil {
			return climatixd.Point{}, fmt.Errorf("point %s: %w", pc.ID, err)
		}
		opts = append(opts, climatixd.WithMode(mode))
	}

	if pc.WriteID != "" {
		opts = append(opts, climatixd.WithWriteID(pc.WriteID))
	}

	pt, err := climatixd.NewPoint(pc.ID, opts...)
	if err != nil {
		return climatixd.Point{}, fmt.Errorf("point %s: %w", pc.ID, err)
	}
	return pt, nil
}
