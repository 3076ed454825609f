package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/robot-control/robotd/internal/auto"
	"github.com/robot-control/robotd/internal/config"
	"github.com/robot-control/robotd/internal/datalog"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/telemetry"
)

// Run ticks every loop period until ctx is done, then disables the robot
// and fails any queued requests with ErrStopped.
func (r *Robot) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Loop.Period)
	defer ticker.Stop()
	r.logger.Info("Control loop started", "period", r.cfg.Loop.Period)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case <-ticker.C:
			start := time.Now()
			r.Tick(ctx)
			r.observeTick(time.Since(start))
		}
	}
}

func (r *Robot) observeTick(d time.Duration) {
	if m := r.sinks.Metrics; m != nil {
		m.ObserveTick(d, r.cfg.Loop.OverrunWarn)
	}
	if d <= r.cfg.Loop.OverrunWarn {
		return
	}
	r.overruns++
	r.overrunLog.Do(func() {
		r.logger.Warn("Loop overrun", "tick", d, "limit", r.cfg.Loop.OverrunWarn, "overruns", r.overruns)
	})
}

func (r *Robot) shutdown() {
	r.enterMode(Disabled)
	r.dt.Periodic(context.Background())
	r.stopOnce()
	for {
		select {
		case req := <-r.requests:
			req.done <- ErrStopped
		default:
			r.publish()
			r.logger.Info("Control loop stopped", "ticks", r.ticks)
			return
		}
	}
}

// Tick runs one control period: queued requests, operator input, the
// scheduler, then every mechanism's periodic update. The new State is
// published at the end.
func (r *Robot) Tick(ctx context.Context) {
	r.drainRequests()
	r.refreshOperator()

	r.sched.Tick()
	r.dt.Periodic(ctx)
	r.arm.Periodic(ctx)
	r.gripper.Periodic(ctx)
	if r.world != nil {
		r.world.Step(r.cfg.Loop.Period)
	}

	r.ticks++
	r.lastTick = r.clock()
	if d := r.sinks.Datalog; d != nil {
		d.RecordPose(datalog.PoseSample{T: r.lastTick, Fused: r.dt.Pose(), Odometry: r.dt.OdometryPose()})
		r.reportDropped("datalog", d.Dropped())
	}
	if h := r.sinks.Telemetry; h != nil {
		r.reportDropped("telemetry", h.Dropped())
	}
	r.publish()
}

// drainRequests runs the requests queued before this tick started.
func (r *Robot) drainRequests() {
	for n := len(r.requests); n > 0; n-- {
		req := <-r.requests
		req.done <- r.run(req.fn)
	}
}

// run executes a request, turning a panic into an error so that one bad
// request cannot stop the loop.
func (r *Robot) run(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("request panicked: %v", p)
			r.logger.Error("Request panicked", "panic", p)
		}
	}()
	return fn()
}

func (r *Robot) reportDropped(sink string, total int64) {
	if m := r.sinks.Metrics; m != nil {
		m.AddDropped(sink, total-r.dropped[sink])
	}
	r.dropped[sink] = total
}

// Do queues fn for the tick goroutine and waits for its result. It fails
// fast with ErrBusy when the queue is full.
func (r *Robot) Do(ctx context.Context, fn func() error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case <-r.stopped:
		return ErrStopped
	default:
	}
	select {
	case r.requests <- req:
	default:
		return ErrBusy
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		select {
		case err := <-req.done:
			return err
		default:
			return ErrStopped
		}
	}
}

// operatorAction runs fn on the tick goroutine and records it in the audit
// log under the user carried by ctx.
func (r *Robot) operatorAction(ctx context.Context, action string, params map[string]any, fn func() error) error {
	err := r.Do(ctx, fn)
	if a := r.sinks.Audit; a != nil {
		a.LogOperatorAction(ctx, action, params, err)
	}
	return err
}

// SetMode switches the match mode.
func (r *Robot) SetMode(ctx context.Context, m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	return r.operatorAction(ctx, "setMode", map[string]any{"mode": string(m)}, func() error {
		r.enterMode(m)
		return nil
	})
}

// ResetPose places the robot at pose on the field.
func (r *Robot) ResetPose(ctx context.Context, pose geom.Pose2d) error {
	return r.operatorAction(ctx, "resetPose", map[string]any{
		"x": pose.X(), "y": pose.Y(), "headingDeg": pose.Rotation.Degrees(),
	}, func() error {
		r.dt.ResetPose(pose)
		return nil
	})
}

// ZeroHeading makes the current heading field-forward.
func (r *Robot) ZeroHeading(ctx context.Context) error {
	return r.operatorAction(ctx, "zeroHeading", nil, func() error {
		r.dt.ZeroHeading()
		return nil
	})
}

// RealignModules recalibrates every module from its absolute sensor.
func (r *Robot) RealignModules(ctx context.Context) error {
	return r.operatorAction(ctx, "realignModules", nil, func() error {
		return r.dt.ResetModulesToAbsolute(ctx)
	})
}

// Autos returns the routine names, default first, and the current
// selection.
func (r *Robot) Autos() (names []string, selected string) {
	return r.chooser.Names(), r.chooser.Selected()
}

// SelectAuto picks the routine run on the next entry into autonomous.
func (r *Robot) SelectAuto(ctx context.Context, name string) error {
	err := r.chooser.Select(name)
	if a := r.sinks.Audit; a != nil {
		a.LogOperatorAction(ctx, "selectAuto", map[string]any{"routine": name}, err)
	}
	return err
}

// Reload applies a new configuration. The routine catalogue, default
// routine and overrun threshold take effect immediately; the returned
// section names changed too but need a restart.
func (r *Robot) Reload(ctx context.Context, cfg config.Config) ([]string, error) {
	var cat *auto.Catalogue
	var err error
	if cat, err = loadCatalogue(cfg.Autos); err != nil {
		return nil, fmt.Errorf("robot: reload: %w", err)
	}

	var restart []string
	err = r.Do(ctx, func() error {
		restart = restartSections(r.cfg, cfg)
		r.catalogue = cat
		r.chooser.SetCatalogue(cat)
		if cfg.Autos.Default != "" && cfg.Autos.Default != r.cfg.Autos.Default {
			if err := r.chooser.Select(cfg.Autos.Default); err != nil {
				r.logger.Warn("Configured default routine not in catalogue", "routine", cfg.Autos.Default, "error", err)
			}
		}
		r.cfg.Autos = cfg.Autos
		r.cfg.Loop.OverrunWarn = cfg.Loop.OverrunWarn
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Configuration reloaded", "restart_required", restart)
	if h := r.sinks.Telemetry; h != nil {
		h.Publish(telemetry.Event{Type: telemetry.EventConfigReloaded, Data: map[string]any{
			"restartRequired": restart,
		}})
	}
	return restart, nil
}

func restartSections(old, cfg config.Config) []string {
	var out []string
	oldJSON, newJSON := sectionsOf(old), sectionsOf(cfg)
	for _, name := range []string{"loop.period", "drivetrain", "module", "estimator", "vision", "api", "audit", "datalog"} {
		if oldJSON[name] != newJSON[name] {
			out = append(out, name)
		}
	}
	return out
}

func sectionsOf(c config.Config) map[string]string {
	return map[string]string{
		"loop.period": fmt.Sprint(c.Loop.Period, c.Loop.RequestQueue),
		"drivetrain":  fmt.Sprintf("%+v", c.Drivetrain),
		"module":      fmt.Sprintf("%+v", c.Module),
		"estimator":   fmt.Sprintf("%+v", c.Estimator),
		"vision":      fmt.Sprintf("%+v", c.Vision),
		"api":         fmt.Sprintf("%+v", c.API),
		"audit":       fmt.Sprintf("%+v", c.Audit),
		"datalog":     fmt.Sprintf("%+v", c.Datalog),
	}
}

// Mode returns the mode of the last published State.
func (r *Robot) Mode() Mode { return r.Snapshot().Mode }

// Clock returns the robot clock.
func (r *Robot) Clock() time.Duration { return r.clock() }
