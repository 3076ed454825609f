package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/robot-control/robotd/internal/audit"
	"github.com/robot-control/robotd/internal/auto"
	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/config"
	"github.com/robot-control/robotd/internal/datalog"
	"github.com/robot-control/robotd/internal/drivetrain"
	"github.com/robot-control/robotd/internal/estimator"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/hal/sim"
	"github.com/robot-control/robotd/internal/metrics"
	"github.com/robot-control/robotd/internal/subsystem"
	"github.com/robot-control/robotd/internal/swerve"
	"github.com/robot-control/robotd/internal/telemetry"
	"github.com/robot-control/robotd/internal/vision"
)

var (
	// ErrBusy is returned when the request queue is full.
	ErrBusy = errors.New("BUSY")
	// ErrStopped is returned for requests made after the loop has exited.
	ErrStopped = errors.New("robot loop stopped")
)

// Sinks receive what happens on the tick goroutine. Any of them may be nil.
type Sinks struct {
	Telemetry *telemetry.Hub
	Audit     *audit.Logger
	Datalog   *datalog.Recorder
	Metrics   *metrics.Metrics
}

// Options configures New.
type Options struct {
	Config   config.Config
	Hardware Hardware
	// World, when set, is stepped by one period after every tick.
	World *sim.World
	// Mailbox carries vision measurements to the drivetrain. Nil disables
	// vision fusion.
	Mailbox *vision.Mailbox
	// Catalogue overrides the one named in Config.Autos.
	Catalogue *auto.Catalogue
	// Clock defaults to wall time since New.
	Clock  command.Clock
	Sinks  Sinks
	Logger *slog.Logger
}

type request struct {
	fn   func() error
	done chan error
}

// Robot is the container. Its exported methods are safe for concurrent use;
// they either read the published State or queue work for the tick goroutine.
type Robot struct {
	cfg    config.Config
	logger *slog.Logger
	clock  command.Clock
	sinks  Sinks
	world  *sim.World

	sched     *command.Scheduler
	dt        *drivetrain.Drivetrain
	arm       *subsystem.Arm
	gripper   *subsystem.Gripper
	catalogue *auto.Catalogue
	chooser   *auto.Chooser
	mech      auto.Mechanisms

	teleopDrive command.Command
	holdArm     command.Command
	gripperIdle command.Command

	requests chan request
	stopped  chan struct{}
	stopOnce func()
	state    atomic.Pointer[State]
	operator atomic.Pointer[OperatorFrame]

	// Owned by the tick goroutine.
	mode       Mode
	autoCmd    command.Command
	lastFrame  *OperatorFrame
	frame      OperatorFrame
	frameAt    time.Duration
	ticks      uint64
	overruns   uint64
	lastTick   time.Duration
	faultLogs  map[string]*rate.Sometimes
	dropped    map[string]int64
	overrunLog rate.Sometimes
}

// New builds the container in Disabled mode. The modules are calibrated
// from their absolute sensors; a module that fails stays uncalibrated and
// holds still until RealignModules succeeds.
func New(ctx context.Context, opts Options) (*Robot, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		start := time.Now()
		clock = func() time.Duration { return time.Since(start) }
	}
	queue := cfg.Loop.RequestQueue
	if queue <= 0 {
		queue = 1
	}

	r := &Robot{
		cfg:        cfg,
		logger:     logger.With("component", "robot"),
		clock:      clock,
		sinks:      opts.Sinks,
		world:      opts.World,
		requests:   make(chan request, queue),
		stopped:    make(chan struct{}),
		mode:       Disabled,
		faultLogs:  make(map[string]*rate.Sometimes),
		dropped:    make(map[string]int64),
		overrunLog: rate.Sometimes{Interval: time.Second},
	}
	var once atomic.Bool
	r.stopOnce = func() {
		if once.CompareAndSwap(false, true) {
			close(r.stopped)
		}
	}

	kin, err := NewKinematics(cfg.Drivetrain)
	if err != nil {
		return nil, fmt.Errorf("robot: %w", err)
	}
	if len(opts.Hardware.Modules) != len(cfg.Drivetrain.Modules) {
		return nil, fmt.Errorf("robot: %d module ports for %d configured modules", len(opts.Hardware.Modules), len(cfg.Drivetrain.Modules))
	}

	modules := make([]*swerve.Module, len(cfg.Drivetrain.Modules))
	for i, m := range cfg.Drivetrain.Modules {
		modules[i] = swerve.NewModule(swerve.Config{
			Name:           m.ID,
			AbsoluteOffset: geom.FromDegrees(m.AbsoluteOffset),
			KS:             cfg.Module.KS,
			KV:             cfg.Module.KV,
			KA:             cfg.Module.KA,
			DriveKP:        cfg.Module.DriveKP,
			MaxSpeed:       cfg.Drivetrain.MaxSpeed,
			Period:         cfg.Loop.Period,
			OnFault:        r.sensorFault,
		}, opts.Hardware.Modules[i], logger)
	}

	r.dt, err = drivetrain.New(ctx, drivetrainConfig(cfg), kin,
		drivetrain.Hardware{Modules: modules, Gyro: opts.Hardware.Gyro}, opts.Mailbox, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("robot: %w", err)
	}
	r.dt.OnSensorFault = r.sensorFault
	r.dt.OnVision = r.visionResult
	if err := r.dt.ResetModulesToAbsolute(ctx); err != nil {
		r.logger.Error("Module calibration failed, affected modules will hold", "error", err)
	}

	r.arm = subsystem.NewArm(subsystem.DefaultArmConfig(), opts.Hardware.Arm, logger)
	r.arm.OnFault = r.sensorFault
	r.gripper = subsystem.NewGripper(subsystem.DefaultGripperConfig(), opts.Hardware.Gripper, logger)
	r.gripper.OnFault = r.sensorFault

	r.catalogue = opts.Catalogue
	if r.catalogue == nil {
		if r.catalogue, err = loadCatalogue(cfg.Autos); err != nil {
			return nil, fmt.Errorf("robot: %w", err)
		}
	}
	r.chooser = auto.NewChooser(r.catalogue, logger)
	if cfg.Autos.Default != "" {
		if err := r.chooser.Select(cfg.Autos.Default); err != nil {
			return nil, fmt.Errorf("robot: autos.default: %w", err)
		}
	}

	r.sched = command.NewScheduler(clock, logger, drivetrain.Resource, subsystem.ArmResource, subsystem.GripperResource)
	r.sched.OnEvent(r.commandEvent)

	align := drivetrain.DefaultAlignConfig()
	align.Period = cfg.Loop.Period
	balance := drivetrain.DefaultBalanceConfig()
	balance.Period = cfg.Loop.Period
	r.mech = auto.Mechanisms{
		Drivetrain: r.dt,
		Arm:        r.arm,
		Gripper:    r.gripper,
		Clock:      clock,
		Align:      align,
		Balance:    balance,
		Grid:       auto.DefaultGridGeometry(),
		Home:       r.arm.Target(),
	}

	r.teleopDrive = drivetrain.TeleopDrive(r.dt, r.driveInput, cfg.Drivetrain.StickDeadband)
	r.holdArm = subsystem.HoldArm(r.arm)
	r.gripperIdle = subsystem.GripperIdle(r.gripper)
	r.bindOperator()

	r.publish()
	if m := r.sinks.Metrics; m != nil {
		m.SetMode(string(r.mode), modeNames()...)
	}
	return r, nil
}

func loadCatalogue(cfg config.AutosConfig) (*auto.Catalogue, error) {
	if cfg.Catalogue == "" {
		return auto.DefaultCatalogue()
	}
	return auto.LoadCatalogue(cfg.Catalogue)
}

func drivetrainConfig(cfg config.Config) drivetrain.Config {
	d := cfg.Drivetrain
	e := cfg.Estimator
	est := estimator.Config{
		MinConfidence:   e.MinConfidence,
		MaxStaleness:    e.MaxStaleness,
		OutlierDistance: e.OutlierDistance,
		HistoryWindow:   e.HistoryWindow,
	}
	copy(est.StateStdDevs[:], e.StateStdDevs)
	copy(est.VisionStdDevs[:], e.VisionStdDevs)
	return drivetrain.Config{
		MaxSpeed:            d.MaxSpeed,
		MaxAngularSpeed:     d.MaxAngularSpeed,
		StrafeDeadband:      d.StrafeDeadband,
		RotationDeadband:    d.RotationDeadband,
		GyroInverted:        d.GyroInverted,
		DisableOptimization: !cfg.Module.Optimize,
		Estimator:           est,
	}
}

// Drivetrain returns the drivetrain. Only the tick goroutine may use it
// while the loop runs.
func (r *Robot) Drivetrain() *drivetrain.Drivetrain { return r.dt }

// Scheduler returns the command scheduler, with the same restriction as
// Drivetrain.
func (r *Robot) Scheduler() *command.Scheduler { return r.sched }

// Mechanisms returns the handles autonomous routines are built from.
func (r *Robot) Mechanisms() auto.Mechanisms { return r.mech }

// enterMode runs on the tick goroutine.
func (r *Robot) enterMode(m Mode) {
	if m == r.mode {
		return
	}
	prev := r.mode
	r.mode = m

	switch m {
	case Disabled:
		r.removeDefaults()
		r.sched.CancelAll()
		r.dt.Stop()
		r.gripper.SetOutput(0)
		r.autoCmd = nil
	case Autonomous:
		r.removeDefaults()
		r.sched.CancelAll()
		r.installMechanismDefaults()
		r.autoCmd = r.chooser.Command(r.mech)
		if err := r.sched.ScheduleNow(r.autoCmd); err != nil {
			r.logger.Error("Failed to schedule autonomous routine", "routine", r.autoCmd.Name(), "error", err)
		}
	case Teleop:
		if r.autoCmd != nil {
			r.sched.Cancel(r.autoCmd)
			r.autoCmd = nil
		}
		r.installMechanismDefaults()
		if err := r.sched.RegisterDefaultCommand(drivetrain.Resource, r.teleopDrive); err != nil {
			r.logger.Error("Failed to install teleop drive", "error", err)
		}
	}

	r.logger.Info("Mode changed", "from", prev, "to", m)
	if h := r.sinks.Telemetry; h != nil {
		h.Publish(telemetry.Event{Type: telemetry.EventModeChanged, Data: map[string]any{
			"from": string(prev),
			"to":   string(m),
		}})
	}
	if mt := r.sinks.Metrics; mt != nil {
		mt.SetMode(string(m), modeNames()...)
	}
}

func (r *Robot) removeDefaults() {
	for _, res := range r.sched.Resources() {
		r.sched.RemoveDefaultCommand(res)
	}
}

func (r *Robot) installMechanismDefaults() {
	for res, cmd := range map[command.Resource]command.Command{
		subsystem.ArmResource:     r.holdArm,
		subsystem.GripperResource: r.gripperIdle,
	} {
		if err := r.sched.RegisterDefaultCommand(res, cmd); err != nil {
			r.logger.Error("Failed to install default command", "resource", res, "error", err)
		}
	}
}

func (r *Robot) commandEvent(e command.Event) {
	if h := r.sinks.Telemetry; h != nil {
		h.CommandEvent(e)
	}
	if a := r.sinks.Audit; a != nil {
		a.LogCommand(e)
	}
	if d := r.sinks.Datalog; d != nil {
		d.RecordCommand(e)
	}
	if m := r.sinks.Metrics; m != nil {
		m.CommandEvent(e)
	}
}

func (r *Robot) visionResult(m vision.Measurement, err error) {
	if d := r.sinks.Datalog; d != nil {
		d.RecordVision(datalog.NewVisionSample(r.clock(), m, err))
	}
	if mt := r.sinks.Metrics; mt != nil {
		mt.Vision(err)
	}
	if err == nil {
		return
	}
	reason := "error"
	var rej *estimator.RejectError
	if errors.As(err, &rej) {
		reason = string(rej.Reason)
	}
	r.throttled("vision", func() {
		r.logger.Debug("Vision measurement rejected", "reason", reason, "error", err)
		if h := r.sinks.Telemetry; h != nil {
			h.Publish(telemetry.Event{Type: telemetry.EventVisionRejected, Data: map[string]any{
				"reason":     reason,
				"confidence": m.Confidence,
				"captureMs":  m.Timestamp.Milliseconds(),
			}})
		}
	})
}

func (r *Robot) sensorFault(source string, err error) {
	if m := r.sinks.Metrics; m != nil {
		m.SensorFault(source)
	}
	r.throttled("fault:"+source, func() {
		if h := r.sinks.Telemetry; h != nil {
			h.Publish(telemetry.Event{Type: telemetry.EventSensorFault, Data: map[string]any{
				"source": source,
				"error":  err.Error(),
			}})
		}
	})
}

// throttled runs fn at most once a second per key.
func (r *Robot) throttled(key string, fn func()) {
	s, ok := r.faultLogs[key]
	if !ok {
		s = &rate.Sometimes{Interval: time.Second}
		r.faultLogs[key] = s
	}
	s.Do(fn)
}
