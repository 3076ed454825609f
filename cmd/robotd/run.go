package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/robot-control/robotd/internal/api"
	"github.com/robot-control/robotd/internal/audit"
	"github.com/robot-control/robotd/internal/auth"
	"github.com/robot-control/robotd/internal/config"
	"github.com/robot-control/robotd/internal/datalog"
	"github.com/robot-control/robotd/internal/metrics"
	"github.com/robot-control/robotd/internal/robot"
	"github.com/robot-control/robotd/internal/telemetry"
	"github.com/robot-control/robotd/internal/vision"
)

// ErrNoHardware is returned by run without --sim: the simulator is the only
// device backend built in.
var ErrNoHardware = errors.New("no hardware backend available, run with --sim")

const shutdownTimeout = 10 * time.Second

func newRunCmd(flags *globalFlags) *cobra.Command {
	var simulate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop and operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), flags.logFormat, flags.logLevel)
			if err != nil {
				return err
			}
			if !simulate {
				return ErrNoHardware
			}
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, *cfg, flags.configPath, prometheus.DefaultRegisterer, logger)
		},
	}
	cmd.Flags().BoolVar(&simulate, "sim", false, "drive simulated modules, gyro and mechanisms")
	return cmd
}

// run wires the robot, its sinks and the API, and blocks until ctx is done
// or a component fails.
func run(ctx context.Context, cfg config.Config, configPath string, reg prometheus.Registerer, logger *slog.Logger) error {
	logger.Info("Starting robotd", "version", Version, "config", configPath)

	m := metrics.New(reg)

	hub := telemetry.NewHub(telemetry.Config{BufferSize: telemetry.DefaultConfig().BufferSize, Heartbeat: cfg.API.Heartbeat})
	defer hub.Stop()

	auditLogger, err := audit.NewLogger(audit.Config{
		Dir:        cfg.Audit.Dir,
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			logger.Warn("Error closing audit logger", "error", err)
		}
	}()

	var recorder *datalog.Recorder
	if cfg.Datalog.Path != "" {
		recorder, err = datalog.Open(cfg.Datalog.Path, cfg.Datalog.SamplePeriod, logger)
		if err != nil {
			return fmt.Errorf("failed to open match log: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("Error closing match log", "error", err)
			}
		}()
		logger.Info("Match log opened", "path", cfg.Datalog.Path, "match", recorder.MatchID())
	}

	kin, err := robot.NewKinematics(cfg.Drivetrain)
	if err != nil {
		return err
	}
	hw, world, err := robot.SimHardware(cfg.Drivetrain, kin)
	if err != nil {
		return err
	}

	mailbox := &vision.Mailbox{}
	r, err := robot.New(ctx, robot.Options{
		Config:   cfg,
		Hardware: hw,
		World:    world,
		Mailbox:  mailbox,
		Sinks: robot.Sinks{
			Telemetry: hub,
			Audit:     auditLogger,
			Datalog:   recorder,
			Metrics:   m,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build robot: %w", err)
	}
	hub.Snapshot = func() any { return r.Snapshot() }

	verifier, err := auth.FromConfig(cfg.API.Auth)
	if err != nil {
		return fmt.Errorf("failed to configure API auth: %w", err)
	}
	server := api.NewServer(api.Options{
		Robot:     r,
		Telemetry: hub,
		Auth:      auth.NewMiddleware(verifier, logger),
		Metrics:   promhttp.Handler(),
		Config:    cfg.API,
		Version:   Version,
		Logger:    logger,
	})

	// The recorder outlives the control loop so the events emitted while the
	// robot shuts down are flushed too.
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopRecorder()
		return r.Run(gctx)
	})
	if recorder != nil {
		g.Go(func() error { return recorder.Run(recCtx) })
	}

	if cfg.Vision.URL != "" {
		client := &vision.Client{
			URL:        cfg.Vision.URL,
			Mailbox:    mailbox,
			Clock:      r.Clock,
			MinBackoff: cfg.Vision.MinBackoff,
			MaxBackoff: cfg.Vision.MaxBackoff,
			Logger:     logger,
		}
		g.Go(func() error { return client.Run(gctx) })
	} else {
		camera := &vision.Simulated{
			Truth:      world.Pose,
			Clock:      r.Clock,
			Mailbox:    mailbox,
			Latency:    30 * time.Millisecond,
			Confidence: 0.9,
		}
		g.Go(func() error { return camera.Run(gctx) })
	}

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, logger, func(next *config.Config) {
				restart, err := r.Reload(gctx, *next)
				if err != nil {
					logger.Error("Configuration reload failed", "error", err)
					return
				}
				if len(restart) > 0 {
					logger.Warn("Configuration sections changed that need a restart", "sections", restart)
				}
			})
		})
	}

	logger.Info("Server started", "addr", cfg.API.Addr, "auth", verifier != nil)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("Shutdown complete", "error", err)
	return err
}
