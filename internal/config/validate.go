package config

import (
	"errors"
	"fmt"
)

// Validate enforces the configuration rules.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateLoop(config.Loop); err != nil {
		return fmt.Errorf("loop validation failed: %w", err)
	}

	if err := validateDrivetrain(config.Drivetrain); err != nil {
		return fmt.Errorf("drivetrain validation failed: %w", err)
	}

	if config.Module.KV <= 0 {
		return fmt.Errorf("module validation failed: kv must be positive, got %v", config.Module.KV)
	}

	if err := validateEstimator(config.Estimator); err != nil {
		return fmt.Errorf("estimator validation failed: %w", err)
	}

	if config.Vision.URL != "" && (config.Vision.MinBackoff <= 0 || config.Vision.MaxBackoff < config.Vision.MinBackoff) {
		return fmt.Errorf("vision validation failed: backoff %v..%v is not a valid range",
			config.Vision.MinBackoff, config.Vision.MaxBackoff)
	}

	if err := validateAPI(config.API); err != nil {
		return fmt.Errorf("api validation failed: %w", err)
	}

	if config.Audit.Dir != "" && config.Audit.MaxSizeMB <= 0 {
		return fmt.Errorf("audit validation failed: max size must be positive, got %d", config.Audit.MaxSizeMB)
	}

	if config.Datalog.Path != "" && config.Datalog.SamplePeriod <= 0 {
		return fmt.Errorf("datalog validation failed: sample period must be positive, got %v", config.Datalog.SamplePeriod)
	}

	return nil
}

func validateLoop(l LoopConfig) error {
	if l.Period <= 0 {
		return fmt.Errorf("period must be positive, got %v", l.Period)
	}
	if l.OverrunWarn < l.Period {
		return fmt.Errorf("overrun threshold %v must be >= period %v", l.OverrunWarn, l.Period)
	}
	if l.RequestQueue <= 0 {
		return fmt.Errorf("request queue must be positive, got %d", l.RequestQueue)
	}
	return nil
}

func validateDrivetrain(d DrivetrainConfig) error {
	if d.WheelBase <= 0 || d.TrackWidth <= 0 {
		return fmt.Errorf("wheel base and track width must be positive, got %v x %v", d.WheelBase, d.TrackWidth)
	}
	if d.MaxSpeed <= 0 {
		return fmt.Errorf("max speed must be positive, got %v", d.MaxSpeed)
	}
	if d.MaxAngularSpeed <= 0 {
		return fmt.Errorf("max angular speed must be positive, got %v", d.MaxAngularSpeed)
	}
	if d.StrafeDeadband < 0 || d.RotationDeadband < 0 {
		return errors.New("deadbands must be non-negative")
	}
	if d.StickDeadband < 0 || d.StickDeadband >= 1 {
		return fmt.Errorf("stick deadband must be in [0, 1), got %v", d.StickDeadband)
	}
	if len(d.Modules) < 2 {
		return fmt.Errorf("at least two modules are required, got %d", len(d.Modules))
	}
	ids := make(map[string]bool)
	corners := make(map[string]bool)
	for _, m := range d.Modules {
		if m.ID == "" {
			return errors.New("module id cannot be empty")
		}
		if ids[m.ID] {
			return fmt.Errorf("duplicate module id %q", m.ID)
		}
		ids[m.ID] = true
		if _, _, ok := d.Offset(m); !ok {
			return fmt.Errorf("module %s: unknown corner %q", m.ID, m.Corner)
		}
		if corners[m.Corner] {
			return fmt.Errorf("module %s: corner %s already taken", m.ID, m.Corner)
		}
		corners[m.Corner] = true
	}
	return nil
}

func validateEstimator(e EstimatorConfig) error {
	if len(e.StateStdDevs) != 3 || len(e.VisionStdDevs) != 3 {
		return fmt.Errorf("std devs need three entries (x, y, heading), got %d and %d",
			len(e.StateStdDevs), len(e.VisionStdDevs))
	}
	for i := range 3 {
		if e.StateStdDevs[i] <= 0 || e.VisionStdDevs[i] <= 0 {
			return errors.New("std devs must be positive")
		}
	}
	if e.MinConfidence < 0 || e.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0, 1], got %v", e.MinConfidence)
	}
	if e.MaxStaleness <= 0 {
		return fmt.Errorf("max staleness must be positive, got %v", e.MaxStaleness)
	}
	if e.HistoryWindow < e.MaxStaleness {
		return fmt.Errorf("history window %v must be >= max staleness %v", e.HistoryWindow, e.MaxStaleness)
	}
	if e.OutlierDistance < 0 {
		return fmt.Errorf("outlier distance must be non-negative, got %v", e.OutlierDistance)
	}
	return nil
}

func validateAPI(a APIConfig) error {
	if a.Addr == "" {
		return errors.New("address cannot be empty")
	}
	if a.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive, got %v", a.Heartbeat)
	}
	if a.Auth.Enabled && a.Auth.Secret == "" && a.Auth.PublicKeyFile == "" {
		return errors.New("auth is enabled but neither a secret nor a public key file is set")
	}
	return nil
}
