package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, so drivetrain.max_speed is
// set by ROBOTD_DRIVETRAIN_MAX_SPEED.
const EnvPrefix = "ROBOTD"

// Load merges Baseline() + the optional file at path + ROBOTD_* environment
// overrides and validates the result. An empty path skips the file; a
// missing file is an error.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Baseline())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key so that environment overrides apply to
// keys the file does not mention.
func setDefaults(v *viper.Viper, b *Config) {
	v.SetDefault("loop.period", b.Loop.Period)
	v.SetDefault("loop.overrun_warn", b.Loop.OverrunWarn)
	v.SetDefault("loop.request_queue", b.Loop.RequestQueue)

	v.SetDefault("drivetrain.wheel_base", b.Drivetrain.WheelBase)
	v.SetDefault("drivetrain.track_width", b.Drivetrain.TrackWidth)
	v.SetDefault("drivetrain.max_speed", b.Drivetrain.MaxSpeed)
	v.SetDefault("drivetrain.max_angular_speed", b.Drivetrain.MaxAngularSpeed)
	v.SetDefault("drivetrain.strafe_deadband", b.Drivetrain.StrafeDeadband)
	v.SetDefault("drivetrain.rotation_deadband", b.Drivetrain.RotationDeadband)
	v.SetDefault("drivetrain.stick_deadband", b.Drivetrain.StickDeadband)
	v.SetDefault("drivetrain.gyro_inverted", b.Drivetrain.GyroInverted)
	v.SetDefault("drivetrain.device_family", b.Drivetrain.DeviceFamily)
	modules := make([]map[string]any, len(b.Drivetrain.Modules))
	for i, m := range b.Drivetrain.Modules {
		modules[i] = map[string]any{"id": m.ID, "corner": m.Corner, "absolute_offset": m.AbsoluteOffset}
	}
	v.SetDefault("drivetrain.modules", modules)

	v.SetDefault("module.drive_kp", b.Module.DriveKP)
	v.SetDefault("module.ks", b.Module.KS)
	v.SetDefault("module.kv", b.Module.KV)
	v.SetDefault("module.ka", b.Module.KA)
	v.SetDefault("module.optimize", b.Module.Optimize)

	v.SetDefault("estimator.state_std_devs", b.Estimator.StateStdDevs)
	v.SetDefault("estimator.vision_std_devs", b.Estimator.VisionStdDevs)
	v.SetDefault("estimator.min_confidence", b.Estimator.MinConfidence)
	v.SetDefault("estimator.max_staleness", b.Estimator.MaxStaleness)
	v.SetDefault("estimator.outlier_distance", b.Estimator.OutlierDistance)
	v.SetDefault("estimator.history_window", b.Estimator.HistoryWindow)

	v.SetDefault("vision.url", b.Vision.URL)
	v.SetDefault("vision.min_backoff", b.Vision.MinBackoff)
	v.SetDefault("vision.max_backoff", b.Vision.MaxBackoff)

	v.SetDefault("api.addr", b.API.Addr)
	v.SetDefault("api.read_timeout", b.API.ReadTimeout)
	v.SetDefault("api.write_timeout", b.API.WriteTimeout)
	v.SetDefault("api.idle_timeout", b.API.IdleTimeout)
	v.SetDefault("api.heartbeat", b.API.Heartbeat)
	v.SetDefault("api.auth.enabled", b.API.Auth.Enabled)
	v.SetDefault("api.auth.secret", b.API.Auth.Secret)
	v.SetDefault("api.auth.public_key_file", b.API.Auth.PublicKeyFile)

	v.SetDefault("audit.dir", b.Audit.Dir)
	v.SetDefault("audit.max_size_mb", b.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", b.Audit.MaxBackups)
	v.SetDefault("audit.max_age_days", b.Audit.MaxAgeDays)

	v.SetDefault("datalog.path", b.Datalog.Path)
	v.SetDefault("datalog.sample_period", b.Datalog.SamplePeriod)

	v.SetDefault("autos.catalogue", b.Autos.Catalogue)
	v.SetDefault("autos.default", b.Autos.Default)
}

// Keys lists every configuration key in dotted form.
func Keys() []string {
	return newViper().AllKeys()
}

// IsNotExist reports whether err came from a missing configuration file.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
