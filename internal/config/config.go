package config

import (
	"math"
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	Loop       LoopConfig       `mapstructure:"loop" json:"loop"`
	Drivetrain DrivetrainConfig `mapstructure:"drivetrain" json:"drivetrain"`
	Module     ModuleConfig     `mapstructure:"module" json:"module"`
	Estimator  EstimatorConfig  `mapstructure:"estimator" json:"estimator"`
	Vision     VisionConfig     `mapstructure:"vision" json:"vision"`
	API        APIConfig        `mapstructure:"api" json:"api"`
	Audit      AuditConfig      `mapstructure:"audit" json:"audit"`
	Datalog    DatalogConfig    `mapstructure:"datalog" json:"datalog"`
	Autos      AutosConfig      `mapstructure:"autos" json:"autos"`
}

// LoopConfig sets the fixed control period.
type LoopConfig struct {
	Period time.Duration `mapstructure:"period" json:"period"`
	// OverrunWarn is the tick duration above which a tick counts as an
	// overrun.
	OverrunWarn time.Duration `mapstructure:"overrun_warn" json:"overrunWarn"`
	// RequestQueue is the capacity of the cross-thread request queue.
	RequestQueue int `mapstructure:"request_queue" json:"requestQueue"`
}

// DrivetrainConfig describes the chassis.
type DrivetrainConfig struct {
	WheelBase       float64 `mapstructure:"wheel_base" json:"wheelBase"`
	TrackWidth      float64 `mapstructure:"track_width" json:"trackWidth"`
	MaxSpeed        float64 `mapstructure:"max_speed" json:"maxSpeed"`
	MaxAngularSpeed float64 `mapstructure:"max_angular_speed" json:"maxAngularSpeed"`

	StrafeDeadband   float64 `mapstructure:"strafe_deadband" json:"strafeDeadband"`
	RotationDeadband float64 `mapstructure:"rotation_deadband" json:"rotationDeadband"`
	// StickDeadband is applied to operator sticks before scaling.
	StickDeadband float64 `mapstructure:"stick_deadband" json:"stickDeadband"`

	GyroInverted bool `mapstructure:"gyro_inverted" json:"gyroInverted"`
	// DeviceFamily selects the error token table used for the module and
	// gyro controllers ("can" or "generic").
	DeviceFamily string           `mapstructure:"device_family" json:"deviceFamily"`
	Modules      []ModuleLocation `mapstructure:"modules" json:"modules"`
}

// ModuleLocation places one swerve module on the chassis.
type ModuleLocation struct {
	ID string `mapstructure:"id" json:"id"`
	// Corner is one of fl, fr, rl, rr. It sets the module offset from the
	// wheel base and track width.
	Corner string `mapstructure:"corner" json:"corner"`
	// AbsoluteOffset is the absolute encoder reading, in degrees, with the
	// wheel pointing forward.
	AbsoluteOffset float64 `mapstructure:"absolute_offset" json:"absoluteOffset"`
}

// ModuleConfig holds gains shared by every module.
type ModuleConfig struct {
	DriveKP float64 `mapstructure:"drive_kp" json:"driveKp"`
	KS      float64 `mapstructure:"ks" json:"ks"`
	KV      float64 `mapstructure:"kv" json:"kv"`
	KA      float64 `mapstructure:"ka" json:"ka"`
	// Optimize lets modules flip the wheel instead of turning past 90°.
	Optimize bool `mapstructure:"optimize" json:"optimize"`
}

type EstimatorConfig struct {
	StateStdDevs    []float64     `mapstructure:"state_std_devs" json:"stateStdDevs"`
	VisionStdDevs   []float64     `mapstructure:"vision_std_devs" json:"visionStdDevs"`
	MinConfidence   float64       `mapstructure:"min_confidence" json:"minConfidence"`
	MaxStaleness    time.Duration `mapstructure:"max_staleness" json:"maxStaleness"`
	OutlierDistance float64       `mapstructure:"outlier_distance" json:"outlierDistance"`
	HistoryWindow   time.Duration `mapstructure:"history_window" json:"historyWindow"`
}

type VisionConfig struct {
	// URL of the coprocessor websocket. Empty disables vision.
	URL        string        `mapstructure:"url" json:"url"`
	MinBackoff time.Duration `mapstructure:"min_backoff" json:"minBackoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" json:"maxBackoff"`
}

type APIConfig struct {
	Addr         string        `mapstructure:"addr" json:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" json:"idleTimeout"`
	// Heartbeat is the telemetry keep-alive interval.
	Heartbeat time.Duration `mapstructure:"heartbeat" json:"heartbeat"`
	Auth      AuthConfig    `mapstructure:"auth" json:"auth"`
}

type AuthConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Secret enables HS256 tokens; PublicKeyFile enables RS256.
	Secret        string `mapstructure:"secret" json:"-"`
	PublicKeyFile string `mapstructure:"public_key_file" json:"publicKeyFile"`
}

type AuditConfig struct {
	// Dir is where audit.jsonl is written. Empty disables the audit log.
	Dir        string `mapstructure:"dir" json:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"maxSizeMb"`
	MaxBackups int    `mapstructure:"max_backups" json:"maxBackups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"maxAgeDays"`
}

type DatalogConfig struct {
	// Path of the SQLite file. Empty disables the recorder.
	Path         string        `mapstructure:"path" json:"path"`
	SamplePeriod time.Duration `mapstructure:"sample_period" json:"samplePeriod"`
}

type AutosConfig struct {
	// Catalogue is a routine file. Empty uses the built-in routines.
	Catalogue string `mapstructure:"catalogue" json:"catalogue"`
	Default   string `mapstructure:"default" json:"default"`
}

// Baseline returns the tuned defaults for the competition robot.
func Baseline() *Config {
	return &Config{
		Loop: LoopConfig{
			Period:       20 * time.Millisecond,
			OverrunWarn:  20 * time.Millisecond,
			RequestQueue: 64,
		},
		Drivetrain: DrivetrainConfig{
			WheelBase:        0.58,
			TrackWidth:       0.66,
			MaxSpeed:         4.5,
			MaxAngularSpeed:  2 * math.Pi,
			StrafeDeadband:   0.02,
			RotationDeadband: 0.1,
			StickDeadband:    0.08,
			DeviceFamily:     "can",
			Modules: []ModuleLocation{
				{ID: "fl", Corner: "fl"},
				{ID: "fr", Corner: "fr"},
				{ID: "rl", Corner: "rl"},
				{ID: "rr", Corner: "rr"},
			},
		},
		Module: ModuleConfig{
			DriveKP:  0.1,
			KS:       0.02,
			KV:       1 / 4.5,
			KA:       0.01,
			Optimize: true,
		},
		Estimator: EstimatorConfig{
			StateStdDevs:    []float64{0.1, 0.1, 0.1},
			VisionStdDevs:   []float64{0.9, 0.9, 0.9},
			MinConfidence:   0.5,
			MaxStaleness:    500 * time.Millisecond,
			OutlierDistance: 1.0,
			HistoryWindow:   1500 * time.Millisecond,
		},
		Vision: VisionConfig{
			MinBackoff: 250 * time.Millisecond,
			MaxBackoff: 5 * time.Second,
		},
		API: APIConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			Heartbeat:    15 * time.Second,
		},
		Audit: AuditConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Datalog: DatalogConfig{
			SamplePeriod: 100 * time.Millisecond,
		},
	}
}

// Offset returns the module's position on the chassis, x forward and y left.
func (d DrivetrainConfig) Offset(m ModuleLocation) (x, y float64, ok bool) {
	hx, hy := d.WheelBase/2, d.TrackWidth/2
	switch m.Corner {
	case "fl":
		return hx, hy, true
	case "fr":
		return hx, -hy, true
	case "rl":
		return -hx, hy, true
	case "rr":
		return -hx, -hy, true
	}
	return 0, 0, false
}
