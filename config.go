package cartesianmotion

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Config is the full controller configuration. It is passed by value
// into the constructor at configure time; there is no hidden global
// parameter state, and a refresh simply re-derives a new Config through
// the same loader.
type Config struct {
	// ControllerType selects the constructor in the registry. Defaults
	// to "cartesian".
	ControllerType string `json:"controller_type,omitempty"`

	// Axes names the controlled degrees of freedom, in command order.
	// Either one scalar axis or six Cartesian axes.
	Axes []string `json:"axes"`

	// UpdateRateHz is the control-loop rate (default 100).
	UpdateRateHz float64 `json:"update_rate_hz,omitempty"`

	// ReferenceTimeout is the staleness bound for references. Zero
	// means references never go stale.
	ReferenceTimeout time.Duration `json:"reference_timeout,omitempty"`

	WorldFrame   string `json:"world_frame,omitempty"`
	CommandFrame string `json:"command_frame,omitempty"`

	// LocalFrameMode makes the controller treat incoming references as
	// expressed in the command frame and write final output back in the
	// command frame. Requires a transform lookup dependency.
	LocalFrameMode bool `json:"local_frame_mode,omitempty"`

	// ReducedModeDivisor scales references in reduced mode, once on
	// acceptance and once more at command write (default 2).
	ReducedModeDivisor float64 `json:"reduced_mode_divisor,omitempty"`

	// SentinelEpsilon is the magnitude below which a transformed
	// sentinel component is restored to NaN (default 1e-6).
	SentinelEpsilon float64 `json:"sentinel_epsilon,omitempty"`

	// DefaultSegmentDuration is used when a reference carries no
	// duration hint (default 10ms).
	DefaultSegmentDuration time.Duration `json:"default_segment_duration,omitempty"`

	// Limits holds the configured per-axis limits, keyed by axis name.
	// Axes without an entry run unlimited.
	Limits map[string]AxisLimitsConfig `json:"limits,omitempty"`

	// Optional transports and hardware adapters for the wiring binary.
	MQTT   *MQTTConfig       `json:"mqtt,omitempty"`
	Serial *SerialBusConfig  `json:"serial,omitempty"`
	CAN    *CANCommandConfig `json:"can,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

// AxisLimitsConfig is the on-disk form of AxisLimits. Absent fields
// mean "no limit"; they become the NaN sentinel on conversion.
type AxisLimitsConfig struct {
	MinPosition     *float64 `json:"min_position,omitempty"`
	MaxPosition     *float64 `json:"max_position,omitempty"`
	MaxVelocity     *float64 `json:"max_velocity,omitempty"`
	MaxAcceleration *float64 `json:"max_acceleration,omitempty"`
	MaxJerk         *float64 `json:"max_jerk,omitempty"`
	MaxEffort       *float64 `json:"max_effort,omitempty"`
}

// ToAxisLimits converts the file format to the runtime limits.
func (c AxisLimitsConfig) ToAxisLimits() AxisLimits {
	valueOrNaN := func(p *float64) float64 {
		if p == nil {
			return math.NaN()
		}
		return *p
	}
	return AxisLimits{
		MinPosition:     valueOrNaN(c.MinPosition),
		MaxPosition:     valueOrNaN(c.MaxPosition),
		MaxVelocity:     valueOrNaN(c.MaxVelocity),
		MaxAcceleration: valueOrNaN(c.MaxAcceleration),
		MaxJerk:         valueOrNaN(c.MaxJerk),
		MaxEffort:       valueOrNaN(c.MaxEffort),
	}
}

// Validate ensures all parts of the config are valid and fills
// defaults. A validation failure is configuration-fatal: the controller
// must not run partially configured.
func (cfg *Config) Validate(path string) error {
	if len(cfg.Axes) != 1 && len(cfg.Axes) != 6 {
		return errors.Errorf("expected 1 or 6 axes, got %d", len(cfg.Axes))
	}
	seen := map[string]bool{}
	for _, axis := range cfg.Axes {
		if axis == "" {
			return errors.New("axis names must not be empty")
		}
		if seen[axis] {
			return errors.Errorf("duplicate axis name %q", axis)
		}
		seen[axis] = true
	}
	for axis := range cfg.Limits {
		if !seen[axis] {
			return errors.Errorf("limits configured for unknown axis %q", axis)
		}
	}
	if cfg.ReferenceTimeout < 0 {
		return errors.New("reference_timeout must not be negative")
	}

	if cfg.ControllerType == "" {
		cfg.ControllerType = DefaultControllerType
	}
	if cfg.UpdateRateHz == 0 {
		cfg.UpdateRateHz = 100
	}
	if cfg.UpdateRateHz < 0 {
		return errors.New("update_rate_hz must be positive")
	}
	if cfg.WorldFrame == "" {
		cfg.WorldFrame = "world"
	}
	if cfg.CommandFrame == "" {
		cfg.CommandFrame = "base"
	}
	if cfg.ReducedModeDivisor == 0 {
		cfg.ReducedModeDivisor = 2
	}
	if cfg.ReducedModeDivisor < 1 {
		return errors.Errorf("reduced_mode_divisor must be >= 1, got %v", cfg.ReducedModeDivisor)
	}
	if cfg.SentinelEpsilon == 0 {
		cfg.SentinelEpsilon = 1e-6
	}
	if cfg.DefaultSegmentDuration == 0 {
		cfg.DefaultSegmentDuration = 10 * time.Millisecond
	}
	return nil
}

// DOF returns the configured axis count.
func (cfg *Config) DOF() int { return len(cfg.Axes) }

func (cfg *Config) period() time.Duration {
	return time.Duration(float64(time.Second) / cfg.UpdateRateHz)
}

// limitSet builds the configured limits in axis order.
func (cfg *Config) limitSet() *LimitSet {
	set := &LimitSet{
		Axes:   make([]string, len(cfg.Axes)),
		Limits: make([]AxisLimits, len(cfg.Axes)),
	}
	copy(set.Axes, cfg.Axes)
	for i, axis := range cfg.Axes {
		if lc, ok := cfg.Limits[axis]; ok {
			set.Limits[i] = lc.ToAxisLimits()
		} else {
			set.Limits[i] = NoLimits()
		}
	}
	return set
}

// LoadConfig reads, parses and validates a configuration file.
func LoadConfig(path string, logger logging.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config JSON")
	}
	if err := cfg.Validate(path); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	cfg.Logger = logger
	if logger != nil {
		logger.Infof("loaded configuration for %d axes from %s", len(cfg.Axes), path)
	}
	return &cfg, nil
}
