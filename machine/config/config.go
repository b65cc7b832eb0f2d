// Package config loads the machine description: geometry, rails, homing
// and motion parameters, and the host settings.
package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gokin/machine/controller"
	"gokin/machine/homing"
	"gokin/machine/kinematics"
)

// Config is the complete machine configuration
type Config struct {
	Kinematics string                `koanf:"kinematics"`
	L0         float64               `koanf:"l0"`
	L1         float64               `koanf:"l1"`
	L2         float64               `koanf:"l2"`
	Home       *HomeConfig           `koanf:"home"`
	Homing     HomingConfig          `koanf:"homing"`
	Motion     MotionConfig          `koanf:"motion"`
	Rails      map[string]RailConfig `koanf:"rails"`
	Host       HostConfig            `koanf:"host"`
}

// HomeConfig is the fixed coordinate committed after homing an arm
type HomeConfig struct {
	X float64 `koanf:"x"`
	Y float64 `koanf:"y"`
	Z float64 `koanf:"z"`
}

// HomingConfig holds the endstop search parameters
type HomingConfig struct {
	Protocol   string        `koanf:"protocol"`
	ProbeStep  float64       `koanf:"probe_step"`
	ProbeSpeed float64       `koanf:"probe_speed"`
	ProbeAccel float64       `koanf:"probe_accel"`
	MaxProbes  int           `koanf:"max_probes"`
	Timeout    time.Duration `koanf:"timeout"`
	Overtravel float64       `koanf:"overtravel"`
}

// MotionConfig holds the motion engine limits
type MotionConfig struct {
	MaxVelocity float64 `koanf:"max_velocity"`
	MaxAccel    float64 `koanf:"max_accel"`
	QueueDepth  int     `koanf:"queue_depth"`
	TimeScale   float64 `koanf:"time_scale"` // Wall-clock pacing of the simulator (0 = none)
}

// RailConfig describes one rail section
type RailConfig struct {
	PositionMin       float64          `koanf:"position_min"`
	PositionMax       float64          `koanf:"position_max"`
	PositionEndstop   float64          `koanf:"position_endstop"`
	HomingSpeed       float64          `koanf:"homing_speed"`
	HomingPositiveDir bool             `koanf:"homing_positive_dir"`
	Auxiliary         bool             `koanf:"auxiliary"`
	Actuators         []ActuatorConfig `koanf:"actuators"`
	Endstop           EndstopConfig    `koanf:"endstop"`
}

// ActuatorConfig describes one stepper on a rail
type ActuatorConfig struct {
	Name         string  `koanf:"name"`
	StepsPerUnit float64 `koanf:"steps_per_unit"`
}

// EndstopConfig describes the rail's limit switch
type EndstopConfig struct {
	Name       string   `koanf:"name"`
	SimTrigger *float64 `koanf:"sim_trigger"` // Simulated switch position (default position_endstop)
}

// HostConfig holds the host process settings
type HostConfig struct {
	Listen   string `koanf:"listen"`
	Device   string `koanf:"device"`
	Baud     int    `koanf:"baud"`
	LogLevel string `koanf:"log_level"`
}

// Error reports an invalid configuration value
type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Msg)
}

// Unwrap lets callers match configuration errors with errors.Is
func (e *Error) Unwrap() error {
	return controller.ErrConfig
}

func errorf(key, format string, args ...any) *Error {
	return &Error{Key: key, Msg: fmt.Sprintf(format, args...)}
}

// RequiredRails returns the rail sections a geometry needs, in slot order
func RequiredRails(kind kinematics.Kind) []string {
	switch kind {
	case kinematics.KindMultiLinkArm:
		return []string{"stepper_b", "stepper_s", "stepper_a"}
	case kinematics.KindTwoLinkArm:
		return []string{"stepper_s", "stepper_a"}
	}
	return []string{"stepper_x", "stepper_y", "stepper_z"}
}

// applyDefaults fills in missing values
func applyDefaults(cfg *Config) {
	if cfg.Kinematics == "" {
		cfg.Kinematics = "linear"
	}
	for name, rc := range cfg.Rails {
		if rc.HomingSpeed == 0 {
			rc.HomingSpeed = 5.0
		}
		if len(rc.Actuators) == 0 {
			rc.Actuators = []ActuatorConfig{{Name: name}}
		}
		for i := range rc.Actuators {
			if rc.Actuators[i].Name == "" {
				rc.Actuators[i].Name = fmt.Sprintf("%s_%d", name, i)
			}
			if rc.Actuators[i].StepsPerUnit == 0 {
				rc.Actuators[i].StepsPerUnit = 80.0
			}
		}
		if rc.Endstop.Name == "" {
			rc.Endstop.Name = name + "_endstop"
		}
		cfg.Rails[name] = rc
	}
}

// Kind returns the parsed geometry tag
func (c *Config) Kind() (kinematics.Kind, error) {
	kind, err := kinematics.ParseKind(strings.ToLower(c.Kinematics))
	if err != nil {
		return 0, errorf("kinematics", "%v", err)
	}
	return kind, nil
}

// Validate checks the configuration for the selected geometry
func (c *Config) Validate() error {
	kind, err := c.Kind()
	if err != nil {
		return err
	}

	switch kind {
	case kinematics.KindMultiLinkArm:
		for key, v := range map[string]float64{"l0": c.L0, "l1": c.L1, "l2": c.L2} {
			if v <= 0 || math.IsNaN(v) {
				return errorf(key, "link length must be positive, got %g", v)
			}
		}
	case kinematics.KindTwoLinkArm:
		for key, v := range map[string]float64{"l1": c.L1, "l2": c.L2} {
			if v <= 0 || math.IsNaN(v) {
				return errorf(key, "link length must be positive, got %g", v)
			}
		}
	}
	if kind == kinematics.KindLinear && c.Home != nil {
		return errorf("home", "a fixed home position only applies to arm kinematics")
	}

	required := RequiredRails(kind)
	for _, name := range required {
		if _, ok := c.Rails[name]; !ok {
			return errorf("rails."+name, "missing section for %s kinematics", kind)
		}
	}
	for _, name := range c.railNames() {
		if !contains(required, name) {
			return errorf("rails."+name, "not used by %s kinematics (want %s)", kind, strings.Join(required, ", "))
		}
		if err := c.Rails[name].validate("rails." + name); err != nil {
			return err
		}
	}

	if _, err := c.HomingParams(); err != nil {
		return err
	}
	if c.Motion.MaxVelocity < 0 || c.Motion.MaxAccel < 0 || c.Motion.TimeScale < 0 {
		return errorf("motion", "limits must not be negative")
	}
	return nil
}

func (rc RailConfig) validate(key string) error {
	if rc.PositionMin > rc.PositionMax {
		return errorf(key+".position_min", "%g above position_max %g", rc.PositionMin, rc.PositionMax)
	}
	if rc.HomingSpeed <= 0 {
		return errorf(key+".homing_speed", "must be positive, got %g", rc.HomingSpeed)
	}
	if len(rc.Actuators) == 0 {
		return errorf(key+".actuators", "at least one actuator required")
	}
	for i, a := range rc.Actuators {
		if a.StepsPerUnit <= 0 {
			return errorf(fmt.Sprintf("%s.actuators.%d.steps_per_unit", key, i), "must be positive, got %g", a.StepsPerUnit)
		}
	}
	return nil
}

// HomingParams converts the homing section
func (c *Config) HomingParams() (homing.Config, error) {
	h := c.Homing
	proto, err := homing.ParseProtocol(h.Protocol)
	if err != nil {
		return homing.Config{}, errorf("homing.protocol", "%v", err)
	}
	if h.Overtravel < 1 {
		return homing.Config{}, errorf("homing.overtravel", "must be at least 1, got %g", h.Overtravel)
	}
	if h.Timeout < 0 {
		return homing.Config{}, errorf("homing.timeout", "must not be negative")
	}
	if proto == homing.ProtocolManual {
		if h.ProbeStep <= 0 {
			return homing.Config{}, errorf("homing.probe_step", "must be positive, got %g", h.ProbeStep)
		}
		if h.MaxProbes <= 0 {
			return homing.Config{}, errorf("homing.max_probes", "must be positive, got %d", h.MaxProbes)
		}
	}
	return homing.Config{
		Protocol:   proto,
		ProbeStep:  h.ProbeStep,
		ProbeSpeed: h.ProbeSpeed,
		ProbeAccel: h.ProbeAccel,
		MaxProbes:  h.MaxProbes,
		Timeout:    h.Timeout,
		Overtravel: h.Overtravel,
	}, nil
}

func (c *Config) railNames() []string {
	names := make([]string, 0, len(c.Rails))
	for name := range c.Rails {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ error = (*Error)(nil)
