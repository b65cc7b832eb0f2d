package config

import (
	"fmt"
	"log/slog"
	"math"

	"gokin/machine"
	"gokin/machine/controller"
	"gokin/machine/kinematics"
	"gokin/machine/rail"
	"gokin/machine/sim"
)

// modeFor returns the operating mode of the rail in slot
func (c *Config) modeFor(kind kinematics.Kind, slot int) kinematics.Mode {
	switch kind {
	case kinematics.KindMultiLinkArm:
		return kinematics.MultiLinkArm(slot, c.L0, c.L1, c.L2)
	case kinematics.KindTwoLinkArm:
		return kinematics.TwoLinkArm(slot, c.L1, c.L2)
	}
	return kinematics.Linear(slot)
}

// ControllerConfig converts the configuration to controller parameters
func (c *Config) ControllerConfig() (controller.Config, error) {
	if err := c.Validate(); err != nil {
		return controller.Config{}, err
	}
	kind, _ := c.Kind()
	hcfg, _ := c.HomingParams()

	out := controller.Config{Homing: hcfg}
	for slot, name := range RequiredRails(kind) {
		rc := c.Rails[name]
		dir := rail.Negative
		if rc.HomingPositiveDir {
			dir = rail.Positive
		}
		railCfg := rail.Config{
			Name:        name,
			Mode:        c.modeFor(kind, slot),
			PositionMin: rc.PositionMin,
			PositionMax: rc.PositionMax,
			Homing: rail.HomingInfo{
				Speed:           rc.HomingSpeed,
				PositionEndstop: rc.PositionEndstop,
				Direction:       dir,
			},
			Auxiliary: rc.Auxiliary,
		}
		for _, a := range rc.Actuators {
			railCfg.Actuators = append(railCfg.Actuators, rail.ActuatorConfig{Name: a.Name, StepsPerUnit: a.StepsPerUnit})
		}
		out.Rails = append(out.Rails, railCfg)
	}
	if c.Home != nil {
		out.Home = &machine.Position{c.Home.X, c.Home.Y, c.Home.Z, 0}
	}
	return out, nil
}

// SimParams returns the simulator limits
func (c *Config) SimParams() sim.Config {
	return sim.Config{
		MaxVelocity: c.Motion.MaxVelocity,
		MaxAccel:    c.Motion.MaxAccel,
		QueueDepth:  c.Motion.QueueDepth,
		TimeScale:   c.Motion.TimeScale,
	}
}

// SimEndstops places a simulated switch on the first actuator of every
// positional rail
func (c *Config) SimEndstops(th *sim.Toolhead) controller.EndstopLookup {
	return func(name string) ([]rail.EndstopBinding, error) {
		rc, ok := c.Rails[name]
		if !ok {
			return nil, fmt.Errorf("no rail section %s", name)
		}
		if rc.Auxiliary {
			return nil, nil
		}
		trigger := rc.PositionEndstop
		if rc.Endstop.SimTrigger != nil {
			trigger = *rc.Endstop.SimTrigger
		}
		es := th.NewEndstop(rc.Endstop.Name, rc.Actuators[0].Name, trigger, rc.HomingPositiveDir)
		return []rail.EndstopBinding{{Endstop: es}}, nil
	}
}

// BuildSim creates a simulated engine and the controller driving it
func (c *Config) BuildSim(logger *slog.Logger) (*controller.Controller, *sim.Toolhead, error) {
	ccfg, err := c.ControllerConfig()
	if err != nil {
		return nil, nil, err
	}
	th := sim.NewToolhead(c.SimParams(), logger)
	ctl, err := controller.New(ccfg, controller.Deps{
		Engine:   th,
		Manual:   th,
		Endstops: c.SimEndstops(th),
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return ctl, th, nil
}

// Default returns the built-in machine for a geometry
func Default(kind kinematics.Kind) *Config {
	switch kind {
	case kinematics.KindMultiLinkArm:
		return DefaultMultiLink()
	case kinematics.KindTwoLinkArm:
		return DefaultTwoLink()
	}
	return DefaultLinear()
}

func baseConfig(kind string) *Config {
	return &Config{
		Kinematics: kind,
		Homing: HomingConfig{
			Protocol:   "bulk",
			ProbeStep:  0.1,
			ProbeSpeed: 200,
			ProbeAccel: 200,
			MaxProbes:  2000,
			Timeout:    defaultTimeout,
			Overtravel: 1.5,
		},
		Motion: MotionConfig{
			MaxVelocity: 300,
			MaxAccel:    3000,
			QueueDepth:  32,
		},
		Host: HostConfig{
			Listen:   defaultListen,
			Baud:     defaultBaud,
			LogLevel: "info",
		},
	}
}

// DefaultLinear returns a 220x220x250 Cartesian machine
func DefaultLinear() *Config {
	cfg := baseConfig("linear")
	cfg.Rails = map[string]RailConfig{
		"stepper_x": linearRail("stepper_x", 220, 80, 50),
		"stepper_y": linearRail("stepper_y", 220, 80, 50),
		"stepper_z": linearRail("stepper_z", 250, 400, 5),
	}
	return cfg
}

func linearRail(name string, max, stepsPerUnit, speed float64) RailConfig {
	return RailConfig{
		PositionMin: 0,
		PositionMax: max,
		HomingSpeed: speed,
		Actuators:   []ActuatorConfig{{Name: name, StepsPerUnit: stepsPerUnit}},
		Endstop:     EndstopConfig{Name: name + "_endstop"},
	}
}

// armRails returns the shoulder and arm sections shared by both arm
// geometries. Angles are in radians.
func armRails() (shoulder, arm RailConfig) {
	shoulder = RailConfig{
		PositionMin:       -1.6,
		PositionMax:       1.6,
		PositionEndstop:   0,
		HomingSpeed:       0.5,
		HomingPositiveDir: true,
		Actuators:         []ActuatorConfig{{Name: "stepper_s", StepsPerUnit: 3200}},
		Endstop:           EndstopConfig{Name: "stepper_s_endstop"},
	}
	arm = RailConfig{
		PositionMin:     0,
		PositionMax:     3.1,
		PositionEndstop: math.Pi / 2,
		HomingSpeed:     0.5,
		Actuators:       []ActuatorConfig{{Name: "stepper_a", StepsPerUnit: 3200}},
		Endstop:         EndstopConfig{Name: "stepper_a_endstop"},
	}
	return shoulder, arm
}

// DefaultMultiLink returns an arm on a rotating bed, working in XZ
func DefaultMultiLink() *Config {
	cfg := baseConfig("multilink")
	cfg.L0, cfg.L1, cfg.L2 = 40, 150, 150
	cfg.Home = &HomeConfig{X: 190, Y: 0, Z: 150}
	shoulder, arm := armRails()
	cfg.Rails = map[string]RailConfig{
		"stepper_b": {
			PositionMin: -3.2,
			PositionMax: 3.2,
			HomingSpeed: 0.5,
			Auxiliary:   true,
			Actuators:   []ActuatorConfig{{Name: "stepper_b", StepsPerUnit: 3200}},
			Endstop:     EndstopConfig{Name: "stepper_b_endstop"},
		},
		"stepper_s": shoulder,
		"stepper_a": arm,
	}
	return cfg
}

// DefaultTwoLink returns a planar two-bar arm working in XY
func DefaultTwoLink() *Config {
	cfg := baseConfig("twolink")
	cfg.L1, cfg.L2 = 100, 100
	cfg.Home = &HomeConfig{X: 100, Y: 100, Z: 0}
	shoulder, arm := armRails()
	cfg.Rails = map[string]RailConfig{
		"stepper_s": shoulder,
		"stepper_a": arm,
	}
	return cfg
}
