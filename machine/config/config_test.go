package config

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"gokin/internal/testutil"
	"gokin/machine"
	"gokin/machine/controller"
	"gokin/machine/homing"
	"gokin/machine/kinematics"
	"gokin/machine/rail"
)

const multiLinkYAML = `
kinematics: multilink
l0: 40
l1: 150
l2: 120
home: {x: 190, y: 0, z: 100}
homing:
  protocol: manual
  probe_step: 0.05
  timeout: 5s
rails:
  stepper_b:
    position_min: -3.2
    position_max: 3.2
    auxiliary: true
  stepper_s:
    position_min: -1.6
    position_max: 1.6
    homing_speed: 0.5
    homing_positive_dir: true
    actuators:
      - {name: shoulder, steps_per_unit: 3200}
  stepper_a:
    position_min: 0
    position_max: 3.1
    position_endstop: 1.5707963267948966
    homing_speed: 0.5
    endstop: {name: elbow_switch, sim_trigger: 1.5}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gokin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, multiLinkYAML), nil)
	require.NoError(t, err)

	kind, err := cfg.Kind()
	require.NoError(t, err)
	require.Equal(t, kinematics.KindMultiLinkArm, kind)
	require.Equal(t, 120.0, cfg.L2)
	require.Equal(t, &HomeConfig{X: 190, Y: 0, Z: 100}, cfg.Home)

	// File values override defaults; untouched keys keep them
	require.Equal(t, "manual", cfg.Homing.Protocol)
	require.Equal(t, 0.05, cfg.Homing.ProbeStep)
	require.Equal(t, 5*time.Second, cfg.Homing.Timeout)
	require.Equal(t, 2000, cfg.Homing.MaxProbes)
	require.Equal(t, 1.5, cfg.Homing.Overtravel)
	require.Equal(t, ":7125", cfg.Host.Listen)

	s := cfg.Rails["stepper_s"]
	require.Equal(t, []ActuatorConfig{{Name: "shoulder", StepsPerUnit: 3200}}, s.Actuators)
	require.Equal(t, "stepper_s_endstop", s.Endstop.Name)

	b := cfg.Rails["stepper_b"]
	require.Equal(t, []ActuatorConfig{{Name: "stepper_b", StepsPerUnit: 80}}, b.Actuators)
	require.Equal(t, 5.0, b.HomingSpeed)

	a := cfg.Rails["stepper_a"]
	require.Equal(t, "elbow_switch", a.Endstop.Name)
	require.NotNil(t, a.Endstop.SimTrigger)
	require.Equal(t, 1.5, *a.Endstop.SimTrigger)
}

func TestLoadEnvAndFlags(t *testing.T) {
	path := writeConfig(t, multiLinkYAML)
	t.Setenv("GOKIN_HOMING__PROTOCOL", "bulk")
	t.Setenv("GOKIN_RAILS__STEPPER_S__POSITION_MAX", "1.2")
	t.Setenv("GOKIN_HOST__LISTEN", ":9000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", "", "")
	flags.String("log-level", "info", "")
	flags.String("config", "", "")
	require.NoError(t, flags.Parse([]string{"--listen", ":8000", "--config", "ignored.yaml"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	require.Equal(t, "bulk", cfg.Homing.Protocol)
	require.Equal(t, 1.2, cfg.Rails["stepper_s"].PositionMax)
	require.Equal(t, -1.6, cfg.Rails["stepper_s"].PositionMin)
	require.Equal(t, ":8000", cfg.Host.Listen, "flags win over env")
	require.Equal(t, "info", cfg.Host.LogLevel)
}

func TestLoadBuiltin(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("kinematics", "linear", "")
	require.NoError(t, flags.Parse([]string{"--kinematics", "twolink"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	require.Equal(t, "twolink", cfg.Kinematics)
	require.Equal(t, 100.0, cfg.L1)
	require.ElementsMatch(t, []string{"stepper_s", "stepper_a"}, cfg.railNames())

	cfg, err = Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "linear", cfg.Kinematics)
	require.Len(t, cfg.Rails, 3)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		key    string
	}{
		{"bad kinematics", func(c *Config) { c.Kinematics = "delta" }, "kinematics"},
		{"zero link", func(c *Config) { c.L1 = 0 }, "l1"},
		{"negative base", func(c *Config) { c.L0 = -1 }, "l0"},
		{"missing rail", func(c *Config) { delete(c.Rails, "stepper_a") }, "rails.stepper_a"},
		{"unknown rail", func(c *Config) { c.Rails["stepper_x"] = c.Rails["stepper_s"] }, "rails.stepper_x"},
		{"inverted range", func(c *Config) {
			s := c.Rails["stepper_s"]
			s.PositionMin = 2
			c.Rails["stepper_s"] = s
		}, "rails.stepper_s.position_min"},
		{"bad steps", func(c *Config) {
			s := c.Rails["stepper_s"]
			s.Actuators = []ActuatorConfig{{Name: "stepper_s", StepsPerUnit: -1}}
			c.Rails["stepper_s"] = s
		}, "rails.stepper_s.actuators.0.steps_per_unit"},
		{"bad protocol", func(c *Config) { c.Homing.Protocol = "sideways" }, "homing.protocol"},
		{"short overtravel", func(c *Config) { c.Homing.Overtravel = 0.5 }, "homing.overtravel"},
		{"manual without budget", func(c *Config) {
			c.Homing.Protocol = "manual"
			c.Homing.MaxProbes = 0
		}, "homing.max_probes"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultMultiLink()
			test.modify(cfg)
			err := cfg.Validate()

			var cerr *Error
			require.True(t, errors.As(err, &cerr), "got %v", err)
			require.Equal(t, test.key, cerr.Key)
			require.ErrorIs(t, err, controller.ErrConfig)
		})
	}

	linear := DefaultLinear()
	linear.Home = &HomeConfig{}
	require.Error(t, linear.Validate())
}

func TestDefaultsValidate(t *testing.T) {
	for _, kind := range []kinematics.Kind{kinematics.KindLinear, kinematics.KindMultiLinkArm, kinematics.KindTwoLinkArm} {
		require.NoError(t, Default(kind).Validate(), kind.String())
	}
}

func TestControllerConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, multiLinkYAML), nil)
	require.NoError(t, err)
	ccfg, err := cfg.ControllerConfig()
	require.NoError(t, err)

	require.Len(t, ccfg.Rails, 3)
	require.Equal(t, []string{"stepper_b", "stepper_s", "stepper_a"},
		[]string{ccfg.Rails[0].Name, ccfg.Rails[1].Name, ccfg.Rails[2].Name})
	require.Equal(t, kinematics.MultiLinkArm(1, 40, 150, 120), ccfg.Rails[1].Mode)
	require.Equal(t, rail.Positive, ccfg.Rails[1].Homing.Direction)
	require.Equal(t, rail.Negative, ccfg.Rails[2].Homing.Direction)
	require.True(t, ccfg.Rails[0].Auxiliary)
	require.Equal(t, &machine.Position{190, 0, 100, 0}, ccfg.Home)
	require.Equal(t, homing.ProtocolManual, ccfg.Homing.Protocol)
	require.Equal(t, 0.05, ccfg.Homing.ProbeStep)
}

func TestBuildSimHomes(t *testing.T) {
	cfg := DefaultMultiLink()
	ctl, th, err := cfg.BuildSim(testutil.NewTestLogger(t))
	require.NoError(t, err)

	_, err = ctl.Home(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, "xz", ctl.HomedAxes().String())

	pos := ctl.Position()
	require.Equal(t, 190.0, pos.X())
	require.Equal(t, 150.0, pos.Z())
	require.InDelta(t, math.Pi/2, th.Stepper("stepper_a").Position(), 1e-3)
}
