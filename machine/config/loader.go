package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore: GOKIN_HOMING__PROTOCOL=manual sets homing.protocol.
const EnvPrefix = "GOKIN_"

const (
	defaultListen  = ":7125"
	defaultBaud    = 250000
	defaultTimeout = 30 * time.Second
)

// flagKeys maps command line flags to config keys
var flagKeys = map[string]string{
	"kinematics": "kinematics",
	"protocol":   "homing.protocol",
	"listen":     "host.listen",
	"device":     "host.device",
	"baud":       "host.baud",
	"log-level":  "host.log_level",
	"time-scale": "motion.time_scale",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"kinematics":          "linear",
		"homing.protocol":     "bulk",
		"homing.probe_step":   0.1,
		"homing.probe_speed":  200.0,
		"homing.probe_accel":  200.0,
		"homing.max_probes":   2000,
		"homing.timeout":      defaultTimeout.String(),
		"homing.overtravel":   1.5,
		"motion.max_velocity": 300.0,
		"motion.max_accel":    3000.0,
		"motion.queue_depth":  32,
		"motion.time_scale":   0.0,
		"host.listen":         defaultListen,
		"host.baud":           defaultBaud,
		"host.log_level":      "info",
	}
}

// Load reads the configuration. Precedence (highest to lowest): flags >
// environment > file > defaults. Without a file the built-in machine of
// the selected kinematics is used.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// 3. Environment: GOKIN_RAILS__STEPPER_X__POSITION_MAX -> rails.stepper_x.position_max
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only when explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if path == "" && len(cfg.Rails) == 0 {
		kind, err := cfg.Kind()
		if err != nil {
			return nil, err
		}
		builtin := Default(kind)
		cfg.Rails = builtin.Rails
		if cfg.L0 == 0 && cfg.L1 == 0 && cfg.L2 == 0 {
			cfg.L0, cfg.L1, cfg.L2 = builtin.L0, builtin.L1, builtin.L2
		}
		if cfg.Home == nil {
			cfg.Home = builtin.Home
		}
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
