// Package rail groups the actuators that share one kinematic slot, their
// endstops, range limits and homing parameters.
package rail

import (
	"errors"
	"fmt"
	"sync"

	"gokin/machine"
	"gokin/machine/kinematics"
	"gokin/machine/motion"
)

var (
	// ErrModeMismatch is returned when a rail is asked to run a mode other
	// than its operating mode or that mode's degenerate form.
	ErrModeMismatch = errors.New("kinematic mode mismatch")

	// ErrInvalidRail is returned for inconsistent rail parameters
	ErrInvalidRail = errors.New("invalid rail")
)

// Direction of the homing search
type Direction int8

const (
	Negative Direction = -1
	Positive Direction = 1
)

func (d Direction) String() string {
	if d == Positive {
		return "positive"
	}
	return "negative"
}

// HomingInfo holds the per-rail homing parameters
type HomingInfo struct {
	Speed           float64   // Search speed (units/s)
	PositionEndstop float64   // Reference coordinate assigned when the endstop fires
	Direction       Direction // Search direction
}

// Flusher drains queued motion into step generation
type Flusher interface {
	FlushPendingMotion() error
}

// EndstopBinding attaches a sensor to one of the rail's actuators
type EndstopBinding struct {
	Endstop  motion.Endstop
	Actuator int // Index into the rail's actuators
}

// ActuatorConfig describes one motor of a rail
type ActuatorConfig struct {
	Name         string
	StepsPerUnit float64
}

// Config holds the static parameters of a rail
type Config struct {
	Name        string
	Mode        kinematics.Mode // Operating mode
	PositionMin float64
	PositionMax float64
	Homing      HomingInfo
	Auxiliary   bool // Force auxiliary even when the mode is positional
	Actuators   []ActuatorConfig
}

// Rail is a set of actuators driven by one slot of a kinematic mode
type Rail struct {
	name      string
	min, max  float64
	homing    HomingInfo
	operating kinematics.Mode
	auxiliary bool
	actuators []*Actuator
	endstops  []EndstopBinding
	flusher   Flusher

	mu     sync.RWMutex
	active kinematics.Mode
}

// New creates a rail in its operating mode
func New(cfg Config, flusher Flusher, endstops []EndstopBinding) (*Rail, error) {
	if err := cfg.Mode.Validate(); err != nil {
		return nil, fmt.Errorf("rail %s: %w", cfg.Name, err)
	}
	if cfg.PositionMin > cfg.PositionMax {
		return nil, fmt.Errorf("%w %s: position_min %g > position_max %g",
			ErrInvalidRail, cfg.Name, cfg.PositionMin, cfg.PositionMax)
	}
	if cfg.Homing.Direction != Positive && cfg.Homing.Direction != Negative {
		return nil, fmt.Errorf("%w %s: homing direction %d", ErrInvalidRail, cfg.Name, cfg.Homing.Direction)
	}
	if len(cfg.Actuators) == 0 {
		return nil, fmt.Errorf("%w %s: no actuators", ErrInvalidRail, cfg.Name)
	}
	if flusher == nil {
		return nil, fmt.Errorf("%w %s: nil flusher", ErrInvalidRail, cfg.Name)
	}

	r := &Rail{
		name:      cfg.Name,
		min:       cfg.PositionMin,
		max:       cfg.PositionMax,
		homing:    cfg.Homing,
		operating: cfg.Mode,
		active:    cfg.Mode,
		auxiliary: cfg.Auxiliary || cfg.Mode.Auxiliary(),
		flusher:   flusher,
	}
	for _, ac := range cfg.Actuators {
		r.actuators = append(r.actuators, newActuator(ac.Name, ac.StepsPerUnit, r))
	}
	for _, b := range endstops {
		if b.Endstop == nil || b.Actuator < 0 || b.Actuator >= len(r.actuators) {
			return nil, fmt.Errorf("%w %s: bad endstop binding", ErrInvalidRail, cfg.Name)
		}
		r.endstops = append(r.endstops, b)
	}
	return r, nil
}

// Name returns the rail name
func (r *Rail) Name() string {
	return r.name
}

// Range returns the allowed coordinate range
func (r *Rail) Range() (min, max float64) {
	return r.min, r.max
}

// HomingInfo returns the homing parameters
func (r *Rail) HomingInfo() HomingInfo {
	return r.homing
}

// Auxiliary reports whether the rail is excluded from homing and move checks
func (r *Rail) Auxiliary() bool {
	return r.auxiliary
}

// Actuators returns the rail's actuators
func (r *Rail) Actuators() []*Actuator {
	return append([]*Actuator(nil), r.actuators...)
}

// Endstops returns the sensors bound to the rail
func (r *Rail) Endstops() []EndstopBinding {
	return append([]EndstopBinding(nil), r.endstops...)
}

// OperatingMode returns the mode configured for normal motion
func (r *Rail) OperatingMode() kinematics.Mode {
	return r.operating
}

// ActiveMode returns the mode currently used to compute actuator positions
func (r *Rail) ActiveMode() kinematics.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActiveMode swaps the rail's mode. Pending motion is flushed first so
// no queued step is generated under the wrong mapping. Setting the mode
// already active does nothing. The check, flush and swap are not atomic:
// callers must be the rail's single writer (the homing orchestrator, run
// under the controller lock).
func (r *Rail) SetActiveMode(mode kinematics.Mode) error {
	if r.ActiveMode() == mode {
		return nil
	}
	if mode != r.operating && mode != r.operating.Degenerate() {
		return fmt.Errorf("%w: rail %s runs %s, got %s", ErrModeMismatch, r.name, r.operating, mode)
	}

	// Flush without the lock held: step generation reads the active mode
	if err := r.flusher.FlushPendingMotion(); err != nil {
		return fmt.Errorf("rail %s: flush before mode swap: %w", r.name, err)
	}

	r.mu.Lock()
	r.active = mode
	r.mu.Unlock()
	return nil
}

// RestoreOperatingMode switches the rail back to its operating mode. If
// the flush fails, queued motion is discarded (through motion.Halter when
// the flusher provides it) and the mode is swapped anyway; the flush error
// is still returned. Like SetActiveMode it expects a single writer.
func (r *Rail) RestoreOperatingMode() error {
	if r.ActiveMode() == r.operating {
		return nil
	}

	var err error
	if ferr := r.flusher.FlushPendingMotion(); ferr != nil {
		err = fmt.Errorf("rail %s: flush before mode swap: %w", r.name, ferr)
		if h, ok := r.flusher.(motion.Halter); ok {
			h.Halt()
		}
	}

	r.mu.Lock()
	r.active = r.operating
	r.mu.Unlock()
	return err
}

// ActuatorPosition maps a tool position through the active mode
func (r *Rail) ActuatorPosition(pos machine.Position) (float64, error) {
	return r.ActiveMode().ActuatorPosition(pos)
}

// CommitPosition sets every actuator's commanded position from a tool
// position. Nothing is changed if the position is unreachable.
func (r *Rail) CommitPosition(pos machine.Position) error {
	if err := r.flusher.FlushPendingMotion(); err != nil {
		return fmt.Errorf("rail %s: flush before commit: %w", r.name, err)
	}
	v, err := r.ActuatorPosition(pos)
	if err != nil {
		return fmt.Errorf("rail %s: %w", r.name, err)
	}
	for _, a := range r.actuators {
		a.SetPosition(v)
	}
	return nil
}

// Position returns the commanded position of the first actuator
func (r *Rail) Position() float64 {
	return r.actuators[0].Position()
}

// InRange reports whether v lies inside the rail's limits
func (r *Rail) InRange(v float64) bool {
	return v >= r.min && v <= r.max
}
