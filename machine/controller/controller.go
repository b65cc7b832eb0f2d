// Package controller is the kinematics façade used by the motion front
// end: it validates moves, reports status, converts actuator positions to
// tool coordinates and runs homing.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"gokin/machine"
	"gokin/machine/homing"
	"gokin/machine/kinematics"
	"gokin/machine/motion"
	"gokin/machine/rail"
)

var (
	// ErrNotHomed is returned for moves on an axis without a reference
	ErrNotHomed = errors.New("must home axis first")

	// ErrOutOfRange is returned for moves beyond an axis or joint limit
	ErrOutOfRange = errors.New("move out of range")

	// ErrConfig is returned by New for an incomplete or inconsistent setup
	ErrConfig = errors.New("invalid kinematics configuration")
)

// Config describes the machine the controller drives
type Config struct {
	Rails  []rail.Config // One per geometry slot
	Homing homing.Config

	// Home is the tool position committed after homing an arm geometry.
	// When nil, the forward mapping of the rails' reference positions is
	// used.
	Home *machine.Position
}

// EndstopLookup returns the sensors bound to the named rail
type EndstopLookup func(railName string) ([]rail.EndstopBinding, error)

// Deps are the collaborators injected at construction
type Deps struct {
	Engine   motion.Engine
	Manual   motion.ManualMover // Required for manual homing only
	Endstops EndstopLookup
	Logger   *slog.Logger
}

// Controller implements the kinematics of one machine
type Controller struct {
	geom   kinematics.Mode // Operating geometry (slot ignored)
	solver kinematics.Solver
	engine motion.Engine
	orch   *homing.Orchestrator
	logger *slog.Logger
	rails  []*rail.Rail // Slot order
	byName map[string]*rail.Rail
	home   machine.Position // Post-homing position (arm geometries)

	// mu serializes façade operations; homing holds it for the whole
	// sequence so no move is queued while a rail runs its degenerate mode
	mu sync.Mutex

	stateMu sync.RWMutex
	limits  [machine.AxisE][2]float64 // Per XYZ axis; min > max means unhomed
	homed   machine.AxesMask
	estops  uint64 // Bumped by EmergencyStop; a commit from an older generation is dropped

	cancelMu   sync.Mutex
	cancelHome context.CancelFunc
}

// New builds the rails, registers their actuators with the engine and
// prepares the homing orchestrator
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("%w: nil motion engine", ErrConfig)
	}
	if len(cfg.Rails) == 0 {
		return nil, fmt.Errorf("%w: no rails", ErrConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	geom := cfg.Rails[0].Mode
	solver, err := geom.Solver()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	c := &Controller{
		geom:   geom,
		solver: solver,
		engine: deps.Engine,
		logger: logger,
		byName: make(map[string]*rail.Rail),
	}

	slots := make(map[int]string)
	for _, rc := range cfg.Rails {
		if !rc.Mode.SameGeometry(geom) {
			return nil, fmt.Errorf("%w: rail %s runs %s, expected %s geometry", ErrConfig, rc.Name, rc.Mode, geom.Kind)
		}
		if prev, dup := slots[rc.Mode.Slot]; dup {
			return nil, fmt.Errorf("%w: rails %s and %s share slot %d", ErrConfig, prev, rc.Name, rc.Mode.Slot)
		}
		slots[rc.Mode.Slot] = rc.Name

		var bindings []rail.EndstopBinding
		if deps.Endstops != nil {
			if bindings, err = deps.Endstops(rc.Name); err != nil {
				return nil, fmt.Errorf("%w: endstops for %s: %w", ErrConfig, rc.Name, err)
			}
		}
		r, err := rail.New(rc, deps.Engine, bindings)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		if !r.Auxiliary() && len(r.Endstops()) == 0 {
			return nil, fmt.Errorf("%w: rail %s has no endstop", ErrConfig, rc.Name)
		}
		if _, dup := c.byName[rc.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate rail %s", ErrConfig, rc.Name)
		}
		c.rails = append(c.rails, r)
		c.byName[rc.Name] = r
	}
	if len(c.rails) != solver.Slots() {
		return nil, fmt.Errorf("%w: %s needs %d rails, got %d", ErrConfig, geom.Kind, solver.Slots(), len(c.rails))
	}
	slices.SortFunc(c.rails, func(a, b *rail.Rail) int {
		return a.OperatingMode().Slot - b.OperatingMode().Slot
	})

	for _, r := range c.rails {
		for _, a := range r.Actuators() {
			if err := deps.Engine.RegisterStepSource(a); err != nil {
				return nil, fmt.Errorf("%w: register %s: %w", ErrConfig, a.Name(), err)
			}
			a.SetMotionQueue(deps.Engine.MotionQueue())
		}
	}

	if geom.Kind != kinematics.KindLinear {
		if c.home, err = c.armHome(cfg.Home); err != nil {
			return nil, fmt.Errorf("%w: home position: %w", ErrConfig, err)
		}
	}

	c.orch, err = homing.NewOrchestrator(cfg.Homing, deps.Engine, deps.Manual, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	c.clearHomed(machine.MaskXYZ)

	logger.Info("kinematics ready", "kinematics", geom.Kind, "rails", len(c.rails), "protocol", cfg.Homing.Protocol)
	return c, nil
}

// armHome resolves the post-homing position and checks it is reachable
func (c *Controller) armHome(home *machine.Position) (machine.Position, error) {
	if home != nil {
		return *home, c.checkJoints(*home)
	}
	refs := make([]float64, c.solver.Slots())
	for _, r := range c.rails {
		refs[r.OperatingMode().Slot] = r.HomingInfo().PositionEndstop
	}
	pos, err := c.solver.Forward(refs)
	if err != nil {
		return pos, err
	}
	pos[machine.AxisE] = 0
	return pos, c.checkJoints(pos)
}

// checkJoints runs the inverse mapping and checks every positional
// actuator against its rail range
func (c *Controller) checkJoints(pos machine.Position) error {
	joints, err := c.solver.Inverse(pos)
	if err != nil {
		return err
	}
	for _, r := range c.rails {
		if r.Auxiliary() {
			continue
		}
		v := joints[r.OperatingMode().Slot]
		if !r.InRange(v) {
			min, max := r.Range()
			return fmt.Errorf("%w: %s at %.4f outside [%g, %g]", ErrOutOfRange, r.Name(), v, min, max)
		}
	}
	return nil
}

// Kind returns the geometry tag
func (c *Controller) Kind() kinematics.Kind {
	return c.geom.Kind
}

// Rails returns the rails in slot order
func (c *Controller) Rails() []*rail.Rail {
	return append([]*rail.Rail(nil), c.rails...)
}

// LookupRail returns a rail by name
func (c *Controller) LookupRail(name string) (*rail.Rail, bool) {
	r, ok := c.byName[name]
	return r, ok
}

// Orchestrator returns the homing orchestrator
func (c *Controller) Orchestrator() *homing.Orchestrator {
	return c.orch
}

// Position returns the commanded toolhead position
func (c *Controller) Position() machine.Position {
	return c.engine.Position()
}

// HomeTarget returns the post-homing coordinate of arm geometries
func (c *Controller) HomeTarget() machine.Position {
	return c.home
}

// HomedAxes returns the axes that currently have a reference
func (c *Controller) HomedAxes() machine.AxesMask {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.homed
}

// axisRange returns the static extent of an XYZ axis
func (c *Controller) axisRange(axis int) (min, max float64) {
	if !c.solver.Governs().Has(axis) {
		return 0, 0
	}
	switch c.geom.Kind {
	case kinematics.KindLinear:
		for _, r := range c.rails {
			if r.OperatingMode().Slot == axis {
				return r.Range()
			}
		}
	case kinematics.KindTwoLinkArm:
		reach := c.geom.L1 + c.geom.L2
		return -reach, reach
	case kinematics.KindMultiLinkArm:
		reach := c.geom.L1 + c.geom.L2
		if axis == machine.AxisX {
			return c.geom.L0 - reach, c.geom.L0 + reach
		}
		return -reach, reach
	}
	return 0, 0
}

func (c *Controller) clearHomed(axes machine.AxesMask) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, axis := range (axes & machine.MaskXYZ).Axes() {
		c.limits[axis] = [2]float64{1, -1}
	}
	c.homed &^= axes
}

func (c *Controller) generation() uint64 {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.estops
}

// markHomed records a reference taken in estop generation gen
func (c *Controller) markHomed(axes machine.AxesMask, gen uint64) error {
	axes &= c.solver.Governs() & machine.MaskXYZ
	if axes == 0 {
		return nil
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if gen != c.estops {
		return fmt.Errorf("%w: emergency stop", homing.ErrCancelled)
	}
	for _, axis := range axes.Axes() {
		min, max := c.axisRange(axis)
		c.limits[axis] = [2]float64{min, max}
	}
	c.homed |= axes
	return nil
}

// CheckMove validates a move: every moved axis must be driven, homed and
// inside its limits, and arm moves must be reachable with every joint in
// range. Auxiliary actuators are not checked.
func (c *Controller) CheckMove(move machine.Move) error {
	c.stateMu.RLock()
	limits := c.limits
	c.stateMu.RUnlock()

	governed := c.solver.Governs() & machine.MaskXYZ
	moved := move.Moved() & machine.MaskXYZ
	for _, axis := range moved.Axes() {
		name := machine.AxisName(axis)
		if !governed.Has(axis) {
			return fmt.Errorf("%w: no rail drives axis %s", ErrOutOfRange, name)
		}
		lim := limits[axis]
		if lim[0] > lim[1] {
			return fmt.Errorf("%w: %s", ErrNotHomed, name)
		}
		if v := move.End[axis]; v < lim[0] || v > lim[1] {
			return fmt.Errorf("%w: %s=%.3f outside [%.3f, %.3f]", ErrOutOfRange, name, v, lim[0], lim[1])
		}
	}
	if c.geom.Kind == kinematics.KindLinear || moved == 0 {
		return nil
	}
	return c.checkJoints(move.End)
}

// Move validates a move from the current position to end and queues it
func (c *Controller) Move(end machine.Position, speed float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	move := machine.Move{Start: c.engine.Position(), End: end, Speed: speed}
	if err := c.CheckMove(move); err != nil {
		return err
	}
	return c.engine.MotionQueue().Append(move)
}

// CalcPosition converts actuator positions, keyed by actuator name, to a
// tool position. Rails in their degenerate mode map straight to their
// axis; otherwise the geometry's forward mapping is used. Axes no rail
// determines keep the commanded value.
func (c *Controller) CalcPosition(actuators map[string]float64) (machine.Position, error) {
	pos := c.engine.Position()
	slots := make([]float64, c.solver.Slots())
	degenerate := false
	for _, r := range c.rails {
		name := r.Actuators()[0].Name()
		v, ok := actuators[name]
		if !ok {
			return pos, fmt.Errorf("no position for actuator %s", name)
		}
		slots[r.OperatingMode().Slot] = v
		if !r.Auxiliary() && r.ActiveMode() != r.OperatingMode() {
			degenerate = true
		}
	}

	if c.geom.Kind != kinematics.KindLinear && !degenerate {
		fwd, err := c.solver.Forward(slots)
		if err != nil {
			return pos, err
		}
		return pos.Merge(fwd, c.solver.Governs()), nil
	}

	for _, r := range c.rails {
		if r.Auxiliary() {
			continue
		}
		pos[r.ActiveMode().Slot] = slots[r.OperatingMode().Slot]
	}
	if c.geom.Kind != kinematics.KindLinear {
		// Auxiliary actuators still pass through to their own axes
		if fwd, err := c.solver.Forward(slots); err == nil {
			pos = pos.Merge(fwd, c.solver.Governs()&^machine.MaskXYZ)
		}
	}
	return pos, nil
}

// ActuatorPositions returns the commanded position of every actuator
func (c *Controller) ActuatorPositions() map[string]float64 {
	out := make(map[string]float64)
	for _, r := range c.rails {
		for _, a := range r.Actuators() {
			out[a.Name()] = a.Position()
		}
	}
	return out
}

// SetPosition overwrites the tool position. Axes in homingAxes become
// homed. Nothing changes if any rail cannot reach pos.
func (c *Controller) SetPosition(pos machine.Position, homingAxes machine.AxesMask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setPosition(pos, homingAxes, c.generation())
}

func (c *Controller) setPosition(pos machine.Position, homingAxes machine.AxesMask, gen uint64) error {
	if homingAxes != 0 && gen != c.generation() {
		return fmt.Errorf("%w: emergency stop", homing.ErrCancelled)
	}
	for _, r := range c.rails {
		if _, err := r.ActuatorPosition(pos); err != nil {
			return fmt.Errorf("set position: %s: %w", r.Name(), err)
		}
	}
	for _, r := range c.rails {
		if err := r.CommitPosition(pos); err != nil {
			return err
		}
	}
	if err := c.engine.SetPosition(pos, homingAxes); err != nil {
		return err
	}
	return c.markHomed(homingAxes, gen)
}

// commitPositioner lets the orchestrator commit while Home holds mu
type commitPositioner struct {
	c   *Controller
	gen uint64
}

func (p commitPositioner) SetPosition(pos machine.Position, axes machine.AxesMask) error {
	return p.c.setPosition(pos, axes, p.gen)
}

// Home references the rails driving axes (all XYZ when empty). Arm
// geometries always home every rail together and commit the home
// position. Axes being homed stay unhomed if homing fails.
func (c *Controller) Home(ctx context.Context, axes machine.AxesMask) (homing.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	axes &= machine.MaskXYZ
	if axes == 0 {
		axes = machine.MaskXYZ
	}

	req := homing.Request{Positioner: commitPositioner{c: c, gen: c.generation()}}
	var homingAxes machine.AxesMask
	governed := c.solver.Governs() & machine.MaskXYZ
	if c.geom.Kind == kinematics.KindLinear {
		for _, r := range c.rails {
			if axis := r.OperatingMode().Slot; axes.Has(axis) {
				req.Rails = append(req.Rails, r)
				homingAxes |= machine.AxisMask(axis)
			}
		}
	} else if axes&governed != 0 {
		req.Rails = c.rails
		req.CommitAxes = governed
		req.CommitPosition = c.engine.Position().Merge(c.home, machine.MaskXYZ)
		homingAxes = governed
	}
	if len(req.Rails) == 0 {
		return homing.Result{Captured: map[string]float64{}}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancelHome = cancel
	c.cancelMu.Unlock()
	defer func() {
		c.cancelMu.Lock()
		c.cancelHome = nil
		c.cancelMu.Unlock()
		cancel()
	}()

	c.clearHomed(homingAxes)
	c.logger.Info("homing", "axes", homingAxes.String())
	return c.orch.Home(ctx, req)
}

// EmergencyStop aborts homing, drops queued motion and forgets every
// reference. It does not wait for the controller lock.
func (c *Controller) EmergencyStop() {
	c.cancelMu.Lock()
	if c.cancelHome != nil {
		c.cancelHome()
	}
	c.cancelMu.Unlock()
	c.stateMu.Lock()
	c.estops++
	c.stateMu.Unlock()
	if h, ok := c.engine.(motion.Halter); ok {
		h.Halt()
	}
	c.clearHomed(machine.MaskXYZ)
	c.logger.Warn("emergency stop")
}

// MotorOff powers down the drivers; every axis must be homed again
func (c *Controller) MotorOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.engine.(motion.MotorDisabler); ok {
		if err := m.MotorOff(); err != nil {
			return err
		}
	} else if err := c.engine.FlushPendingMotion(); err != nil {
		return err
	}
	c.clearHomed(machine.MaskXYZ)
	c.orch.Reset()
	c.logger.Info("motors off")
	return nil
}
