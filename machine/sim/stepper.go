package sim

import (
	"math"

	"gokin/machine/motion"
)

// Stepper is the simulated step generator behind one registered actuator.
// It quantizes commanded positions to whole steps and counts the steps it
// would have emitted.
type Stepper struct {
	src      motion.StepSource
	stepDist float64 // Units per step (0 = unquantized)

	// Current state
	position int64  // Position in steps
	steps    uint64 // Total steps generated
	enabled  bool   // Driver enabled
}

// stepDistancer is implemented by actuators that know their step size
type stepDistancer interface {
	StepDist() float64
}

func newStepper(src motion.StepSource) *Stepper {
	s := &Stepper{src: src}
	if sd, ok := src.(stepDistancer); ok {
		s.stepDist = sd.StepDist()
	}
	s.position = s.toSteps(src.Position())
	return s
}

func (s *Stepper) toSteps(pos float64) int64 {
	if s.stepDist == 0 {
		return 0
	}
	return int64(math.Round(pos / s.stepDist))
}

// Name returns the actuator name
func (s *Stepper) Name() string {
	return s.src.Name()
}

// MoveTo generates the steps needed to reach target and updates the
// actuator's commanded position
func (s *Stepper) MoveTo(target float64) {
	next := s.toSteps(target)
	delta := next - s.position
	if delta < 0 {
		delta = -delta
	}
	s.steps += uint64(delta)
	s.position = next
	s.enabled = true
	s.src.SetPosition(target)
}

// SetPosition sets the current position without stepping (for homing, etc.)
func (s *Stepper) SetPosition(pos float64) {
	s.position = s.toSteps(pos)
	s.src.SetPosition(pos)
}

// Position returns the position the motor has physically reached
func (s *Stepper) Position() float64 {
	if s.stepDist == 0 {
		return s.src.Position()
	}
	return float64(s.position) * s.stepDist
}

// StepCount returns the total number of steps generated
func (s *Stepper) StepCount() uint64 {
	return s.steps
}

// Enabled reports whether the driver is powered
func (s *Stepper) Enabled() bool {
	return s.enabled
}

// Disable powers the driver down
func (s *Stepper) Disable() {
	s.enabled = false
}
