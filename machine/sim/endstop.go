package sim

import (
	"fmt"
	"sync"

	"gokin/machine/motion"
)

// triggerTolerance absorbs step quantization at the trigger point
const triggerTolerance = 1e-9

// Endstop is a simulated limit switch watching one stepper's position
type Endstop struct {
	name    string
	t       *Toolhead
	stepper string
	trigger float64 // Position at which the switch closes
	above   bool    // Closed at or above trigger (else at or below)

	mu      sync.Mutex
	stuck   bool // Never reports triggered
	queries int
}

// NewEndstop creates a switch on the named stepper. The stepper need not
// be registered yet; it is looked up on every query.
func (t *Toolhead) NewEndstop(name, stepper string, trigger float64, above bool) *Endstop {
	return &Endstop{
		name:    name,
		t:       t,
		stepper: stepper,
		trigger: trigger,
		above:   above,
	}
}

// Name returns the switch name
func (e *Endstop) Name() string {
	return e.name
}

// Query reports whether the switch is closed
func (e *Endstop) Query(printTime float64) (bool, error) {
	e.mu.Lock()
	e.queries++
	stuck := e.stuck
	e.mu.Unlock()

	s := e.t.Stepper(e.stepper)
	if s == nil {
		return false, fmt.Errorf("endstop %s: %w: %s", e.name, ErrUnknownStepper, e.stepper)
	}
	if stuck {
		return false, nil
	}
	pos := s.Position()
	if e.above {
		return pos >= e.trigger-triggerTolerance, nil
	}
	return pos <= e.trigger+triggerTolerance, nil
}

// SetStuck makes the switch ignore the stepper (a broken wire)
func (e *Endstop) SetStuck(stuck bool) {
	e.mu.Lock()
	e.stuck = stuck
	e.mu.Unlock()
}

// Queries returns how often the switch was read
func (e *Endstop) Queries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queries
}

var _ motion.Endstop = (*Endstop)(nil)
