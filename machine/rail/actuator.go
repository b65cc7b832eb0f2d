package rail

import (
	"math"
	"sync"

	"gokin/machine"
	"gokin/machine/motion"
)

// Actuator represents a single motor-driven degree of freedom
type Actuator struct {
	name     string
	stepDist float64 // Units per full step (0 = unquantized)
	rail     *Rail   // Owning rail

	mu       sync.Mutex
	position float64 // Commanded position
	queue    motion.MotionQueue
}

func newActuator(name string, stepsPerUnit float64, owner *Rail) *Actuator {
	a := &Actuator{
		name: name,
		rail: owner,
	}
	if stepsPerUnit > 0 {
		a.stepDist = 1 / stepsPerUnit
	}
	return a
}

// Name returns the actuator name
func (a *Actuator) Name() string {
	return a.name
}

// Rail returns the rail that owns the actuator
func (a *Actuator) Rail() *Rail {
	return a.rail
}

// StepDist returns the distance of one step
func (a *Actuator) StepDist() float64 {
	return a.stepDist
}

// Position returns the commanded position
func (a *Actuator) Position() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// SetPosition overwrites the commanded position
func (a *Actuator) SetPosition(pos float64) {
	a.mu.Lock()
	a.position = pos
	a.mu.Unlock()
}

// Steps returns the commanded position in whole steps
func (a *Actuator) Steps() int64 {
	if a.stepDist == 0 {
		return 0
	}
	return int64(math.Round(a.Position() / a.stepDist))
}

// CalcPositionFromCoord maps a tool position through the rail's active mode
func (a *Actuator) CalcPositionFromCoord(pos machine.Position) (float64, error) {
	return a.rail.ActuatorPosition(pos)
}

// SetMotionQueue binds the actuator to the engine's trajectory queue
func (a *Actuator) SetMotionQueue(q motion.MotionQueue) {
	a.mu.Lock()
	a.queue = q
	a.mu.Unlock()
}

// MotionQueue returns the bound trajectory queue, if any
func (a *Actuator) MotionQueue() motion.MotionQueue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue
}

var _ motion.StepSource = (*Actuator)(nil)
