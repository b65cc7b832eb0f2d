// Package motion declares the collaborators the kinematics core consumes:
// the motion engine ("toolhead"), its trajectory queue, endstop sensors and
// the manual-move helper. Implementations live outside the core; the
// simulator in gokin/machine/sim is one.
package motion

import (
	"context"
	"errors"

	"gokin/machine"
)

// ErrNoTrigger is returned by a homing move that reached its target
// without any endstop firing
var ErrNoTrigger = errors.New("no endstop trigger")

// StepSource is an actuator the engine generates steps for
type StepSource interface {
	Name() string

	// Position returns the commanded actuator position
	Position() float64

	// SetPosition overwrites the commanded actuator position
	SetPosition(pos float64)

	// CalcPositionFromCoord maps a tool position to this actuator's
	// position using the actuator's active kinematic mode
	CalcPositionFromCoord(pos machine.Position) (float64, error)
}

// Endstop is a limit sensor
type Endstop interface {
	Name() string

	// Query reports whether the sensor is triggered at printTime
	Query(printTime float64) (bool, error)
}

// MotionQueue stores validated moves until step generation consumes them
type MotionQueue interface {
	// Append queues a move
	Append(m machine.Move) error

	// Pending returns the number of moves not yet flushed to step generation
	Pending() int
}

// HomingMoveRequest describes one bulk homing move
type HomingMoveRequest struct {
	Target    machine.Position // Toolhead target (the reference position)
	Speed     float64          // Search speed (units/s)
	Endstops  []Endstop        // Sensors that halt the move
	Steppers  []StepSource     // Actuators whose trigger positions are captured
	AxesMoved machine.AxesMask // Axes the move travels on
}

// HomingMoveResult reports where a bulk homing move stopped
type HomingMoveResult struct {
	Triggered   bool
	TriggerTime float64            // Print time of the trigger
	Endstop     string             // Sensor that fired
	Positions   map[string]float64 // Actuator positions at trigger time, by name
	Halt        machine.Position   // Toolhead position where motion halted
}

// Engine is the motion engine (toolhead)
type Engine interface {
	// MotionQueue returns the queue planned moves are appended to
	MotionQueue() MotionQueue

	// RegisterStepSource attaches an actuator to step generation
	RegisterStepSource(src StepSource) error

	// Position returns the commanded toolhead position
	Position() machine.Position

	// SetPosition overwrites the toolhead position; homingAxes marks axes
	// that become referenced
	SetPosition(pos machine.Position, homingAxes machine.AxesMask) error

	// FlushPendingMotion blocks until all queued motion has been turned
	// into steps
	FlushPendingMotion() error

	// LastMoveCompletionTime returns the print time at which queued
	// motion completes
	LastMoveCompletionTime() float64

	// HomingMove issues a move toward req.Target that halts when any
	// endstop fires. It blocks until the move ends or ctx is done.
	HomingMove(ctx context.Context, req HomingMoveRequest) (HomingMoveResult, error)
}

// ManualMover moves a single actuator without kinematics
type ManualMover interface {
	ManualMove(ctx context.Context, src StepSource, delta, speed, accel float64) error
}

// Halter is implemented by engines that can drop queued motion
type Halter interface {
	Halt()
}

// MotorDisabler is implemented by engines that can power down drivers
type MotorDisabler interface {
	MotorOff() error
}
