package gcode

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gokin/machine"
	"gokin/machine/homing"
)

// ErrUnknownCommand is returned for commands the interpreter does not run
var ErrUnknownCommand = errors.New("unknown command")

// Machine is the motion controller commands are run against
type Machine interface {
	Position() machine.Position
	Move(end machine.Position, speed float64) error
	Home(ctx context.Context, axes machine.AxesMask) (homing.Result, error)
	SetPosition(pos machine.Position, homingAxes machine.AxesMask) error
	MotorOff() error
	EmergencyStop()
}

// State is the modal state of the interpreter
type State struct {
	AbsoluteMode bool    // G90/G91
	RelativeE    bool    // M83/M82
	FeedRate     float64 // Units/s
}

// Interpreter executes G-code commands
type Interpreter struct {
	state   State
	machine Machine
}

// NewInterpreter creates a new G-code interpreter. feedRate is the move
// speed used until the first F parameter.
func NewInterpreter(m Machine, feedRate float64) *Interpreter {
	return &Interpreter{
		state: State{
			AbsoluteMode: true,
			FeedRate:     feedRate,
		},
		machine: m,
	}
}

// Execute executes a parsed G-code command and returns any text to send
// back with the acknowledgement
func (interp *Interpreter) Execute(ctx context.Context, cmd *Command) (string, error) {
	if cmd == nil || cmd.Type == 0 {
		return "", nil
	}

	switch cmd.Type {
	case 'G':
		return "", interp.executeG(ctx, cmd)
	case 'M':
		return interp.executeM(cmd)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name())
}

// executeG handles G-codes
func (interp *Interpreter) executeG(ctx context.Context, cmd *Command) error {
	switch cmd.Number {
	case 0, 1: // G0/G1 - Linear move
		return interp.doMove(cmd)
	case 28: // G28 - Home
		return interp.doHome(ctx, cmd)
	case 90: // G90 - Absolute positioning
		interp.state.AbsoluteMode = true
	case 91: // G91 - Relative positioning
		interp.state.AbsoluteMode = false
	case 92: // G92 - Set position
		return interp.doSetPosition(cmd)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name())
	}
	return nil
}

// executeM handles M-codes
func (interp *Interpreter) executeM(cmd *Command) (string, error) {
	switch cmd.Number {
	case 82: // M82 - Absolute extrusion
		interp.state.RelativeE = false
	case 83: // M83 - Relative extrusion
		interp.state.RelativeE = true
	case 114: // M114 - Get current position
		pos := interp.machine.Position()
		return fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f E:%.3f", pos.X(), pos.Y(), pos.Z(), pos.E()), nil
	case 18, 84: // M18/M84 - Motors off
		return "", interp.machine.MotorOff()
	case 112: // M112 - Emergency stop
		interp.machine.EmergencyStop()
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name())
	}
	return "", nil
}

var axisLetters = [machine.NumAxes]byte{'X', 'Y', 'Z', 'E'}

// doMove executes a linear move (G0/G1)
func (interp *Interpreter) doMove(cmd *Command) error {
	current := interp.machine.Position()
	target := current

	// Update feedrate if specified
	if cmd.HasParameter('F') {
		f := cmd.GetParameter('F', 0)
		if f <= 0 {
			return fmt.Errorf("invalid feed rate F%g", f)
		}
		interp.state.FeedRate = f / 60.0 // Units/min to units/s
	}

	for axis, letter := range axisLetters {
		if !cmd.HasParameter(letter) {
			continue
		}
		v := cmd.GetParameter(letter, 0)
		relative := !interp.state.AbsoluteMode
		if axis == machine.AxisE {
			relative = relative || interp.state.RelativeE
		}
		if relative {
			target[axis] = current[axis] + v
		} else {
			target[axis] = v
		}
	}

	// Skip if no movement
	move := machine.Move{Start: current, End: target}
	if move.Distance() < 0.001 && math.Abs(target.E()-current.E()) < 0.001 {
		return nil
	}
	return interp.machine.Move(target, interp.state.FeedRate)
}

// doHome executes homing (G28). Without axis letters every axis is homed.
func (interp *Interpreter) doHome(ctx context.Context, cmd *Command) error {
	var axes machine.AxesMask
	for axis, letter := range axisLetters[:machine.AxisE] {
		if cmd.HasParameter(letter) {
			axes |= machine.AxisMask(axis)
		}
	}
	_, err := interp.machine.Home(ctx, axes)
	return err
}

// doSetPosition sets the current position (G92)
func (interp *Interpreter) doSetPosition(cmd *Command) error {
	current := interp.machine.Position()
	for axis, letter := range axisLetters {
		if cmd.HasParameter(letter) {
			current[axis] = cmd.GetParameter(letter, 0)
		}
	}
	return interp.machine.SetPosition(current, 0)
}

// State returns the modal state
func (interp *Interpreter) State() State {
	return interp.state
}
