package kinematics

import (
	"fmt"

	"gokin/machine"
)

// cartesian implements linear-axis kinematics (XYZ 1:1 mapping).
// It also serves as the degenerate mapping used while homing: a rail in
// Linear(axis) mode simply follows that tool axis.
type cartesian struct{}

func (cartesian) Kind() Kind                { return KindLinear }
func (cartesian) Slots() int                { return 3 }
func (cartesian) Governs() machine.AxesMask { return machine.MaskXYZ }
func (cartesian) Auxiliary(int) bool        { return false }

func (c cartesian) Forward(actuators []float64) (machine.Position, error) {
	var pos machine.Position
	if err := checkSlots(c, actuators); err != nil {
		return pos, err
	}
	copy(pos[:machine.AxisE], actuators)
	return pos, nil
}

func (cartesian) Inverse(pos machine.Position) ([]float64, error) {
	return []float64{pos.X(), pos.Y(), pos.Z()}, nil
}

func (cartesian) ActuatorPosition(slot int, pos machine.Position) (float64, error) {
	if slot < 0 || slot > machine.AxisZ {
		return 0, fmt.Errorf("%w: linear axis %d", ErrInvalidMode, slot)
	}
	return pos[slot], nil
}
