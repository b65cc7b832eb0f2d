package kinematics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"gokin/machine"
)

// reachEpsilon absorbs rounding when a target sits exactly on the
// workspace boundary (fully extended or fully folded).
const reachEpsilon = 1e-9

/*
Planar two-link chain, shared by both arm geometries.

	r = l1*cos(s) + l2*cos(s+a)
	h = l1*sin(s) + l2*sin(s+a)

s is the shoulder angle from the reach axis, a the arm (elbow) angle
relative to the upper link. Inverse solutions use the elbow-up branch,
a in [0, pi].
*/

func planarForward(l1, l2, shoulder, arm float64) r3.Vector {
	upper := r3.Vector{X: l1 * math.Cos(shoulder), Y: l1 * math.Sin(shoulder)}
	lower := r3.Vector{X: l2 * math.Cos(shoulder+arm), Y: l2 * math.Sin(shoulder+arm)}
	return upper.Add(lower)
}

func planarInverse(l1, l2 float64, target r3.Vector) (shoulder, arm float64, err error) {
	d := target.Norm()
	cosArm := (d*d - l1*l1 - l2*l2) / (2 * l1 * l2)
	if cosArm > 1+reachEpsilon || cosArm < -1-reachEpsilon {
		return 0, 0, fmt.Errorf("%w: reach %.4f outside [%.4f, %.4f]",
			ErrUnreachable, d, math.Abs(l1-l2), l1+l2)
	}
	cosArm = math.Max(-1, math.Min(1, cosArm))

	arm = math.Acos(cosArm)
	shoulder = math.Atan2(target.Y, target.X) - math.Atan2(l2*math.Sin(arm), l1+l2*math.Cos(arm))
	return normalizeAngle(shoulder), arm, nil
}

// normalizeAngle wraps a into (-pi, pi]
func normalizeAngle(a float64) float64 {
	a = math.Remainder(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// twoLink is the classic two-bar arm working in the XY plane.
// Slot 0 is the shoulder, slot 1 the arm; both in radians.
type twoLink struct {
	l1, l2 float64
}

func (twoLink) Kind() Kind                { return KindTwoLinkArm }
func (twoLink) Slots() int                { return 2 }
func (twoLink) Governs() machine.AxesMask { return machine.MaskX | machine.MaskY }
func (twoLink) Auxiliary(int) bool        { return false }

func (k twoLink) Forward(actuators []float64) (machine.Position, error) {
	var pos machine.Position
	if err := checkSlots(k, actuators); err != nil {
		return pos, err
	}
	tip := planarForward(k.l1, k.l2, actuators[0], actuators[1])
	pos[machine.AxisX] = tip.X
	pos[machine.AxisY] = tip.Y
	return pos, nil
}

func (k twoLink) Inverse(pos machine.Position) ([]float64, error) {
	shoulder, arm, err := planarInverse(k.l1, k.l2, r3.Vector{X: pos.X(), Y: pos.Y()})
	if err != nil {
		return nil, err
	}
	return []float64{shoulder, arm}, nil
}

func (k twoLink) ActuatorPosition(slot int, pos machine.Position) (float64, error) {
	if slot < 0 || slot >= k.Slots() {
		return 0, fmt.Errorf("%w: twolink slot %d", ErrInvalidMode, slot)
	}
	angles, err := k.Inverse(pos)
	if err != nil {
		return 0, err
	}
	return angles[slot], nil
}

// multiLink is an articulated arm mounted l0 away from a rotating bed.
// The arm works in the vertical XZ reach plane; the bed (slot 0) is a
// non-positional auxiliary that passes straight through to the E axis.
// Slot 1 is the shoulder, slot 2 the arm.
type multiLink struct {
	l0, l1, l2 float64
}

const bedSlot = 0

func (multiLink) Kind() Kind { return KindMultiLinkArm }
func (multiLink) Slots() int { return 3 }

func (multiLink) Governs() machine.AxesMask {
	return machine.MaskX | machine.MaskZ | machine.MaskE
}

func (multiLink) Auxiliary(slot int) bool { return slot == bedSlot }

func (k multiLink) Forward(actuators []float64) (machine.Position, error) {
	var pos machine.Position
	if err := checkSlots(k, actuators); err != nil {
		return pos, err
	}
	tip := planarForward(k.l1, k.l2, actuators[1], actuators[2])
	pos[machine.AxisX] = k.l0 + tip.X
	pos[machine.AxisZ] = tip.Y
	pos[machine.AxisE] = actuators[bedSlot]
	return pos, nil
}

func (k multiLink) Inverse(pos machine.Position) ([]float64, error) {
	shoulder, arm, err := planarInverse(k.l1, k.l2, r3.Vector{X: pos.X() - k.l0, Y: pos.Z()})
	if err != nil {
		return nil, err
	}
	return []float64{pos.E(), shoulder, arm}, nil
}

func (k multiLink) ActuatorPosition(slot int, pos machine.Position) (float64, error) {
	switch {
	case slot == bedSlot:
		return pos.E(), nil
	case slot < 0 || slot >= k.Slots():
		return 0, fmt.Errorf("%w: multilink slot %d", ErrInvalidMode, slot)
	}
	angles, err := k.Inverse(pos)
	if err != nil {
		return 0, err
	}
	return angles[slot], nil
}
