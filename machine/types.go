package machine

import (
	"math"
	"strings"
)

// Tool coordinate slots
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisE // Auxiliary, non-kinematic actuator

	NumAxes
)

// axisNames indexes AxisX..AxisE
const axisNames = "xyze"

// Position represents a position in tool/work coordinates
type Position [NumAxes]float64

// X returns the X coordinate
func (p Position) X() float64 { return p[AxisX] }

// Y returns the Y coordinate
func (p Position) Y() float64 { return p[AxisY] }

// Z returns the Z coordinate
func (p Position) Z() float64 { return p[AxisZ] }

// E returns the auxiliary coordinate
func (p Position) E() float64 { return p[AxisE] }

// Merge returns p with the axes in mask replaced by the values from other
func (p Position) Merge(other Position, mask AxesMask) Position {
	for axis := 0; axis < NumAxes; axis++ {
		if mask.Has(axis) {
			p[axis] = other[axis]
		}
	}
	return p
}

// AxesMask is a set of tool coordinate axes
type AxesMask uint8

// Common masks
const (
	MaskX   AxesMask = 1 << AxisX
	MaskY   AxesMask = 1 << AxisY
	MaskZ   AxesMask = 1 << AxisZ
	MaskE   AxesMask = 1 << AxisE
	MaskXYZ          = MaskX | MaskY | MaskZ
)

// AxisMask returns the mask holding a single axis
func AxisMask(axis int) AxesMask {
	if axis < 0 || axis >= NumAxes {
		return 0
	}
	return 1 << uint(axis)
}

// Has reports whether axis is in the mask
func (m AxesMask) Has(axis int) bool {
	return m&AxisMask(axis) != 0
}

// Axes returns the axis indices in the mask, in order
func (m AxesMask) Axes() []int {
	var axes []int
	for axis := 0; axis < NumAxes; axis++ {
		if m.Has(axis) {
			axes = append(axes, axis)
		}
	}
	return axes
}

// String returns the lowercase axis letters, e.g. "xz"
func (m AxesMask) String() string {
	var sb strings.Builder
	for axis := 0; axis < NumAxes; axis++ {
		if m.Has(axis) {
			sb.WriteByte(axisNames[axis])
		}
	}
	return sb.String()
}

// ParseAxes converts axis letters ("XZ", "y") to a mask.
// Unknown letters are reported via ok=false.
func ParseAxes(s string) (mask AxesMask, ok bool) {
	for _, c := range strings.ToLower(s) {
		idx := strings.IndexRune(axisNames, c)
		if idx < 0 {
			return 0, false
		}
		mask |= AxisMask(idx)
	}
	return mask, true
}

// AxisName returns the letter for an axis index
func AxisName(axis int) string {
	if axis < 0 || axis >= NumAxes {
		return "?"
	}
	return axisNames[axis : axis+1]
}

// Move represents a requested straight-line move in tool coordinates
type Move struct {
	Start Position
	End   Position
	Speed float64 // Requested speed (units/s)
}

// AxesD returns the per-axis displacement of the move
func (m Move) AxesD() Position {
	var d Position
	for axis := range d {
		d[axis] = m.End[axis] - m.Start[axis]
	}
	return d
}

// Distance returns the XYZ length of the move
func (m Move) Distance() float64 {
	d := m.AxesD()
	return math.Sqrt(d[AxisX]*d[AxisX] + d[AxisY]*d[AxisY] + d[AxisZ]*d[AxisZ])
}

// Moved returns the axes whose coordinate changes during the move
func (m Move) Moved() AxesMask {
	var mask AxesMask
	d := m.AxesD()
	for axis := range d {
		if d[axis] != 0 {
			mask |= AxisMask(axis)
		}
	}
	return mask
}
