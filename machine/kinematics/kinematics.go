package kinematics

import (
	"errors"
	"fmt"

	"gokin/machine"
)

var (
	// ErrUnreachable is returned when an inverse mapping is requested outside
	// the mechanism's workspace.
	ErrUnreachable = errors.New("position unreachable")

	// ErrInvalidMode is returned for modes with bad parameters
	ErrInvalidMode = errors.New("invalid kinematic mode")

	// ErrSlotCount is returned when Forward gets the wrong number of actuators
	ErrSlotCount = errors.New("wrong number of actuator positions")
)

// Kind tags a geometry variant
type Kind uint8

const (
	KindLinear Kind = iota
	KindMultiLinkArm
	KindTwoLinkArm
)

func (k Kind) String() string {
	switch k {
	case KindLinear:
		return "linear"
	case KindMultiLinkArm:
		return "multilink"
	case KindTwoLinkArm:
		return "twolink"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind converts a config name to a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "linear", "cartesian":
		return KindLinear, nil
	case "multilink":
		return KindMultiLinkArm, nil
	case "twolink":
		return KindTwoLinkArm, nil
	}
	return 0, fmt.Errorf("%w: unknown kinematics %q", ErrInvalidMode, s)
}

// Solver maps between actuator space and tool space for one geometry.
// Implementations hold only immutable parameters and are safe for
// concurrent use.
type Solver interface {
	// Kind returns the geometry tag
	Kind() Kind

	// Slots returns the number of actuators the geometry drives
	Slots() int

	// Governs returns the tool axes determined by Forward
	Governs() machine.AxesMask

	// Auxiliary reports whether slot is a non-positional actuator
	Auxiliary(slot int) bool

	// Forward converts actuator positions (indexed by slot) to tool coordinates.
	// Only the axes in Governs are meaningful in the result.
	Forward(actuators []float64) (machine.Position, error)

	// Inverse converts tool coordinates to actuator positions
	Inverse(pos machine.Position) ([]float64, error)

	// ActuatorPosition returns the position of a single slot for pos
	ActuatorPosition(slot int, pos machine.Position) (float64, error)
}

// Mode is the kinematic mode of one rail: which geometry drives it, which
// actuator slot of that geometry it is, and the link lengths.
type Mode struct {
	Kind Kind
	Slot int
	L0   float64 // Base offset (multi-link only)
	L1   float64 // Upper link
	L2   float64 // Lower link
}

// Linear returns the identity mode on one tool axis
func Linear(axis int) Mode {
	return Mode{Kind: KindLinear, Slot: axis}
}

// MultiLinkArm returns the mode for one slot of a multi-link arm.
// Slot 0 is the bed, 1 the shoulder, 2 the arm.
func MultiLinkArm(slot int, l0, l1, l2 float64) Mode {
	return Mode{Kind: KindMultiLinkArm, Slot: slot, L0: l0, L1: l1, L2: l2}
}

// TwoLinkArm returns the mode for one slot of a two-link arm.
// Slot 0 is the shoulder, 1 the arm.
func TwoLinkArm(slot int, l1, l2 float64) Mode {
	return Mode{Kind: KindTwoLinkArm, Slot: slot, L1: l1, L2: l2}
}

// Validate checks link lengths and the slot index
func (m Mode) Validate() error {
	switch m.Kind {
	case KindLinear:
		if m.Slot < 0 || m.Slot > machine.AxisZ {
			return fmt.Errorf("%w: linear axis %d", ErrInvalidMode, m.Slot)
		}
		return nil
	case KindMultiLinkArm:
		if m.L0 <= 0 || m.L1 <= 0 || m.L2 <= 0 {
			return fmt.Errorf("%w: link lengths must be positive (l0=%g l1=%g l2=%g)",
				ErrInvalidMode, m.L0, m.L1, m.L2)
		}
	case KindTwoLinkArm:
		if m.L1 <= 0 || m.L2 <= 0 {
			return fmt.Errorf("%w: link lengths must be positive (l1=%g l2=%g)",
				ErrInvalidMode, m.L1, m.L2)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMode, m.Kind)
	}

	s, err := m.Solver()
	if err != nil {
		return err
	}
	if m.Slot < 0 || m.Slot >= s.Slots() {
		return fmt.Errorf("%w: slot %d out of range for %s", ErrInvalidMode, m.Slot, m.Kind)
	}
	return nil
}

// Degenerate returns the safe homing mode for m: identity on the tool
// axis matching the rail's slot.
func (m Mode) Degenerate() Mode {
	return Linear(m.Slot)
}

// SameGeometry reports whether m and other share kind and link lengths
func (m Mode) SameGeometry(other Mode) bool {
	return m.Kind == other.Kind && m.L0 == other.L0 && m.L1 == other.L1 && m.L2 == other.L2
}

// Solver returns the geometry solver for the mode's kind and parameters
func (m Mode) Solver() (Solver, error) {
	switch m.Kind {
	case KindLinear:
		return cartesian{}, nil
	case KindMultiLinkArm:
		return multiLink{l0: m.L0, l1: m.L1, l2: m.L2}, nil
	case KindTwoLinkArm:
		return twoLink{l1: m.L1, l2: m.L2}, nil
	}
	return nil, fmt.Errorf("%w: no solver for %s", ErrInvalidMode, m.Kind)
}

// ActuatorPosition computes this rail's actuator position for pos
func (m Mode) ActuatorPosition(pos machine.Position) (float64, error) {
	s, err := m.Solver()
	if err != nil {
		return 0, err
	}
	return s.ActuatorPosition(m.Slot, pos)
}

// Auxiliary reports whether the mode's slot is non-positional
func (m Mode) Auxiliary() bool {
	s, err := m.Solver()
	if err != nil {
		return false
	}
	return s.Auxiliary(m.Slot)
}

func (m Mode) String() string {
	switch m.Kind {
	case KindLinear:
		return "linear(" + machine.AxisName(m.Slot) + ")"
	case KindMultiLinkArm:
		return fmt.Sprintf("multilink[%d](l0=%g,l1=%g,l2=%g)", m.Slot, m.L0, m.L1, m.L2)
	case KindTwoLinkArm:
		return fmt.Sprintf("twolink[%d](l1=%g,l2=%g)", m.Slot, m.L1, m.L2)
	}
	return m.Kind.String()
}

func checkSlots(s Solver, actuators []float64) error {
	if len(actuators) != s.Slots() {
		return fmt.Errorf("%w: %s wants %d, got %d", ErrSlotCount, s.Kind(), s.Slots(), len(actuators))
	}
	return nil
}
