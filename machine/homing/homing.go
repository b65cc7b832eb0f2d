// Package homing runs the reference search for a set of rails: swap to the
// degenerate linear mapping, search for the endstop, restore the true
// mapping and commit the reference coordinate.
package homing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gokin/machine"
	"gokin/machine/rail"
)

var (
	// ErrEndstopNeverTriggered is returned when the search exhausts its
	// probe budget or times out without a trigger
	ErrEndstopNeverTriggered = errors.New("endstop never triggered")

	// ErrCancelled is returned when homing is aborted by the caller
	ErrCancelled = errors.New("homing cancelled")

	// ErrNoEndstop is returned for a rail with nothing to search for
	ErrNoEndstop = errors.New("rail has no endstop")
)

// State of one rail's homing sequence
type State uint8

const (
	Idle State = iota
	PreparingSafeMode
	Searching
	Captured
	RestoringMode
	Committed
	Failed
)

var stateNames = [...]string{
	Idle:              "idle",
	PreparingSafeMode: "preparing_safe_mode",
	Searching:         "searching",
	Captured:          "captured",
	RestoringMode:     "restoring_mode",
	Committed:         "committed",
	Failed:            "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Protocol selects how the endstop is searched for
type Protocol uint8

const (
	// ProtocolBulk issues one engine homing move per rail
	ProtocolBulk Protocol = iota
	// ProtocolManual steps the actuator in small moves, querying the
	// endstop between moves
	ProtocolManual
)

func (p Protocol) String() string {
	if p == ProtocolManual {
		return "manual"
	}
	return "bulk"
}

// ParseProtocol converts a config name to a Protocol
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "", "bulk":
		return ProtocolBulk, nil
	case "manual":
		return ProtocolManual, nil
	}
	return 0, fmt.Errorf("unknown homing protocol %q", s)
}

// Config holds the search parameters
type Config struct {
	Protocol   Protocol
	ProbeStep  float64       // Manual probe distance
	ProbeSpeed float64       // Manual probe speed
	ProbeAccel float64       // Manual probe acceleration
	MaxProbes  int           // Manual probe budget per endstop
	Timeout    time.Duration // Wall-clock bound for one request (0 = none)
	Overtravel float64       // Forced start distance as a multiple of the reference-to-limit span
}

// DefaultConfig returns the stock search parameters
func DefaultConfig() Config {
	return Config{
		Protocol:   ProtocolBulk,
		ProbeStep:  0.1,
		ProbeSpeed: 200,
		ProbeAccel: 200,
		MaxProbes:  2000,
		Timeout:    30 * time.Second,
		Overtravel: 1.5,
	}
}

// ForcedTarget returns the position the rail is assumed to start from so
// a search toward the reference can cover the whole range. A positive
// search starts beyond the minimum, a negative one beyond the maximum.
func ForcedTarget(info rail.HomingInfo, min, max, overtravel float64) float64 {
	ref := info.PositionEndstop
	if info.Direction == rail.Positive {
		return ref - overtravel*(ref-min)
	}
	return ref + overtravel*(max-ref)
}

// Positioner commits the post-homing tool position
type Positioner interface {
	SetPosition(pos machine.Position, axes machine.AxesMask) error
}

// Request lists the rails to home together
type Request struct {
	Rails []*rail.Rail

	// CommitAxes and CommitPosition override the committed coordinate.
	// When CommitAxes is empty each rail's reference is committed on the
	// axis its degenerate mode follows.
	CommitAxes     machine.AxesMask
	CommitPosition machine.Position

	Positioner Positioner
}

// Result reports a finished homing request
type Result struct {
	Captured map[string]float64 // Actuator position at trigger time, by rail
	Position machine.Position   // Committed tool position
	Axes     machine.AxesMask   // Committed axes
	Protocol Protocol
	Duration time.Duration
}
