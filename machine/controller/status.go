package controller

import (
	"gokin/machine"
	"gokin/machine/homing"
)

// RailStatus reports one rail
type RailStatus struct {
	Name          string  `json:"name"`
	ActiveMode    string  `json:"active_mode"`
	OperatingMode string  `json:"operating_mode"`
	HomingState   string  `json:"homing_state"`
	Position      float64 `json:"position"`
	Auxiliary     bool    `json:"auxiliary,omitempty"`
}

// Status is the kinematics state exposed to the front end
type Status struct {
	EventTime   float64          `json:"eventtime"`
	Kinematics  string           `json:"kinematics"`
	HomedAxes   string           `json:"homed_axes"`
	AxisMinimum machine.Position `json:"axis_minimum"`
	AxisMaximum machine.Position `json:"axis_maximum"`
	Position    machine.Position `json:"position"`
	Rails       []RailStatus     `json:"rails"`
}

// Status returns a snapshot of the kinematics state. It does not wait for
// a running homing sequence.
func (c *Controller) Status(eventtime float64) Status {
	st := Status{
		EventTime:  eventtime,
		Kinematics: c.geom.Kind.String(),
		HomedAxes:  c.HomedAxes().String(),
		Position:   c.engine.Position(),
	}
	for axis := machine.AxisX; axis <= machine.AxisZ; axis++ {
		st.AxisMinimum[axis], st.AxisMaximum[axis] = c.axisRange(axis)
	}

	states := c.orch.States()
	for _, r := range c.rails {
		hs, ok := states[r.Name()]
		if !ok {
			hs = homing.Idle
		}
		st.Rails = append(st.Rails, RailStatus{
			Name:          r.Name(),
			ActiveMode:    r.ActiveMode().String(),
			OperatingMode: r.OperatingMode().String(),
			HomingState:   hs.String(),
			Position:      r.Position(),
			Auxiliary:     r.Auxiliary(),
		})
	}
	return st
}
