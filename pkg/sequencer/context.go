package sequencer

import (
	"time"

	"churnrig/pkg/actuator"
	"churnrig/pkg/recovery"
	"churnrig/pkg/safety"
	"churnrig/pkg/stall"
)

// Role is the job an actuator does in the cycle.
type Role int

const (
	RoleRotor Role = iota
	RoleShaft
	RoleArm
)

func (r Role) String() string {
	switch r {
	case RoleRotor:
		return "rotor"
	case RoleShaft:
		return "shaft"
	default:
		return "arm"
	}
}

// Rig is the set of devices one cycle owns.
type Rig struct {
	Rotors []*actuator.Actuator
	Shaft  []*actuator.Actuator
	Arms   []*actuator.Actuator
	Drills []actuator.Tool
}

// Axes returns every actuator: rotors, then shaft, then arms.
func (r *Rig) Axes() []*actuator.Actuator {
	out := make([]*actuator.Actuator, 0, len(r.Rotors)+len(r.Shaft)+len(r.Arms))
	out = append(out, r.Rotors...)
	out = append(out, r.Shaft...)
	return append(out, r.Arms...)
}

// Stepping returns the linear actuators in the order they are extended:
// shaft pistons first, then arm pistons.
func (r *Rig) Stepping() []*actuator.Actuator {
	out := make([]*actuator.Actuator, 0, len(r.Shaft)+len(r.Arms))
	out = append(out, r.Shaft...)
	return append(out, r.Arms...)
}

// AxisState is the cross-tick memory kept per actuator.
type AxisState struct {
	Role    Role
	Stall   *stall.Record
	Episode recovery.Episode

	// PulseTicks counts down a recovery pulse at PulseRate.
	PulseTicks int
	PulseRate  float64
	pulsing    bool

	// Settled marks an axis that reached its rest position during Homing.
	Settled bool

	prev, last float64
	sampled    bool
}

// Pulsing reports whether the axis was driven by a recovery pulse this tick.
func (s *AxisState) Pulsing() bool { return s.pulsing }

type rotorTrack struct {
	last      float64
	travelled float64
	peak      float64
	done      bool
}

// Context is everything the cycle remembers between ticks. It is created
// on start, advanced once per tick by Sequencer.Step and dropped once the
// stage is terminal.
type Context struct {
	RunID string
	Stage Stage
	// Direction is +1 or -1 and flips after every rotation.
	Direction float64
	// Progress is the degrees turned so far in the current Drilling stage.
	Progress     float64
	TicksInStage int
	StepIndex    int
	Rotations    int
	Tick         int
	Stalls       int
	Reason       string
	Err          error
	StartedAt    time.Time

	Rig       *Rig
	Interlock *safety.Interlock

	axes       map[actuator.ID]*AxisState
	rotors     []rotorTrack
	stepAxis   int
	stepTarget float64
}

// NewContext takes ownership of rig for one cycle.
func NewContext(rig *Rig, runID string) *Context {
	ctx := &Context{
		RunID:     runID,
		Stage:     Begin,
		Direction: 1,
		StartedAt: time.Now(),
		Rig:       rig,
		Interlock: safety.New(),
		axes:      make(map[actuator.ID]*AxisState),
		rotors:    make([]rotorTrack, len(rig.Rotors)),
	}
	for _, group := range []struct {
		role Role
		as   []*actuator.Actuator
	}{{RoleRotor, rig.Rotors}, {RoleShaft, rig.Shaft}, {RoleArm, rig.Arms}} {
		for _, a := range group.as {
			ctx.axes[a.ID()] = &AxisState{Role: group.role, Stall: stall.NewRecord(0)}
		}
	}

	tools := make([]safety.Switch, 0, len(rig.Drills))
	for _, d := range rig.Drills {
		tools = append(tools, d)
	}
	axes := make([]safety.Haltable, 0, len(ctx.axes))
	for _, a := range rig.Axes() {
		axes = append(axes, a)
	}
	ctx.Interlock.Guard(tools, axes)
	return ctx
}

// Axis returns the state kept for a.
func (c *Context) Axis(a *actuator.Actuator) *AxisState {
	return c.axes[a.ID()]
}

// Done reports whether the cycle reached a terminal stage.
func (c *Context) Done() bool {
	return c.Stage.Terminal()
}

// AxisSnapshot describes one actuator for status reports.
type AxisSnapshot struct {
	Name    string  `json:"name"`
	Role    string  `json:"role"`
	Value   float64 `json:"value"`
	Rate    float64 `json:"rate"`
	Enabled bool    `json:"enabled"`
	Locked  bool    `json:"locked,omitempty"`
}

// Snapshot is a copy of the context safe to hand to other goroutines.
type Snapshot struct {
	RunID        string         `json:"run_id"`
	Stage        string         `json:"stage"`
	Direction    float64        `json:"direction"`
	Progress     float64        `json:"progress"`
	TicksInStage int            `json:"ticks_in_stage"`
	StepIndex    int            `json:"step_index"`
	Rotations    int            `json:"rotations"`
	Tick         int            `json:"tick"`
	Stalls       int            `json:"stalls"`
	Reason       string         `json:"reason,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	Axes         []AxisSnapshot `json:"axes"`
}

// Snapshot copies the reportable state.
func (c *Context) Snapshot() Snapshot {
	s := Snapshot{
		RunID:        c.RunID,
		Stage:        c.Stage.String(),
		Direction:    c.Direction,
		Progress:     c.Progress,
		TicksInStage: c.TicksInStage,
		StepIndex:    c.StepIndex,
		Rotations:    c.Rotations,
		Tick:         c.Tick,
		Stalls:       c.Stalls,
		Reason:       c.Reason,
		StartedAt:    c.StartedAt,
	}
	for _, a := range c.Rig.Axes() {
		s.Axes = append(s.Axes, AxisSnapshot{
			Name:    a.Name(),
			Role:    c.Axis(a).Role.String(),
			Value:   a.Value(),
			Rate:    a.Rate(),
			Enabled: a.Enabled(),
			Locked:  a.Locked(),
		})
	}
	return s
}
