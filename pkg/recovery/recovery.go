// Package recovery decides what to do with an actuator that stalled.
//
// A retracting piston that stalls has most likely hit its physical stop, so
// it is reversed and the stop is taken as its new rest position. Anything
// driving outward first gets one shimmy: a short, slower pulse in the
// opposite direction to free it. Each remedy is tried once per stall
// episode; running out of remedies aborts the cycle.
package recovery

import (
	"math"

	"churnrig/pkg/actuator"
)

// Action is the remedy chosen for a stall.
type Action int

const (
	Reverse Action = iota
	Shimmy
	Abort
)

func (a Action) String() string {
	switch a {
	case Reverse:
		return "reverse"
	case Shimmy:
		return "shimmy"
	default:
		return "abort"
	}
}

// Direction of travel at the time of a stall.
type Direction int

const (
	Extending Direction = iota
	Retracting
)

func (d Direction) String() string {
	if d == Retracting {
		return "retracting"
	}
	return "extending"
}

// DirectionOf classifies the last command: a linear actuator commanded
// toward its minimum is retracting; everything else, rotors included, is
// treated as extending.
func DirectionOf(a *actuator.Actuator) Direction {
	if a.Kind() == actuator.Linear && a.Rate() < 0 {
		return Retracting
	}
	return Extending
}

const (
	DefaultShimmyTicks  = 3
	DefaultShimmyFactor = 0.5
)

// Policy holds the tunables. The zero value disables shimmying.
type Policy struct {
	ShimmyEnabled bool
	ShimmyTicks   int
	ShimmyFactor  float64
	// MinRate is the slowest pulse worth sending.
	MinRate float64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{ShimmyEnabled: true, ShimmyTicks: DefaultShimmyTicks, ShimmyFactor: DefaultShimmyFactor}
}

// Episode tracks remedies already used since the actuator last moved.
type Episode struct {
	Reversed    bool
	ShimmyTried bool
	Stalls      int
}

// Confirm records that the actuator moved under a normal command; the next
// stall starts a fresh episode.
func (e *Episode) Confirm() {
	*e = Episode{}
}

// Active reports whether a remedy has been used in this episode.
func (e *Episode) Active() bool {
	return e.Reversed || e.ShimmyTried
}

// Decision is the outcome of Decide. Pulse fields are set for Shimmy.
type Decision struct {
	Action     Action
	Direction  Direction
	PulseRate  float64
	PulseTicks int
}

// Decide picks the remedy for a stalled actuator and records it in ep.
func (p Policy) Decide(ep *Episode, a *actuator.Actuator) Decision {
	ep.Stalls++
	dir := DirectionOf(a)
	d := Decision{Action: Abort, Direction: dir}

	switch {
	case dir == Retracting && !ep.Reversed:
		ep.Reversed = true
		d.Action = Reverse
	case dir == Extending && p.ShimmyEnabled && !ep.ShimmyTried:
		ep.ShimmyTried = true
		d.Action = Shimmy
		d.PulseTicks = p.ShimmyTicks
		if d.PulseTicks < 1 {
			d.PulseTicks = DefaultShimmyTicks
		}
		factor := p.ShimmyFactor
		if factor <= 0 {
			factor = DefaultShimmyFactor
		}
		mag := math.Max(math.Abs(a.Rate())*factor, p.MinRate)
		sign := 1.0
		if a.Rate() > 0 {
			sign = -1
		}
		d.PulseRate = sign * mag
	}
	return d
}
