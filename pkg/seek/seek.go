// Package seek drives one actuator toward a target, one tick at a time.
package seek

import (
	"math"

	"churnrig/pkg/actuator"
)

// Outcome of a single seek step.
type Outcome int

const (
	Converging Outcome = iota
	Reached
)

func (o Outcome) String() string {
	if o == Reached {
		return "reached"
	}
	return "converging"
}

// Params bound one seek step. MinRate is the creep floor that keeps a slow
// approach from stalling; keep MinRate*tick period at or below 2*Tolerance
// to avoid overshooting the band.
type Params struct {
	MaxRate   float64
	Tolerance float64
	MinRate   float64
}

// Seek commands a toward target and reports whether it is already there.
// The target is used as given; clamp linear targets with ClampTarget first.
func Seek(a *actuator.Actuator, target float64, p Params) Outcome {
	return Toward(a, a.Distance(a.Value(), target), p)
}

// Toward is Seek for callers that track the remaining distance themselves,
// such as a full rotation where target and start angle coincide.
func Toward(a *actuator.Actuator, delta float64, p Params) Outcome {
	if math.Abs(delta) <= p.Tolerance {
		a.SetRate(0)
		a.SetEnabled(false)
		a.SetLocked(true)
		return Reached
	}
	a.SetLocked(false)
	a.SetEnabled(true)
	a.SetRate(Rate(delta, p))
	return Converging
}

// Rate is half the remaining distance per second, clamped to ±MaxRate and
// never slower than MinRate.
func Rate(delta float64, p Params) float64 {
	limit := math.Abs(p.MaxRate)
	rate := math.Max(-limit, math.Min(limit, delta/2))
	if math.Abs(rate) < p.MinRate {
		rate = math.Copysign(p.MinRate, delta)
	}
	return rate
}

// Ramp scales limit linearly over the first rampTicks ticks of a stage.
// tick counts from zero; the first tick already gets 1/rampTicks of limit.
func Ramp(limit float64, tick, rampTicks int) float64 {
	if rampTicks <= 1 || tick+1 >= rampTicks {
		return limit
	}
	return limit * float64(tick+1) / float64(rampTicks)
}
