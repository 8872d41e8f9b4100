// Package actuator gives the cycle engine one view of the rig's motion
// devices. Pistons are Linear, rotors are Rotary; drills are on/off Tools.
package actuator

import (
	"math"

	rigerrors "churnrig/pkg/errors"
)

// Kind distinguishes distance semantics.
type Kind int

const (
	Linear Kind = iota
	Rotary
)

func (k Kind) String() string {
	if k == Rotary {
		return "rotary"
	}
	return "linear"
}

// ID is an opaque, stable device handle.
type ID string

// Device is a physical motion device as the host exposes it. Rotary
// positions are in degrees and may be reported outside [0, 360).
type Device interface {
	ID() ID
	Name() string
	Kind() Kind
	Position() float64
	// Limits is only meaningful for Linear devices.
	Limits() (min, max float64)
	SetVelocity(rate float64)
	SetEnabled(enabled bool)
}

// Lockable is implemented by rotary devices with a brake.
type Lockable interface {
	SetLocked(locked bool)
}

// Tool is an on/off device carried by the rig, such as a drill head.
type Tool interface {
	ID() ID
	Name() string
	SetEnabled(enabled bool)
}

// Resolver finds devices by group name or name pattern, and reports whether
// a previously resolved handle still exists.
type Resolver interface {
	ResolveActuators(pattern string, kind Kind) []Device
	ResolveTools(pattern string) []Tool
	Exists(id ID) bool
}

// Actuator wraps a Device and remembers what was last commanded.
type Actuator struct {
	dev      Device
	kind     Kind
	min, max float64
	rate     float64
	enabled  bool
	locked   bool
}

// New wraps dev. Linear limits are read once; rotary limits are 0..360.
func New(dev Device) *Actuator {
	a := &Actuator{dev: dev, kind: dev.Kind(), min: 0, max: 360}
	if a.kind == Linear {
		a.min, a.max = dev.Limits()
		if a.min > a.max {
			a.min, a.max = a.max, a.min
		}
	}
	return a
}

func (a *Actuator) ID() ID         { return a.dev.ID() }
func (a *Actuator) Name() string   { return a.dev.Name() }
func (a *Actuator) Kind() Kind     { return a.kind }
func (a *Actuator) Min() float64   { return a.min }
func (a *Actuator) Max() float64   { return a.max }
func (a *Actuator) Rate() float64  { return a.rate }
func (a *Actuator) Enabled() bool  { return a.enabled }
func (a *Actuator) Locked() bool   { return a.locked }
func (a *Actuator) Device() Device { return a.dev }

// Value is the current position; rotary values are normalized to [0, 360).
func (a *Actuator) Value() float64 {
	v := a.dev.Position()
	if a.kind == Rotary {
		return Wrap(v)
	}
	return v
}

// SetRate commands a signed rate. A locked rotor ignores it physically but
// the intended rate is kept.
func (a *Actuator) SetRate(rate float64) {
	a.rate = rate
	a.dev.SetVelocity(rate)
}

func (a *Actuator) SetEnabled(enabled bool) {
	a.enabled = enabled
	a.dev.SetEnabled(enabled)
}

// SetLocked engages or releases a rotor brake. Linear actuators ignore it.
func (a *Actuator) SetLocked(locked bool) {
	if a.kind != Rotary {
		return
	}
	a.locked = locked
	if l, ok := a.dev.(Lockable); ok {
		l.SetLocked(locked)
	}
}

// Moving reports whether the last command asks the device to move.
func (a *Actuator) Moving() bool {
	return a.enabled && !a.locked && a.rate != 0
}

// Halt zeroes the rate, disables the device and locks rotors.
func (a *Actuator) Halt() {
	a.SetRate(0)
	a.SetEnabled(false)
	a.SetLocked(true)
}

// Distance is the signed travel from one position to another: plain
// subtraction for Linear, shortest angular path for Rotary.
func (a *Actuator) Distance(from, to float64) float64 {
	if a.kind == Rotary {
		return AngularDelta(from, to)
	}
	return to - from
}

// ClampTarget limits a linear target to [min, max]. The returned error is a
// BoundaryError when clamping happened; it is informational only.
func (a *Actuator) ClampTarget(target float64) (float64, error) {
	if a.kind == Rotary {
		return Wrap(target), nil
	}
	if target < a.min || target > a.max {
		clamped := math.Max(a.min, math.Min(a.max, target))
		return clamped, rigerrors.BoundaryError(a.Name(), target, a.min, a.max)
	}
	return target, nil
}

// AtMax reports whether a linear actuator is within tol of its max bound.
func (a *Actuator) AtMax(tol float64) bool {
	return a.max-a.Value() <= tol
}

// Wrap normalizes an angle to [0, 360).
func Wrap(deg float64) float64 {
	w := math.Mod(deg, 360)
	if w < 0 {
		w += 360
	}
	if w >= 360 {
		w = 0
	}
	return w
}

// AngularDelta is the signed shortest rotation from one angle to another,
// in (-180, 180].
func AngularDelta(from, to float64) float64 {
	d := Wrap(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}
