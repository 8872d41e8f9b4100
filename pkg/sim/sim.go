// Package sim is an in-memory mining rig: pistons, rotors and drills that
// respond to commands immediately and exactly. It backs the simulate
// command and the engine's tests.
//
// Devices only move when Step is called, so a caller decides how much
// simulated time passes per tick.
package sim

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"churnrig/pkg/actuator"
)

// Rig holds every simulated device and the named groups over them.
type Rig struct {
	mu      sync.Mutex
	devices map[string]device
	order   []string
	groups  map[string][]string
	frozen  map[string]int
	elapsed float64
}

type device interface {
	name() string
	step(dt float64)
}

// New returns an empty rig.
func New() *Rig {
	return &Rig{
		devices: make(map[string]device),
		groups:  make(map[string][]string),
		frozen:  make(map[string]int),
	}
}

func (r *Rig) add(d device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[d.name()]; !ok {
		r.order = append(r.order, d.name())
	}
	r.devices[d.name()] = d
}

// AddPiston adds a linear device travelling between min and max.
func (r *Rig) AddPiston(name string, min, max, pos float64) *Piston {
	p := &Piston{rig: r, id: name, min: min, max: max, pos: pos}
	r.add(p)
	return p
}

// AddRotor adds a rotary device at angle degrees.
func (r *Rig) AddRotor(name string, angle float64) *Rotor {
	rt := &Rotor{rig: r, id: name, angle: angle}
	r.add(rt)
	return rt
}

// AddDrill adds an on/off tool.
func (r *Rig) AddDrill(name string) *Drill {
	d := &Drill{rig: r, id: name}
	r.add(d)
	return d
}

// Group names a set of devices so they can be resolved together.
func (r *Rig) Group(name string, members ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[strings.ToLower(name)] = append([]string(nil), members...)
}

// Freeze holds a device in place for the next ticks steps, whatever it is
// commanded to do.
func (r *Rig) Freeze(name string, ticks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen[name] = ticks
}

// Remove takes a device out of the world. Handles to it keep working but
// Exists reports false.
func (r *Rig) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, name)
}

// Step advances the world by dt seconds.
func (r *Rig) Step(dt float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elapsed += dt
	for _, n := range r.order {
		d, ok := r.devices[n]
		if !ok {
			continue
		}
		if left := r.frozen[n]; left > 0 {
			r.frozen[n] = left - 1
			continue
		}
		d.step(dt)
	}
}

// Elapsed is the simulated time in seconds.
func (r *Rig) Elapsed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// ResolveActuators returns the devices of kind in the group called pattern,
// or, when no such group exists, every device whose name contains pattern.
// Matching is case-insensitive.
func (r *Rig) ResolveActuators(pattern string, kind actuator.Kind) []actuator.Device {
	var out []actuator.Device
	for _, d := range r.resolve(pattern) {
		if a, ok := d.(actuator.Device); ok && a.Kind() == kind {
			out = append(out, a)
		}
	}
	return out
}

// ResolveTools is ResolveActuators for drills.
func (r *Rig) ResolveTools(pattern string) []actuator.Tool {
	var out []actuator.Tool
	for _, d := range r.resolve(pattern) {
		if t, ok := d.(*Drill); ok {
			out = append(out, t)
		}
	}
	return out
}

// Exists reports whether the device is still part of the rig.
func (r *Rig) Exists(id actuator.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[string(id)]
	return ok
}

func (r *Rig) resolve(pattern string) []device {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(pattern))
	if key == "" {
		return nil
	}
	var out []device
	if members, ok := r.groups[key]; ok {
		for _, n := range members {
			if d, ok := r.devices[n]; ok {
				out = append(out, d)
			}
		}
		return out
	}
	for _, n := range r.order {
		d, ok := r.devices[n]
		if ok && strings.Contains(strings.ToLower(n), key) {
			out = append(out, d)
		}
	}
	return out
}

// Names lists the devices still in the rig, sorted.
func (r *Rig) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.devices))
	for n := range r.devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Piston is a linear device.
type Piston struct {
	rig      *Rig
	id       string
	min, max float64
	pos, vel float64
	enabled  bool
}

func (p *Piston) name() string { return p.id }

func (p *Piston) step(dt float64) {
	if !p.enabled {
		return
	}
	p.pos = math.Max(p.min, math.Min(p.max, p.pos+p.vel*dt))
}

func (p *Piston) ID() actuator.ID            { return actuator.ID(p.id) }
func (p *Piston) Name() string               { return p.id }
func (p *Piston) Kind() actuator.Kind        { return actuator.Linear }
func (p *Piston) Limits() (float64, float64) { return p.min, p.max }

func (p *Piston) Position() float64 {
	p.rig.mu.Lock()
	defer p.rig.mu.Unlock()
	return p.pos
}

func (p *Piston) SetVelocity(rate float64) {
	p.rig.mu.Lock()
	defer p.rig.mu.Unlock()
	p.vel = rate
}

func (p *Piston) SetEnabled(enabled bool) {
	p.rig.mu.Lock()
	defer p.rig.mu.Unlock()
	p.enabled = enabled
}

// Velocity is the last commanded rate.
func (p *Piston) Velocity() float64 {
	p.rig.mu.Lock()
	defer p.rig.mu.Unlock()
	return p.vel
}

// Rotor is a rotary device with a brake.
type Rotor struct {
	rig     *Rig
	id      string
	angle   float64
	vel     float64
	enabled bool
	locked  bool
}

func (rt *Rotor) name() string { return rt.id }

func (rt *Rotor) step(dt float64) {
	if rt.enabled && !rt.locked {
		rt.angle += rt.vel * dt
	}
}

func (rt *Rotor) ID() actuator.ID            { return actuator.ID(rt.id) }
func (rt *Rotor) Name() string               { return rt.id }
func (rt *Rotor) Kind() actuator.Kind        { return actuator.Rotary }
func (rt *Rotor) Limits() (float64, float64) { return 0, 360 }

// Position is the raw, unwrapped angle.
func (rt *Rotor) Position() float64 {
	rt.rig.mu.Lock()
	defer rt.rig.mu.Unlock()
	return rt.angle
}

func (rt *Rotor) SetVelocity(rate float64) {
	rt.rig.mu.Lock()
	defer rt.rig.mu.Unlock()
	rt.vel = rate
}

func (rt *Rotor) SetEnabled(enabled bool) {
	rt.rig.mu.Lock()
	defer rt.rig.mu.Unlock()
	rt.enabled = enabled
}

func (rt *Rotor) SetLocked(locked bool) {
	rt.rig.mu.Lock()
	defer rt.rig.mu.Unlock()
	rt.locked = locked
}

// Velocity is the last commanded rate.
func (rt *Rotor) Velocity() float64 {
	rt.rig.mu.Lock()
	defer rt.rig.mu.Unlock()
	return rt.vel
}

// Locked reports the brake state.
func (rt *Rotor) Locked() bool {
	rt.rig.mu.Lock()
	defer rt.rig.mu.Unlock()
	return rt.locked
}

// Drill is an on/off tool.
type Drill struct {
	rig     *Rig
	id      string
	enabled bool
	onTime  float64
}

func (d *Drill) name() string { return d.id }

func (d *Drill) step(dt float64) {
	if d.enabled {
		d.onTime += dt
	}
}

func (d *Drill) ID() actuator.ID { return actuator.ID(d.id) }
func (d *Drill) Name() string    { return d.id }

func (d *Drill) SetEnabled(enabled bool) {
	d.rig.mu.Lock()
	defer d.rig.mu.Unlock()
	d.enabled = enabled
}

// Enabled reports whether the drill is running.
func (d *Drill) Enabled() bool {
	d.rig.mu.Lock()
	defer d.rig.mu.Unlock()
	return d.enabled
}

// OnTime is the simulated seconds the drill has run.
func (d *Drill) OnTime() float64 {
	d.rig.mu.Lock()
	defer d.rig.mu.Unlock()
	return d.onTime
}

// Layout describes a rig built by NewMiningRig.
type Layout struct {
	Rotors       int
	Drills       int
	ShaftPistons int
	ArmPistons   int
	// PistonMax is the travel of every piston, which all start retracted.
	PistonMax float64
}

// DefaultLayout is a small rig: one rotor, two shaft pistons, one arm
// piston and four drills.
func DefaultLayout() Layout {
	return Layout{Rotors: 1, Drills: 4, ShaftPistons: 2, ArmPistons: 1, PistonMax: 10}
}

// NewMiningRig builds a rig with the groups "Rotors", "Shaft", "Arms" and
// "Drills".
func NewMiningRig(l Layout) *Rig {
	r := New()
	var rotors, shaft, arms, drills []string
	for i := 1; i <= l.Rotors; i++ {
		n := fmt.Sprintf("Rotor %d", i)
		r.AddRotor(n, 0)
		rotors = append(rotors, n)
	}
	for i := 1; i <= l.ShaftPistons; i++ {
		n := fmt.Sprintf("Shaft Piston %d", i)
		r.AddPiston(n, 0, l.PistonMax, 0)
		shaft = append(shaft, n)
	}
	for i := 1; i <= l.ArmPistons; i++ {
		n := fmt.Sprintf("Arm Piston %d", i)
		r.AddPiston(n, 0, l.PistonMax, 0)
		arms = append(arms, n)
	}
	for i := 1; i <= l.Drills; i++ {
		n := fmt.Sprintf("Drill %d", i)
		r.AddDrill(n)
		drills = append(drills, n)
	}
	r.Group("Rotors", rotors...)
	r.Group("Shaft", shaft...)
	r.Group("Arms", arms...)
	r.Group("Drills", drills...)
	return r
}
