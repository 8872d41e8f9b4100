// Package stall notices actuators that are commanded to move but do not.
package stall

import (
	"math"

	"churnrig/pkg/actuator"
)

// Status of one observation.
type Status int

const (
	Ok Status = iota
	Stuck
)

func (s Status) String() string {
	if s == Stuck {
		return "stuck"
	}
	return "ok"
}

const (
	DefaultThresholdTicks = 5
	// DefaultQuantum compares positions at two decimal places.
	DefaultQuantum = 0.01
)

// Record is the per-actuator memory carried between ticks.
//
// Pending is the travel commanded since the value last changed. A tick
// only counts as stable once Pending reaches a full quantum, so an axis
// creeping slower than one quantum per tick is not mistaken for a stuck one.
type Record struct {
	LastValue      int64
	StableTicks    int
	ThresholdTicks int
	Quantum        float64
	Pending        float64
	primed         bool
}

// NewRecord returns a record with the given threshold and default quantum.
// A threshold below 1 uses DefaultThresholdTicks.
func NewRecord(threshold int) *Record {
	if threshold < 1 {
		threshold = DefaultThresholdTicks
	}
	return &Record{ThresholdTicks: threshold, Quantum: DefaultQuantum}
}

func (r *Record) quantum() float64 {
	if r.Quantum <= 0 {
		return DefaultQuantum
	}
	return r.Quantum
}

func (r *Record) quantize(v float64) int64 {
	return int64(math.Round(v / r.quantum()))
}

// Observe compares value with the previous observation. active says whether
// the actuator was commanded to move since then; sample before issuing this
// tick's command. Stuck is returned once the value has held still for more
// than ThresholdTicks active observations.
func (r *Record) Observe(value float64, active bool) Status {
	travel := 0.0
	if active {
		travel = r.quantum()
	}
	return r.ObserveTravel(value, travel)
}

// ObserveTravel is Observe for a caller that knows how far the actuator was
// commanded to move since the previous observation. Zero travel means it
// was idle. Stable ticks are only counted once the commanded travel since
// the last change adds up to at least one quantum.
func (r *Record) ObserveTravel(value, travel float64) Status {
	q := r.quantize(value)
	if travel <= 0 || !r.primed || q != r.LastValue {
		r.LastValue = q
		r.StableTicks = 0
		r.Pending = 0
		r.primed = true
		return Ok
	}
	r.Pending += travel
	if r.Pending < r.quantum() {
		return Ok
	}
	r.StableTicks++
	if r.StableTicks > r.ThresholdTicks {
		return Stuck
	}
	return Ok
}

// Reset forgets history; the next observation primes the record again.
func (r *Record) Reset() {
	r.StableTicks = 0
	r.Pending = 0
	r.primed = false
}

// Travel is how far a moved under its current command during one tick of
// period seconds. It is zero unless a is enabled and unlocked.
func Travel(a *actuator.Actuator, period float64) float64 {
	if !a.Moving() {
		return 0
	}
	return math.Abs(a.Rate()) * period
}

// Detector keeps one Record per actuator.
type Detector struct {
	threshold int
	quantum   float64
	period    float64
	records   map[actuator.ID]*Record
}

// NewDetector creates a detector ticking once a second. quantum <= 0 uses
// DefaultQuantum.
func NewDetector(threshold int, quantum float64) *Detector {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	return &Detector{threshold: threshold, quantum: quantum, period: 1, records: make(map[actuator.ID]*Record)}
}

// SetPeriod sets the seconds between observations. Non-positive values
// are ignored.
func (d *Detector) SetPeriod(seconds float64) {
	if seconds > 0 {
		d.period = seconds
	}
}

// Record returns the record for id, creating it on first use.
func (d *Detector) Record(id actuator.ID) *Record {
	r, ok := d.records[id]
	if !ok {
		r = NewRecord(d.threshold)
		r.Quantum = d.quantum
		d.records[id] = r
	}
	return r
}

// Observe samples a's value against its last commanded state.
func (d *Detector) Observe(a *actuator.Actuator) Status {
	return d.Record(a.ID()).ObserveTravel(a.Value(), Travel(a, d.period))
}

// ResetAll forgets every record; used when a stage changes.
func (d *Detector) ResetAll() {
	for _, r := range d.records {
		r.Reset()
	}
}
