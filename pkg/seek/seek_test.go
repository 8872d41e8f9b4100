package seek

import (
	"math"
	"testing"

	"churnrig/pkg/actuator"
)

// device moves exactly rate*dt per step when enabled and unlocked.
type device struct {
	kind     actuator.Kind
	pos      float64
	min, max float64
	rate     float64
	enabled  bool
	locked   bool
}

func (d *device) ID() actuator.ID            { return "dev" }
func (d *device) Name() string               { return "dev" }
func (d *device) Kind() actuator.Kind        { return d.kind }
func (d *device) Position() float64          { return d.pos }
func (d *device) Limits() (float64, float64) { return d.min, d.max }
func (d *device) SetVelocity(r float64)      { d.rate = r }
func (d *device) SetEnabled(e bool)          { d.enabled = e }
func (d *device) SetLocked(l bool)           { d.locked = l }

func (d *device) step(dt float64) {
	if !d.enabled || d.locked {
		return
	}
	d.pos += d.rate * dt
	if d.kind == actuator.Linear {
		d.pos = math.Max(d.min, math.Min(d.max, d.pos))
	}
}

func TestRate(t *testing.T) {
	p := Params{MaxRate: 0.2, Tolerance: 0.01, MinRate: 0.005}
	tests := []struct {
		delta, want float64
	}{
		{1.0, 0.2},
		{-1.0, -0.2},
		{0.1, 0.05},
		{0.004, 0.005},
		{-0.004, -0.005},
	}
	for _, tt := range tests {
		if got := Rate(tt.delta, p); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Rate(%v) = %v, want %v", tt.delta, got, tt.want)
		}
	}
}

func TestRamp(t *testing.T) {
	if got := Ramp(5, 0, 5); got != 1 {
		t.Errorf("expected first tick at 1/5, got %v", got)
	}
	if got := Ramp(5, 4, 5); got != 5 {
		t.Errorf("expected full rate at tick 4, got %v", got)
	}
	if got := Ramp(5, 100, 5); got != 5 {
		t.Errorf("expected full rate after ramp, got %v", got)
	}
	if got := Ramp(5, 0, 0); got != 5 {
		t.Errorf("expected no ramp when disabled, got %v", got)
	}
}

func TestSeekLinearConverges(t *testing.T) {
	p := Params{MaxRate: 0.2, Tolerance: 0.01, MinRate: 0.005}
	for _, tc := range []struct{ start, target float64 }{
		{0, 1.5}, {2, 0.25}, {0.7, 0.705}, {1, 1}, {0, 2},
	} {
		dev := &device{kind: actuator.Linear, pos: tc.start, min: 0, max: 2}
		a := actuator.New(dev)
		delta0 := math.Abs(tc.target - tc.start)
		bound := int(math.Ceil(delta0/p.MaxRate)) + int(math.Ceil(math.Log2(delta0/p.Tolerance+1))) + 5

		reached := false
		for tick := 0; tick <= bound; tick++ {
			if Seek(a, tc.target, p) == Reached {
				reached = true
				break
			}
			before := tc.target - dev.pos
			dev.step(1)
			after := tc.target - dev.pos
			if math.Abs(after) > p.Tolerance && math.Signbit(after) != math.Signbit(before) {
				t.Fatalf("%v->%v overshot at tick %d: %v", tc.start, tc.target, tick, dev.pos)
			}
		}
		if !reached {
			t.Fatalf("%v->%v did not converge within %d ticks (at %v)", tc.start, tc.target, bound, dev.pos)
		}
		if math.Abs(dev.pos-tc.target) > p.Tolerance {
			t.Errorf("%v->%v finished outside tolerance: %v", tc.start, tc.target, dev.pos)
		}
		if dev.enabled || dev.rate != 0 {
			t.Errorf("%v->%v expected stopped and disabled, got %+v", tc.start, tc.target, dev)
		}
	}
}

func TestSeekRotaryTakesShortestPath(t *testing.T) {
	p := Params{MaxRate: 5, Tolerance: 0.1, MinRate: 0.05}
	dev := &device{kind: actuator.Rotary, pos: 350}
	a := actuator.New(dev)

	if Seek(a, 10, p) != Converging {
		t.Fatal("expected converging")
	}
	if dev.rate <= 0 {
		t.Errorf("expected positive rate across 0, got %v", dev.rate)
	}

	for tick := 0; tick < 100; tick++ {
		if Seek(a, 10, p) == Reached {
			if !dev.locked || dev.enabled {
				t.Errorf("expected rotor locked and disabled, got %+v", dev)
			}
			if math.Abs(actuator.AngularDelta(a.Value(), 10)) > p.Tolerance {
				t.Errorf("finished at %v", a.Value())
			}
			return
		}
		dev.step(1)
	}
	t.Fatalf("rotor did not converge, at %v", a.Value())
}

func TestTowardUnlocksBeforeMoving(t *testing.T) {
	dev := &device{kind: actuator.Rotary, locked: true}
	a := actuator.New(dev)
	a.SetLocked(true)

	Toward(a, 90, Params{MaxRate: 5, Tolerance: 0.1})
	if dev.locked || !dev.enabled || dev.rate != 5 {
		t.Errorf("expected unlocked rotor at 5 deg/s, got %+v", dev)
	}
}
