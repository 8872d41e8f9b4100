package actuator

import (
	"math"
	"testing"

	rigerrors "churnrig/pkg/errors"
)

type fakeDevice struct {
	id       ID
	kind     Kind
	pos      float64
	min, max float64
	velocity float64
	enabled  bool
	locked   bool
}

func (d *fakeDevice) ID() ID                     { return d.id }
func (d *fakeDevice) Name() string               { return string(d.id) }
func (d *fakeDevice) Kind() Kind                 { return d.kind }
func (d *fakeDevice) Position() float64          { return d.pos }
func (d *fakeDevice) Limits() (float64, float64) { return d.min, d.max }
func (d *fakeDevice) SetVelocity(r float64)      { d.velocity = r }
func (d *fakeDevice) SetEnabled(e bool)          { d.enabled = e }
func (d *fakeDevice) SetLocked(l bool)           { d.locked = l }

func TestAngularDelta(t *testing.T) {
	tests := []struct {
		from, to, want float64
	}{
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
		{180, 0, 180},
		{90, 90, 0},
		{-30, 30, 60},
		{720, 1, 1},
		{0, 359.5, -0.5},
	}
	for _, tt := range tests {
		got := AngularDelta(tt.from, tt.to)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("AngularDelta(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
		if got <= -180 || got > 180 {
			t.Errorf("AngularDelta(%v, %v) = %v outside (-180, 180]", tt.from, tt.to, got)
		}
	}
}

func TestWrap(t *testing.T) {
	for in, want := range map[float64]float64{0: 0, 360: 0, -90: 270, 725: 5, -1e-15: 0} {
		got := Wrap(in)
		if math.Abs(got-want) > 1e-9 || got < 0 || got >= 360 {
			t.Errorf("Wrap(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestRotaryValueNormalized(t *testing.T) {
	dev := &fakeDevice{id: "rotor", kind: Rotary, pos: -45}
	a := New(dev)
	if a.Value() != 315 {
		t.Errorf("expected 315, got %v", a.Value())
	}
	if a.Min() != 0 || a.Max() != 360 {
		t.Errorf("expected rotary limits 0..360, got %v..%v", a.Min(), a.Max())
	}
}

func TestLockKeepsIntendedRate(t *testing.T) {
	dev := &fakeDevice{id: "rotor", kind: Rotary}
	a := New(dev)
	a.SetEnabled(true)
	a.SetLocked(true)
	a.SetRate(3)

	if a.Rate() != 3 || dev.velocity != 3 {
		t.Errorf("expected stored rate 3, got %v (device %v)", a.Rate(), dev.velocity)
	}
	if a.Moving() {
		t.Error("a locked rotor is not moving")
	}
	a.SetLocked(false)
	if !a.Moving() {
		t.Error("expected moving after unlock")
	}

	a.Halt()
	if a.Moving() || dev.enabled || !dev.locked || dev.velocity != 0 {
		t.Errorf("halt left device %+v", dev)
	}
}

func TestLinearIgnoresLock(t *testing.T) {
	dev := &fakeDevice{id: "piston", kind: Linear, min: 0, max: 2}
	a := New(dev)
	a.SetLocked(true)
	if a.Locked() || dev.locked {
		t.Error("linear actuators have no lock")
	}
}

func TestClampTarget(t *testing.T) {
	a := New(&fakeDevice{id: "piston", kind: Linear, min: 2, max: 0})
	if a.Min() != 0 || a.Max() != 2 {
		t.Fatalf("expected swapped limits 0..2, got %v..%v", a.Min(), a.Max())
	}

	v, err := a.ClampTarget(2.5)
	if v != 2 || !rigerrors.Is(err, rigerrors.ErrBoundary) {
		t.Errorf("expected clamp to 2 with boundary error, got %v, %v", v, err)
	}
	v, err = a.ClampTarget(-1)
	if v != 0 || err == nil {
		t.Errorf("expected clamp to 0, got %v, %v", v, err)
	}
	v, err = a.ClampTarget(1.25)
	if v != 1.25 || err != nil {
		t.Errorf("expected 1.25 unchanged, got %v, %v", v, err)
	}
}
