package sim

import (
	"testing"

	"churnrig/pkg/actuator"
)

func TestResolveByGroupThenName(t *testing.T) {
	r := NewMiningRig(DefaultLayout())
	r.AddPiston("Spare Shaft Piston", 0, 5, 0)

	if got := len(r.ResolveActuators("Shaft", actuator.Linear)); got != 2 {
		t.Errorf("group lookup: expected 2 pistons, got %d", got)
	}
	if got := len(r.ResolveActuators("shaft piston", actuator.Linear)); got != 3 {
		t.Errorf("name lookup: expected 3 pistons, got %d", got)
	}
	if got := len(r.ResolveActuators("Shaft", actuator.Rotary)); got != 0 {
		t.Errorf("kind filter: expected no rotors, got %d", got)
	}
	if got := len(r.ResolveTools("Drills")); got != 4 {
		t.Errorf("expected 4 drills, got %d", got)
	}
	if r.ResolveActuators("", actuator.Linear) != nil {
		t.Error("empty pattern must resolve nothing")
	}
}

func TestPistonClampsToLimits(t *testing.T) {
	r := New()
	p := r.AddPiston("p", 0, 2, 1)
	p.SetEnabled(true)
	p.SetVelocity(0.75)
	r.Step(1)
	if p.Position() != 1.75 {
		t.Errorf("expected 1.75, got %v", p.Position())
	}
	r.Step(1)
	if p.Position() != 2 {
		t.Errorf("expected clamp at 2, got %v", p.Position())
	}
	p.SetEnabled(false)
	p.SetVelocity(-1)
	r.Step(1)
	if p.Position() != 2 {
		t.Error("disabled piston moved")
	}
}

func TestRotorBrake(t *testing.T) {
	r := New()
	rt := r.AddRotor("r", 350)
	rt.SetEnabled(true)
	rt.SetVelocity(20)
	r.Step(1)
	if rt.Position() != 370 {
		t.Errorf("expected raw angle 370, got %v", rt.Position())
	}
	rt.SetLocked(true)
	r.Step(1)
	if rt.Position() != 370 {
		t.Error("locked rotor moved")
	}
}

func TestFreezeAndRemove(t *testing.T) {
	r := New()
	p := r.AddPiston("p", 0, 10, 0)
	p.SetEnabled(true)
	p.SetVelocity(1)
	r.Freeze("p", 2)
	r.Step(1)
	r.Step(1)
	if p.Position() != 0 {
		t.Errorf("frozen piston moved to %v", p.Position())
	}
	r.Step(1)
	if p.Position() != 1 {
		t.Errorf("expected 1 after thaw, got %v", p.Position())
	}

	if !r.Exists("p") {
		t.Fatal("expected piston to exist")
	}
	r.Remove("p")
	if r.Exists("p") {
		t.Error("removed piston still exists")
	}
	if len(r.Names()) != 0 {
		t.Errorf("unexpected names %v", r.Names())
	}
}

func TestDrillOnTime(t *testing.T) {
	r := New()
	d := r.AddDrill("d")
	r.Step(1)
	d.SetEnabled(true)
	r.Step(0.5)
	r.Step(0.5)
	if !d.Enabled() || d.OnTime() != 1 {
		t.Errorf("unexpected drill state enabled=%v on=%v", d.Enabled(), d.OnTime())
	}
	if r.Elapsed() != 2 {
		t.Errorf("expected 2s elapsed, got %v", r.Elapsed())
	}
}
