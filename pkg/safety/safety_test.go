package safety

import (
	"strings"
	"testing"
	"time"
)

// recorder notes the order devices were disabled in.
type recorder struct {
	order []string
}

type mockTool struct {
	name    string
	enabled bool
	rec     *recorder
}

func (m *mockTool) SetEnabled(e bool) {
	m.enabled = e
	if !e {
		m.rec.order = append(m.rec.order, m.name)
	}
}

type mockAxis struct {
	name   string
	halted bool
	rec    *recorder
}

func (m *mockAxis) Halt() {
	m.halted = true
	m.rec.order = append(m.rec.order, m.name)
}

func guarded() (*Interlock, *recorder, *mockTool, *mockAxis) {
	rec := &recorder{}
	drill := &mockTool{name: "drill", enabled: true, rec: rec}
	rotor := &mockAxis{name: "rotor", rec: rec}
	piston := &mockAxis{name: "piston", rec: rec}
	i := New()
	i.Guard([]Switch{drill}, []Haltable{rotor, piston})
	return i, rec, drill, rotor
}

func TestNew(t *testing.T) {
	i := New()
	if i.State() != StateArmed || i.Tripped() {
		t.Fatalf("expected armed interlock, got %v", i.State())
	}
	if err := i.Check(); err != nil {
		t.Errorf("expected no error while armed, got %v", err)
	}
}

func TestTripDisablesToolsFirst(t *testing.T) {
	i, rec, drill, rotor := guarded()

	if !i.Trip(ReasonAborted, "piston stuck") {
		t.Fatal("expected first trip to run")
	}
	want := []string{"drill", "rotor", "piston"}
	if len(rec.order) != len(want) {
		t.Fatalf("expected %v, got %v", want, rec.order)
	}
	for n := range want {
		if rec.order[n] != want[n] {
			t.Fatalf("expected %v, got %v", want, rec.order)
		}
	}
	if drill.enabled || !rotor.halted {
		t.Error("expected drill off and rotor halted")
	}

	reason, msg, at := i.Info()
	if reason != ReasonAborted || msg != "piston stuck" || at.IsZero() {
		t.Errorf("unexpected info: %v %q %v", reason, msg, at)
	}
	if i.Check() != ErrTripped {
		t.Error("expected ErrTripped")
	}
}

func TestTripIsIdempotent(t *testing.T) {
	i, rec, _, _ := guarded()
	calls := 0
	i.OnTrip(func(Reason, string) { calls++ })

	i.Trip(ReasonStopped, "stop")
	if i.Trip(ReasonAborted, "again") {
		t.Error("second trip should report false")
	}
	if calls != 1 {
		t.Errorf("expected one callback, got %d", calls)
	}
	if len(rec.order) != 3 {
		t.Errorf("expected devices disabled once, got %v", rec.order)
	}
	if reason, _, _ := i.Info(); reason != ReasonStopped {
		t.Errorf("expected first reason to stick, got %v", reason)
	}
}

func TestTripCallbacksRunFromSnapshot(t *testing.T) {
	i, _, _, _ := guarded()
	var order []string
	i.OnTrip(func(r Reason, msg string) {
		order = append(order, "first:"+string(r))
		i.OnTrip(func(Reason, string) { order = append(order, "late") })
	})
	i.OnTrip(func(_ Reason, msg string) { order = append(order, "second:"+msg) })

	i.Trip(ReasonFinished, "done")
	if got := strings.Join(order, ","); got != "first:finished,second:done" {
		t.Errorf("unexpected callback order %q", got)
	}
	if i.State() != StateTripped {
		t.Errorf("expected tripped, got %v", i.State())
	}
}

func TestDisableAllKeepsArmed(t *testing.T) {
	i, rec, _, _ := guarded()
	i.DisableAll()
	if i.Tripped() {
		t.Error("DisableAll must not trip")
	}
	if len(rec.order) != 3 || rec.order[0] != "drill" {
		t.Errorf("expected drill first, got %v", rec.order)
	}
}

func TestReset(t *testing.T) {
	i := New()
	if err := i.Reset(); err == nil {
		t.Error("expected reset of an armed interlock to fail")
	}
	i.Trip(ReasonFinished, "done")
	if err := i.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if i.State() != StateArmed {
		t.Errorf("expected armed after reset, got %v", i.State())
	}
}

func TestHeartbeatWatchdog(t *testing.T) {
	now := time.Unix(1000, 0)
	i := New()
	i.now = func() time.Time { return now }

	if _, late := i.Heartbeat(); late {
		t.Error("watchdog disabled by default")
	}
	i.SetHeartbeatTimeout(2 * time.Second)

	now = now.Add(time.Second)
	if gap, late := i.Heartbeat(); late || gap != time.Second {
		t.Errorf("expected 1s gap on time, got %v %v", gap, late)
	}
	now = now.Add(3 * time.Second)
	if gap, late := i.Heartbeat(); !late || gap != 3*time.Second {
		t.Errorf("expected late 3s gap, got %v %v", gap, late)
	}
}

func TestGetStatus(t *testing.T) {
	i := New()
	i.Trip(ReasonWatchdog, "tick gap 5s")
	s := i.GetStatus()
	if s.State != "tripped" || s.Reason != "watchdog" || s.Message != "tick gap 5s" {
		t.Errorf("unexpected status %+v", s)
	}
}
