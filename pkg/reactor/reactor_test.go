package reactor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New() returned nil")
	}
	defer r.End()
}

func TestMonotonic(t *testing.T) {
	r := New()
	defer r.End()

	t1 := r.Monotonic()
	time.Sleep(10 * time.Millisecond)
	t2 := r.Monotonic()

	if t2 <= t1 {
		t.Errorf("Monotonic time not increasing: %f <= %f", t2, t1)
	}

	elapsed := t2 - t1
	if elapsed < 0.009 || elapsed > 0.050 {
		t.Errorf("Unexpected elapsed time: %f (expected ~0.01)", elapsed)
	}
}

func TestTimer(t *testing.T) {
	r := New()

	var called atomic.Int32
	callback := func(eventtime float64) float64 {
		called.Add(1)
		return NEVER
	}

	// Register timer to fire immediately
	timer := r.RegisterTimer(callback, NOW)
	if timer == nil {
		t.Fatal("RegisterTimer returned nil")
	}

	// Run reactor briefly
	r.Run()
	time.Sleep(50 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 1 {
		t.Errorf("Timer callback called %d times, expected 1", called.Load())
	}
}

func TestTimerRepeat(t *testing.T) {
	r := New()

	var called atomic.Int32
	callback := func(eventtime float64) float64 {
		count := called.Add(1)
		if count < 3 {
			return eventtime + 0.01 // Repeat in 10ms
		}
		return NEVER
	}

	r.RegisterTimer(callback, NOW)
	r.Run()
	time.Sleep(100 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() < 3 {
		t.Errorf("Timer callback called %d times, expected at least 3", called.Load())
	}
}

func TestUnregisterTimer(t *testing.T) {
	r := New()

	var called atomic.Int32
	callback := func(eventtime float64) float64 {
		called.Add(1)
		return NEVER
	}

	// Register then immediately unregister
	timer := r.RegisterTimer(callback, r.Monotonic()+0.1)
	r.UnregisterTimer(timer)

	r.Run()
	time.Sleep(150 * time.Millisecond)
	r.End()
	r.Wait()

	if called.Load() != 0 {
		t.Errorf("Timer callback called %d times after unregister, expected 0", called.Load())
	}
}

func TestCompletion(t *testing.T) {
	r := New()
	defer r.End()

	comp := r.Completion()

	if comp.Test() {
		t.Error("Completion should not be done yet")
	}

	comp.Complete("result")

	if !comp.Test() {
		t.Error("Completion should be done")
	}

	result := comp.Wait(time.Second, nil)
	if result != "result" {
		t.Errorf("Expected 'result', got %v", result)
	}
}

func TestCompletionWaitTimeout(t *testing.T) {
	r := New()
	defer r.End()

	comp := r.Completion()

	start := time.Now()
	result := comp.Wait(50*time.Millisecond, "timeout")
	elapsed := time.Since(start)

	if result != "timeout" {
		t.Errorf("Expected 'timeout', got %v", result)
	}

	if elapsed < 40*time.Millisecond || elapsed > 100*time.Millisecond {
		t.Errorf("Unexpected wait time: %v", elapsed)
	}
}

func TestDoRunsOnLoop(t *testing.T) {
	r := New()
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	var ticks int
	r.RegisterTimer(func(eventtime float64) float64 {
		ticks++
		return eventtime + 0.001
	}, NOW)

	last := 0
	for i := 0; i < 20; i++ {
		var now int
		if err := r.Do(func() { now = ticks }); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if now < last {
			t.Fatalf("tick count went backwards: %d < %d", now, last)
		}
		last = now
		time.Sleep(time.Millisecond)
	}
	if last == 0 {
		t.Error("timer never fired")
	}
}

func TestDoWithoutLoop(t *testing.T) {
	r := New()
	called := false
	if err := r.Do(func() { called = true }); err != nil || !called {
		t.Fatalf("expected direct call, got err=%v called=%v", err, called)
	}
	r.End()
	if err := r.Do(func() {}); err != ErrReactorClosed {
		t.Errorf("expected ErrReactorClosed, got %v", err)
	}
}

func TestAsyncCallbackNotDropped(t *testing.T) {
	r := New()
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	var done atomic.Int32
	comps := make([]*Completion, 0, 50)
	for i := 0; i < 50; i++ {
		comps = append(comps, r.RegisterAsyncCallback(func(float64) interface{} {
			done.Add(1)
			return "ok"
		}))
	}
	for _, c := range comps {
		if got := c.Wait(time.Second, "timeout"); got != "ok" {
			t.Fatalf("expected ok, got %v", got)
		}
	}
	if done.Load() != 50 {
		t.Errorf("expected 50 callbacks, got %d", done.Load())
	}
}

func TestPeriodicArmDisarm(t *testing.T) {
	r := New()
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	var calls atomic.Int32
	var p *Periodic
	p = NewPeriodic(r, 5*time.Millisecond, func(float64) {
		if calls.Add(1) == 3 {
			p.Disarm()
		}
	})

	time.Sleep(20 * time.Millisecond)
	if p.Fired() != 0 {
		t.Fatal("periodic fired before Arm")
	}

	p.Arm()
	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 3 || p.Armed() {
		t.Errorf("expected 3 calls then disarm, got %d armed=%v", calls.Load(), p.Armed())
	}

	p.Arm()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() < 4 {
		t.Errorf("expected periodic to resume, got %d calls", calls.Load())
	}
	p.Close()
	if p.Interval() != 5*time.Millisecond {
		t.Errorf("unexpected interval %v", p.Interval())
	}
}

func TestConstants(t *testing.T) {
	if NOW != 0.0 {
		t.Errorf("NOW should be 0.0, got %f", NOW)
	}

	if NEVER < 1e15 {
		t.Errorf("NEVER should be very large, got %f", NEVER)
	}
}
