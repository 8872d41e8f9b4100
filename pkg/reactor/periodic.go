package reactor

import (
	"sync/atomic"
	"time"
)

// Periodic calls fn at a fixed interval while armed. fn runs on the
// reactor goroutine and may Disarm from inside; the timer then parks
// until the next Arm.
type Periodic struct {
	r        *Reactor
	interval float64
	fn       func(eventtime float64)
	timer    *Timer
	armed    atomic.Bool
	fired    atomic.Int64
}

// NewPeriodic registers a parked timer on r.
func NewPeriodic(r *Reactor, interval time.Duration, fn func(eventtime float64)) *Periodic {
	p := &Periodic{r: r, interval: interval.Seconds(), fn: fn}
	p.timer = r.RegisterTimer(p.callback, NEVER)
	return p
}

func (p *Periodic) callback(eventtime float64) float64 {
	if !p.armed.Load() {
		return NEVER
	}
	p.fired.Add(1)
	p.fn(eventtime)
	if !p.armed.Load() {
		return NEVER
	}
	return eventtime + p.interval
}

// Arm starts firing on the next loop iteration.
func (p *Periodic) Arm() {
	if p.armed.Swap(true) {
		return
	}
	p.r.UpdateTimer(p.timer, NOW)
}

// Disarm stops firing after the current call, if any.
func (p *Periodic) Disarm() {
	p.armed.Store(false)
}

// Armed reports whether the timer is firing.
func (p *Periodic) Armed() bool {
	return p.armed.Load()
}

// Fired counts calls to fn since creation.
func (p *Periodic) Fired() int64 {
	return p.fired.Load()
}

// Interval is the period between calls.
func (p *Periodic) Interval() time.Duration {
	return time.Duration(p.interval * float64(time.Second))
}

// Close unregisters the timer.
func (p *Periodic) Close() {
	p.Disarm()
	p.r.UnregisterTimer(p.timer)
}
