// Package safety owns the rig's shutdown ordering. An Interlock guards the
// devices of one cycle; tripping it switches every tool off before any
// actuator is halted, and it trips at most once.
package safety

import (
	"errors"
	"sync"
	"time"
)

// State of an Interlock.
type State int

const (
	StateArmed State = iota
	StateTripping
	StateTripped
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateTripping:
		return "tripping"
	case StateTripped:
		return "tripped"
	default:
		return "unknown"
	}
}

// Reason describes why an Interlock tripped.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonFinished Reason = "finished"
	ReasonAborted  Reason = "aborted"
	ReasonStopped  Reason = "stopped"
	ReasonWatchdog Reason = "watchdog"
)

// ErrTripped is returned by Check once the interlock has tripped.
var ErrTripped = errors.New("safety: interlock tripped")

// Switch is an on/off device such as a drill.
type Switch interface {
	SetEnabled(enabled bool)
}

// Haltable is a motion device that can be stopped, disabled and held.
type Haltable interface {
	Halt()
}

// Interlock disables guarded devices in a fixed order.
type Interlock struct {
	mu sync.Mutex

	state     State
	reason    Reason
	message   string
	trippedAt time.Time

	tools []Switch
	axes  []Haltable

	onTrip []func(reason Reason, msg string)

	heartbeatTimeout time.Duration
	lastHeartbeat    time.Time
	now              func() time.Time
}

// New creates an armed Interlock.
func New() *Interlock {
	return &Interlock{now: time.Now}
}

// Guard adds devices to shut down on trip.
func (i *Interlock) Guard(tools []Switch, axes []Haltable) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tools = append(i.tools, tools...)
	i.axes = append(i.axes, axes...)
}

// OnTrip registers a callback run after devices are disabled.
func (i *Interlock) OnTrip(fn func(reason Reason, msg string)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onTrip = append(i.onTrip, fn)
}

// DisableAll switches tools off, then halts axes, without tripping.
func (i *Interlock) DisableAll() {
	i.mu.Lock()
	tools := append([]Switch(nil), i.tools...)
	axes := append([]Haltable(nil), i.axes...)
	i.mu.Unlock()
	disable(tools, axes)
}

func disable(tools []Switch, axes []Haltable) {
	for _, t := range tools {
		t.SetEnabled(false)
	}
	for _, a := range axes {
		a.Halt()
	}
}

// Trip disables everything and records why. It returns false when the
// interlock had already tripped.
func (i *Interlock) Trip(reason Reason, msg string) bool {
	i.mu.Lock()
	if i.state != StateArmed {
		i.mu.Unlock()
		return false
	}
	i.state = StateTripping
	i.reason = reason
	i.message = msg
	i.trippedAt = i.now()
	tools := append([]Switch(nil), i.tools...)
	axes := append([]Haltable(nil), i.axes...)
	i.mu.Unlock()

	disable(tools, axes)

	i.mu.Lock()
	i.state = StateTripped
	callbacks := make([]func(Reason, string), len(i.onTrip))
	copy(callbacks, i.onTrip)
	i.mu.Unlock()

	for _, fn := range callbacks {
		fn(reason, msg)
	}
	return true
}

// State returns the current state.
func (i *Interlock) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Tripped reports whether Trip has run.
func (i *Interlock) Tripped() bool {
	return i.State() != StateArmed
}

// Check returns ErrTripped once the interlock has tripped.
func (i *Interlock) Check() error {
	if i.Tripped() {
		return ErrTripped
	}
	return nil
}

// Info returns the trip details.
func (i *Interlock) Info() (Reason, string, time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reason, i.message, i.trippedAt
}

// Reset re-arms a tripped interlock.
func (i *Interlock) Reset() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateTripped {
		return errors.New("safety: can only reset a tripped interlock")
	}
	i.state = StateArmed
	i.reason = ReasonNone
	i.message = ""
	i.trippedAt = time.Time{}
	i.lastHeartbeat = time.Time{}
	return nil
}

// SetHeartbeatTimeout enables the tick-gap watchdog; zero disables it.
func (i *Interlock) SetHeartbeatTimeout(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.heartbeatTimeout = d
}

// Heartbeat records a tick. It returns the gap since the previous
// heartbeat and whether that gap exceeded the watchdog timeout.
func (i *Interlock) Heartbeat() (time.Duration, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.now()
	var gap time.Duration
	if !i.lastHeartbeat.IsZero() {
		gap = now.Sub(i.lastHeartbeat)
	}
	i.lastHeartbeat = now
	return gap, i.heartbeatTimeout > 0 && gap > i.heartbeatTimeout
}

// Status is a snapshot for reporting.
type Status struct {
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
}

// GetStatus returns the current status.
func (i *Interlock) GetStatus() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{
		State:     i.state.String(),
		Reason:    string(i.reason),
		Message:   i.message,
		TrippedAt: i.trippedAt,
	}
}
