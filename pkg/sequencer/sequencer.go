// Package sequencer runs the mining cycle as a resumable state machine:
//
//	Begin -> Homing -> Drilling -> Reversing -> Descending -> Drilling ...
//	                                                       \-> Finishing
//
// Any stage may end in Aborted. Step does one tick of work and never blocks.
package sequencer

import (
	"fmt"
	"math"
	"time"

	"churnrig/pkg/actuator"
	rigerrors "churnrig/pkg/errors"
	"churnrig/pkg/log"
	"churnrig/pkg/recovery"
	"churnrig/pkg/safety"
	"churnrig/pkg/seek"
	"churnrig/pkg/stall"
	"churnrig/pkg/telemetry"
)

// EventKind classifies sequencer events.
type EventKind int

const (
	EventStage EventKind = iota
	EventStall
	EventRecovery
	EventStep
	EventFinished
	EventAborted
)

func (k EventKind) String() string {
	switch k {
	case EventStage:
		return "stage"
	case EventStall:
		return "stall"
	case EventRecovery:
		return "recovery"
	case EventStep:
		return "step"
	case EventFinished:
		return "finished"
	default:
		return "aborted"
	}
}

// Event is emitted to the Listener as the cycle progresses.
type Event struct {
	Kind    EventKind
	Tick    int
	From    Stage
	Stage   Stage
	Axis    string
	Action  string
	Message string
}

// Options wires a Sequencer to its collaborators. All fields are optional.
type Options struct {
	Resolver actuator.Resolver
	Sink     telemetry.Sink
	Logger   *log.Logger
	Listener func(Event)
}

// Sequencer advances a Context one tick at a time.
type Sequencer struct {
	settings Settings
	resolver actuator.Resolver
	sink     telemetry.Sink
	log      *log.Logger
	listener func(Event)
}

// New creates a Sequencer. Settings are used as given; call Validate first.
func New(settings Settings, opts Options) *Sequencer {
	s := &Sequencer{
		settings: settings,
		resolver: opts.Resolver,
		sink:     telemetry.Safe(opts.Sink),
		log:      opts.Logger,
		listener: opts.Listener,
	}
	if s.log == nil {
		s.log = log.GetLogger("sequencer")
	}
	return s
}

// Settings returns the tuning in use.
func (s *Sequencer) Settings() Settings { return s.settings }

// Step performs one tick of work and returns the resulting stage.
func (s *Sequencer) Step(ctx *Context) Stage {
	if ctx.Stage.Terminal() {
		return ctx.Stage
	}
	ctx.Tick++
	start := ctx.Stage

	if err := s.checkHandles(ctx); err != nil {
		s.Abort(ctx, err)
		return ctx.Stage
	}
	if gap, late := ctx.Interlock.Heartbeat(); late {
		s.abort(ctx, rigerrors.New(rigerrors.ErrTimeout,
			fmt.Sprintf("tick gap %s exceeds %s", gap.Round(time.Millisecond), s.settings.TickGapTimeout)).
			SetStage(ctx.Stage.String()), safety.ReasonWatchdog)
		return ctx.Stage
	}
	if err := s.observe(ctx); err != nil {
		s.Abort(ctx, err)
		return ctx.Stage
	}
	s.runPulses(ctx)

	switch ctx.Stage {
	case Begin:
		s.begin(ctx)
	case Homing:
		s.homing(ctx)
	case Drilling:
		s.drilling(ctx)
	case Reversing:
		s.reversing(ctx)
	case Descending:
		s.descending(ctx)
	}

	if ctx.Stage == start && !ctx.Stage.Terminal() {
		ctx.TicksInStage++
		if limit := s.settings.StageTimeoutTicks; limit > 0 && ctx.TicksInStage > limit {
			s.Abort(ctx, rigerrors.TimeoutError(ctx.Stage.String(), ctx.TicksInStage))
		}
	}
	return ctx.Stage
}

// Abort ends the cycle: the reason is reported first, then the drills are
// switched off, then every actuator is halted. Aborting a finished cycle
// does nothing.
func (s *Sequencer) Abort(ctx *Context, err error) {
	reason := safety.ReasonAborted
	if rigerrors.Is(err, rigerrors.ErrStopped) {
		reason = safety.ReasonStopped
	}
	s.abort(ctx, err, reason)
}

func (s *Sequencer) abort(ctx *Context, err error, reason safety.Reason) {
	if ctx.Stage.Terminal() {
		return
	}
	ctx.Err = err
	ctx.Reason = err.Error()
	s.report("ABORT: %s", ctx.Reason)
	s.log.WithFields(log.Fields{"run": ctx.RunID, "stage": ctx.Stage.String()}).WithError(err).Error("cycle aborted")

	s.enter(ctx, Aborted)
	ctx.Interlock.Trip(reason, ctx.Reason)
	s.emit(ctx, Event{Kind: EventAborted, Stage: Aborted, Message: ctx.Reason})
}

func (s *Sequencer) finish(ctx *Context, msg string) {
	ctx.Reason = msg
	s.report("Finished: %s after %d rotations, %d steps", msg, ctx.Rotations, ctx.StepIndex)
	s.enter(ctx, Finishing)
	ctx.Interlock.Trip(safety.ReasonFinished, msg)
	s.emit(ctx, Event{Kind: EventFinished, Stage: Finishing, Message: msg})
}

func (s *Sequencer) enter(ctx *Context, next Stage) {
	from := ctx.Stage
	ctx.Stage = next
	ctx.TicksInStage = 0
	ctx.Progress = 0
	for _, ax := range ctx.axes {
		ax.Stall.Reset()
	}
	if !next.Terminal() {
		s.report("%s", next)
	}
	s.log.WithFields(log.Fields{"from": from.String(), "to": next.String(), "tick": ctx.Tick}).Debug("stage change")
	s.emit(ctx, Event{Kind: EventStage, From: from, Stage: next})
}

func (s *Sequencer) report(format string, args ...interface{}) {
	s.sink.Report(fmt.Sprintf(format, args...))
}

func (s *Sequencer) emit(ctx *Context, ev Event) {
	if s.listener == nil {
		return
	}
	ev.Tick = ctx.Tick
	s.listener(ev)
}

func (s *Sequencer) checkHandles(ctx *Context) error {
	if s.resolver == nil {
		return nil
	}
	for _, a := range ctx.Rig.Axes() {
		if !s.resolver.Exists(a.ID()) {
			return rigerrors.VanishedHandleError(a.Name()).SetStage(ctx.Stage.String())
		}
	}
	for _, d := range ctx.Rig.Drills {
		if !s.resolver.Exists(d.ID()) {
			return rigerrors.VanishedHandleError(d.Name()).SetStage(ctx.Stage.String())
		}
	}
	return nil
}

// observe samples every axis against the command it was given last tick,
// before this tick issues new ones, and applies recovery to stalls.
func (s *Sequencer) observe(ctx *Context) error {
	for _, a := range ctx.Rig.Axes() {
		ax := ctx.Axis(a)
		v := a.Value()
		active := a.Moving()

		if ax.sampled && active && !ax.pulsing && ax.Episode.Active() {
			if moved := a.Distance(ax.last, v); moved != 0 && (moved > 0) == (a.Rate() > 0) {
				ax.Episode.Confirm()
			}
		}
		ax.prev, ax.last = ax.last, v
		if !ax.sampled {
			ax.prev = v
		}
		ax.sampled = true

		if ax.Stall.ObserveTravel(v, stall.Travel(a, s.settings.TickPeriod)) != stall.Stuck {
			continue
		}
		stable := ax.Stall.StableTicks
		ax.Stall.Reset()
		ctx.Stalls++
		s.emit(ctx, Event{Kind: EventStall, Stage: ctx.Stage, Axis: a.Name(),
			Message: fmt.Sprintf("no movement for %d ticks", stable)})
		s.log.WithFields(log.Fields{"axis": a.Name(), "value": v, "rate": a.Rate()}).Warn("actuator stuck")

		policy := s.settings.policy()
		policy.MinRate = s.minRate(a)
		d := policy.Decide(&ax.Episode, a)
		s.emit(ctx, Event{Kind: EventRecovery, Stage: ctx.Stage, Axis: a.Name(), Action: d.Action.String()})

		switch d.Action {
		case recovery.Reverse:
			s.report("%s stuck while %s, taking %.2f as its stop", a.Name(), d.Direction, v)
			s.reverse(ctx, a, ax)
		case recovery.Shimmy:
			s.report("%s stuck while %s, shimmying", a.Name(), d.Direction)
			ax.PulseTicks = d.PulseTicks
			ax.PulseRate = d.PulseRate
		default:
			a.SetRate(0)
			a.SetEnabled(false)
			return rigerrors.StallError(a.Name(), stable).SetStage(ctx.Stage.String())
		}
	}
	return nil
}

// reverse handles a retracting axis that hit something: the stall is taken
// as the axis' limit. During Homing that position becomes its rest.
func (s *Sequencer) reverse(ctx *Context, a *actuator.Actuator, ax *AxisState) {
	a.SetRate(0)
	a.SetEnabled(false)
	if ctx.Stage == Homing {
		ax.Settled = true
	}
}

func (s *Sequencer) runPulses(ctx *Context) {
	for _, a := range ctx.Rig.Axes() {
		ax := ctx.Axis(a)
		ax.pulsing = false
		if ax.PulseTicks <= 0 {
			continue
		}
		a.SetLocked(false)
		a.SetEnabled(true)
		a.SetRate(ax.PulseRate)
		ax.PulseTicks--
		ax.pulsing = true
	}
}

func (s *Sequencer) begin(ctx *Context) {
	for _, a := range ctx.Rig.Axes() {
		ax := ctx.Axis(a)
		ax.Stall.ThresholdTicks = s.settings.StallTicks
		ax.Stall.Quantum = s.settings.StallQuantum
	}
	ctx.Interlock.SetHeartbeatTimeout(s.settings.TickGapTimeout)
	ctx.Interlock.DisableAll()
	s.enter(ctx, Homing)
}

func (s *Sequencer) homing(ctx *Context) {
	pending := false
	for _, a := range ctx.Rig.Axes() {
		ax := ctx.Axis(a)
		if ax.Settled {
			continue
		}
		if ax.pulsing {
			pending = true
			continue
		}
		target := s.restOf(ax.Role)
		if clamped, err := a.ClampTarget(target); err != nil {
			if ctx.TicksInStage == 0 {
				s.log.WithError(err).Debug("rest position clamped")
			}
			target = clamped
		}
		p := s.params(a, ax.Role, ctx.TicksInStage)
		if seek.Seek(a, target, p) == seek.Reached {
			ax.Settled = true
		} else {
			pending = true
		}
	}
	if !pending {
		s.enter(ctx, Drilling)
	}
}

func (s *Sequencer) drilling(ctx *Context) {
	rotors := ctx.Rig.Rotors
	if ctx.TicksInStage == 0 {
		for _, d := range ctx.Rig.Drills {
			d.SetEnabled(true)
		}
		for i, a := range rotors {
			ctx.rotors[i] = rotorTrack{last: a.Value()}
		}
	}

	p := s.params(nil, RoleRotor, ctx.TicksInStage)
	stagger := s.staggerTick(ctx)
	done := true
	progress := math.Inf(1)
	for i, a := range rotors {
		tr := &ctx.rotors[i]
		v := a.Value()
		tr.travelled += a.Distance(tr.last, v) * ctx.Direction
		tr.last = v
		tr.peak = math.Max(tr.peak, tr.travelled)
		progress = math.Min(progress, tr.peak)
		if tr.done {
			continue
		}
		done = false
		if ctx.Axis(a).pulsing {
			continue
		}
		remaining := s.settings.Rotation - tr.travelled
		if stagger {
			back := math.Min(p.MaxRate, math.Max(math.Abs(remaining)/2, p.MinRate))
			a.SetLocked(false)
			a.SetEnabled(true)
			a.SetRate(-ctx.Direction * s.settings.StaggerFactor * back)
			continue
		}
		if seek.Toward(a, ctx.Direction*remaining, p) == seek.Reached {
			tr.done = true
		}
	}
	if len(rotors) > 0 {
		ctx.Progress = progress
	}
	if !done {
		return
	}
	for _, tr := range ctx.rotors {
		if !tr.done {
			return
		}
	}
	ctx.Rotations++
	s.report("Rotation %d complete", ctx.Rotations)
	s.enter(ctx, Reversing)
}

func (s *Sequencer) staggerTick(ctx *Context) bool {
	n := s.settings.Stagger
	return n >= 3 && ctx.Rotations >= s.settings.StaggerAfter &&
		ctx.TicksInStage > 0 && ctx.TicksInStage%n == 0
}

func (s *Sequencer) reversing(ctx *Context) {
	if ctx.TicksInStage == 0 {
		for _, a := range ctx.Rig.Rotors {
			a.SetRate(0)
			a.SetLocked(true)
		}
		ctx.Direction = -ctx.Direction
		return
	}
	for _, a := range ctx.Rig.Rotors {
		ax := ctx.Axis(a)
		if a.Moving() || math.Abs(a.Distance(ax.prev, ax.last)) >= s.settings.StallQuantum {
			return
		}
	}
	s.enter(ctx, Descending)
}

func (s *Sequencer) descending(ctx *Context) {
	stepping := ctx.Rig.Stepping()
	if ctx.TicksInStage == 0 {
		if s.settings.DrillsOffWhileDescending {
			for _, d := range ctx.Rig.Drills {
				d.SetEnabled(false)
			}
		}
		idx := s.nextStepAxis(stepping)
		if idx < 0 {
			s.finish(ctx, "all pistons fully extended")
			return
		}
		a := stepping[idx]
		role := ctx.Axis(a).Role
		ctx.stepAxis = idx
		ctx.stepTarget = stepTarget(a.Value(), a.Min(), a.Max(), s.stepOf(role), s.settings.LinearTolerance)
		s.report("Step %d: %s to %.2f", ctx.StepIndex+1, a.Name(), ctx.stepTarget)
	}

	a := stepping[ctx.stepAxis]
	ax := ctx.Axis(a)
	if ax.pulsing {
		return
	}
	if seek.Seek(a, ctx.stepTarget, s.params(a, ax.Role, ctx.TicksInStage)) != seek.Reached {
		return
	}
	ctx.StepIndex++
	s.emit(ctx, Event{Kind: EventStep, Stage: Descending, Axis: a.Name(),
		Message: fmt.Sprintf("step %d at %.2f", ctx.StepIndex, a.Value())})
	if s.nextStepAxis(stepping) < 0 {
		s.finish(ctx, "all pistons fully extended")
		return
	}
	s.enter(ctx, Drilling)
}

func (s *Sequencer) nextStepAxis(stepping []*actuator.Actuator) int {
	for i, a := range stepping {
		if !a.AtMax(s.settings.LinearTolerance) {
			return i
		}
	}
	return -1
}

// stepTarget is the next step boundary above pos, counting whole steps from
// min and never past max.
func stepTarget(pos, min, max, step, tol float64) float64 {
	slack := math.Min(2*tol, step/2)
	n := math.Floor((pos - min + slack) / step)
	return math.Min(min+step*(n+1), max)
}

func (s *Sequencer) restOf(role Role) float64 {
	switch role {
	case RoleRotor:
		return s.settings.HomeAngle
	case RoleShaft:
		return s.settings.StartHeight
	default:
		return s.settings.ArmsStart
	}
}

func (s *Sequencer) stepOf(role Role) float64 {
	if role == RoleArm {
		return s.settings.ArmsStep
	}
	return s.settings.ShaftStep
}

func (s *Sequencer) minRate(a *actuator.Actuator) float64 {
	if a.Kind() == actuator.Rotary {
		return s.settings.RotaryMinRate
	}
	return s.settings.LinearMinRate
}

func (s *Sequencer) params(a *actuator.Actuator, role Role, tick int) seek.Params {
	var limit, tol, min float64
	switch role {
	case RoleRotor:
		limit, tol, min = s.settings.RotorsDPS, s.settings.RotaryTolerance, s.settings.RotaryMinRate
	case RoleShaft:
		limit, tol, min = s.settings.ShaftMPS, s.settings.LinearTolerance, s.settings.LinearMinRate
	default:
		limit, tol, min = s.settings.ArmsMPS, s.settings.LinearTolerance, s.settings.LinearMinRate
	}
	return seek.Params{MaxRate: seek.Ramp(limit, tick, s.settings.RampTicks), Tolerance: tol, MinRate: min}
}
