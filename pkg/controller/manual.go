package controller

import (
	"fmt"
	"strings"

	"churnrig/pkg/actuator"
	rigerrors "churnrig/pkg/errors"
	"churnrig/pkg/log"
	"churnrig/pkg/seek"
	"churnrig/pkg/sequencer"
	"churnrig/pkg/stall"
)

// move positions the pistons while no cycle runs: drills off, rotors
// braked, every shaft and arm piston seeking one end of its travel.
type move struct {
	name    string
	axes    []*actuator.Actuator
	roles   []sequencer.Role
	targets []float64
	params  []seek.Params
	stalls  []*stall.Record
	done    []bool
	ramp    int
	period  float64
	tick    int
}

// Retract brings every shaft and arm piston back to its minimum, for
// example after a finished cycle.
func (c *Controller) Retract() error { return c.startMove("Retracting", false) }

// Extend drives every shaft and arm piston out to its maximum.
func (c *Controller) Extend() error { return c.startMove("Extending", true) }

// Moving reports whether a Retract or Extend is in progress.
func (c *Controller) Moving() bool { return c.move != nil }

func (c *Controller) startMove(name string, out bool) error {
	if err := c.busy(); err != nil {
		c.report("Cannot start %s: %v", strings.ToLower(name), err)
		return err
	}
	cfg, err := c.effectiveConfig(nil)
	if err != nil {
		return c.moveFailed(name, err)
	}
	settings, groups, err := LoadSettings(cfg)
	if err != nil {
		return c.moveFailed(name, err)
	}
	rig, err := c.resolve(groups)
	if err != nil {
		return c.moveFailed(name, err)
	}
	period := settings.TickPeriod
	if c.period > 0 {
		period = c.period.Seconds()
	}

	for _, d := range rig.Drills {
		d.SetEnabled(false)
	}
	for _, a := range rig.Rotors {
		a.Halt()
	}

	m := &move{name: name, ramp: settings.RampTicks, period: period}
	add := func(axes []*actuator.Actuator, role sequencer.Role, rate float64) {
		for _, a := range axes {
			target := a.Min()
			if out {
				target = a.Max()
			}
			rec := stall.NewRecord(settings.StallTicks)
			rec.Quantum = settings.StallQuantum
			m.axes = append(m.axes, a)
			m.roles = append(m.roles, role)
			m.targets = append(m.targets, target)
			m.params = append(m.params, seek.Params{
				MaxRate:   rate,
				Tolerance: settings.LinearTolerance,
				MinRate:   settings.LinearMinRate,
			})
			m.stalls = append(m.stalls, rec)
			m.done = append(m.done, false)
		}
	}
	add(rig.Shaft, sequencer.RoleShaft, settings.ShaftMPS)
	add(rig.Arms, sequencer.RoleArm, settings.ArmsMPS)

	c.move = m
	c.log.WithFields(log.Fields{"move": name, "pistons": len(m.axes)}).Info("positioning started")
	c.report("%s %d piston(s)", name, len(m.axes))
	c.metrics.SetStage(name)
	if c.sched != nil {
		c.sched.Arm()
	}
	return nil
}

func (c *Controller) moveFailed(name string, err error) error {
	c.log.WithError(err).Error("cannot position rig")
	c.report("Cannot start %s: %v", strings.ToLower(name), err)
	return err
}

// busy returns a BUSY error while a cycle or a move owns the rig.
func (c *Controller) busy() error {
	switch {
	case c.ctx != nil:
		return rigerrors.BusyError().SetStage(c.ctx.Stage.String())
	case c.move != nil:
		return rigerrors.New(rigerrors.ErrBusy, "the rig is "+strings.ToLower(c.move.name)).SetStage(c.move.name)
	}
	return nil
}

func (c *Controller) stepMove() {
	m := c.move
	pending := false
	for i, a := range m.axes {
		if m.done[i] {
			continue
		}
		if c.resolver != nil && !c.resolver.Exists(a.ID()) {
			c.endMove(fmt.Sprintf("%s stopped: %s vanished", m.name, a.Name()))
			return
		}
		if m.stalls[i].ObserveTravel(a.Value(), stall.Travel(a, m.period)) == stall.Stuck {
			a.Halt()
			m.done[i] = true
			c.metrics.RecordStall(a.Name())
			c.report("%s stuck at %.2f, leaving it there", a.Name(), a.Value())
			continue
		}
		p := m.params[i]
		p.MaxRate = seek.Ramp(p.MaxRate, m.tick, m.ramp)
		if seek.Seek(a, m.targets[i], p) == seek.Reached {
			m.done[i] = true
			continue
		}
		pending = true
	}
	m.tick++
	for _, a := range m.axes {
		c.metrics.SetActuator(a.Name(), a.Value(), a.Rate())
	}
	if !pending {
		c.endMove(m.name + " complete")
	}
}

// endMove halts every piston of the move and returns to idle.
func (c *Controller) endMove(msg string) {
	m := c.move
	for _, a := range m.axes {
		a.Halt()
	}
	c.move = nil
	if c.sched != nil {
		c.sched.Disarm()
	}
	c.log.WithFields(log.Fields{"move": m.name, "ticks": m.tick}).Info("positioning ended")
	c.report("%s", msg)
	stage := "Idle"
	if c.last != nil {
		stage = c.last.Stage
	}
	c.metrics.SetStage(stage)
}

// moveStatus fills st while a move runs.
func (c *Controller) moveStatus(st *Status) {
	m := c.move
	st.Active = true
	st.Stage = m.name
	snap := &sequencer.Snapshot{Stage: m.name, Tick: m.tick}
	for i, a := range m.axes {
		snap.Axes = append(snap.Axes, sequencer.AxisSnapshot{
			Name:    a.Name(),
			Role:    m.roles[i].String(),
			Value:   a.Value(),
			Rate:    a.Rate(),
			Enabled: a.Enabled(),
			Locked:  a.Locked(),
		})
	}
	st.Run = snap
}
