// Package controller owns at most one mining cycle at a time. It turns
// configuration into a resolved rig, advances the cycle once per Tick and
// answers the start/stop/status/config commands.
//
// A Controller is not safe for concurrent use; callers on other goroutines
// go through the reactor.
package controller

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"churnrig/pkg/actuator"
	"churnrig/pkg/config"
	rigerrors "churnrig/pkg/errors"
	"churnrig/pkg/log"
	"churnrig/pkg/metrics"
	"churnrig/pkg/safety"
	"churnrig/pkg/sequencer"
	"churnrig/pkg/telemetry"
)

// Scheduler drives Tick while armed.
type Scheduler interface {
	Arm()
	Disarm()
}

// Options configure a Controller. Resolver is required.
type Options struct {
	Resolver  actuator.Resolver
	Sink      telemetry.Sink
	Scheduler Scheduler
	Logger    *log.Logger
	Metrics   *metrics.RigMetrics
	// Config is the user configuration, applied over DefaultConfig on
	// every start.
	Config   *config.Config
	Listener func(sequencer.Event)
	// TickPeriod is how often the scheduler calls Tick; zero means once a
	// second.
	TickPeriod time.Duration
}

// Controller is the entry point for the command surface.
type Controller struct {
	resolver actuator.Resolver
	sink     telemetry.Sink
	observer telemetry.RunObserver
	sched    Scheduler
	log      *log.Logger
	metrics  *metrics.RigMetrics
	base     *config.Config
	listener func(sequencer.Event)
	period   time.Duration

	seq       *sequencer.Sequencer
	ctx       *sequencer.Context
	groups    Groups
	effective *config.Config
	last      *sequencer.Snapshot
	move      *move
}

// New creates an idle controller.
func New(opts Options) *Controller {
	c := &Controller{
		resolver: opts.Resolver,
		sink:     telemetry.Safe(opts.Sink),
		sched:    opts.Scheduler,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		base:     opts.Config.Clone(),
		listener: opts.Listener,
		period:   opts.TickPeriod,
	}
	if obs, ok := opts.Sink.(telemetry.RunObserver); ok {
		c.observer = obs
	}
	if c.log == nil {
		c.log = log.GetLogger("controller")
	}
	return c
}

// Active reports whether a cycle is running.
func (c *Controller) Active() bool { return c.ctx != nil }

// Context returns the running cycle's context, or nil.
func (c *Controller) Context() *sequencer.Context { return c.ctx }

// Start begins a new cycle. overrides, which may be nil, apply on top of
// the controller's configuration for this run only. Nothing is created
// when an error is returned.
func (c *Controller) Start(overrides *config.Config) error {
	if err := c.busy(); err != nil {
		c.report("Cannot start: %v", err)
		return err
	}

	cfg, err := c.effectiveConfig(overrides)
	if err != nil {
		return c.startFailed(err)
	}
	settings, groups, err := LoadSettings(cfg)
	if err != nil {
		return c.startFailed(err)
	}
	if c.period > 0 {
		settings.TickPeriod = c.period.Seconds()
	}
	for _, key := range cfg.Unused() {
		c.log.WithField("key", key).Warn("unknown config key ignored")
	}
	rig, err := c.resolve(groups)
	if err != nil {
		return c.startFailed(err)
	}

	runID := uuid.NewString()
	c.seq = sequencer.New(settings, sequencer.Options{
		Resolver: c.resolver,
		Sink:     c.sink,
		Logger:   c.log.WithPrefix("sequencer"),
		Listener: c.onEvent,
	})
	c.ctx = sequencer.NewContext(rig, runID)
	c.groups = groups
	c.effective = cfg

	c.log.WithFields(log.Fields{
		"run":    runID,
		"rotors": len(rig.Rotors),
		"shaft":  len(rig.Shaft),
		"arms":   len(rig.Arms),
		"drills": len(rig.Drills),
	}).Info("cycle started")
	c.report("Starting run %s", shortID(runID))
	if c.observer != nil {
		c.observer.RunStarted(runID, c.ctx.StartedAt)
	}
	c.metrics.SetStage(c.ctx.Stage.String())
	if c.sched != nil {
		c.sched.Arm()
	}
	return nil
}

func (c *Controller) startFailed(err error) error {
	c.log.WithError(err).Error("cannot start cycle")
	c.report("Cannot start: %v", err)
	return err
}

func (c *Controller) effectiveConfig(overrides *config.Config) (*config.Config, error) {
	defaults, err := config.LoadString(DefaultConfig)
	if err != nil {
		return nil, rigerrors.Wrap(err, rigerrors.ErrConfiguration, "built-in defaults")
	}
	return defaults.Merge(c.base).Merge(overrides), nil
}

func (c *Controller) resolve(g Groups) (*sequencer.Rig, error) {
	if c.resolver == nil {
		return nil, rigerrors.ConfigurationError("no device resolver configured")
	}
	rig := &sequencer.Rig{}
	wrap := func(devs []actuator.Device) []*actuator.Actuator {
		out := make([]*actuator.Actuator, 0, len(devs))
		for _, d := range devs {
			out = append(out, actuator.New(d))
		}
		return out
	}
	rig.Rotors = wrap(c.resolver.ResolveActuators(g.Rotors, actuator.Rotary))
	if len(rig.Rotors) == 0 {
		return nil, rigerrors.EmptyGroupError("rotors", g.Rotors)
	}
	rig.Shaft = wrap(c.resolver.ResolveActuators(g.Shaft, actuator.Linear))
	if len(rig.Shaft) == 0 {
		return nil, rigerrors.EmptyGroupError("shaft", g.Shaft)
	}
	rig.Drills = c.resolver.ResolveTools(g.Drills)
	if len(rig.Drills) == 0 {
		return nil, rigerrors.EmptyGroupError("drills", g.Drills)
	}
	if g.Arms != "" {
		rig.Arms = wrap(c.resolver.ResolveActuators(g.Arms, actuator.Linear))
	}
	return rig, nil
}

// Tick advances the running cycle by exactly one step. Without a cycle it
// does nothing.
func (c *Controller) Tick() {
	if c.move != nil {
		c.stepMove()
		return
	}
	if c.ctx == nil {
		return
	}
	start := time.Now()
	stage := c.seq.Step(c.ctx)
	c.metrics.ObserveTick(time.Since(start))
	c.metrics.SetStage(stage.String())
	c.metrics.SetProgress(c.ctx.Rotations, c.ctx.StepIndex, c.ctx.Progress)
	for _, a := range c.ctx.Rig.Axes() {
		c.metrics.SetActuator(a.Name(), a.Value(), a.Rate())
	}
	if stage.Terminal() {
		c.release()
	}
}

// Stop aborts the running cycle: drills off first, then every actuator.
// A Retract or Extend in progress is halted instead. It does nothing when
// the rig is idle.
func (c *Controller) Stop() {
	if c.move != nil {
		c.endMove(c.move.name + " stopped by operator")
		return
	}
	if c.ctx == nil {
		return
	}
	c.seq.Abort(c.ctx, rigerrors.StoppedError("stopped by operator"))
	c.release()
}

func (c *Controller) release() {
	ctx := c.ctx
	outcome := "finished"
	if ctx.Stage == sequencer.Aborted {
		outcome = "aborted"
	}
	snap := ctx.Snapshot()
	c.last = &snap
	c.ctx = nil
	c.seq = nil
	if c.sched != nil {
		c.sched.Disarm()
	}

	c.log.WithFields(log.Fields{
		"run":       ctx.RunID,
		"outcome":   outcome,
		"rotations": ctx.Rotations,
		"steps":     ctx.StepIndex,
		"stalls":    ctx.Stalls,
		"ticks":     ctx.Tick,
	}).Info("cycle ended")
	c.metrics.SetStage(ctx.Stage.String())
	c.metrics.RunEnded(outcome)
	if c.observer != nil {
		c.observer.RunEnded(ctx.RunID, outcome, time.Now())
	}
}

func (c *Controller) onEvent(ev sequencer.Event) {
	switch ev.Kind {
	case sequencer.EventStall:
		c.metrics.RecordStall(ev.Axis)
	case sequencer.EventRecovery:
		c.metrics.RecordRecovery(ev.Action)
	}
	if c.listener != nil {
		c.listener(ev)
	}
}

// Status describes the controller for the command surface.
type Status struct {
	Active    bool                `json:"active"`
	Stage     string              `json:"stage"`
	Run       *sequencer.Snapshot `json:"run,omitempty"`
	Last      *sequencer.Snapshot `json:"last,omitempty"`
	Groups    *Groups             `json:"groups,omitempty"`
	Interlock *safety.Status      `json:"interlock,omitempty"`
	Config    map[string]string   `json:"config,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Status reports the running cycle, or the last one when idle. It never
// panics; a failure while gathering is returned in Error.
func (c *Controller) Status() (st Status) {
	st.Stage = "Idle"
	defer func() {
		if r := recover(); r != nil {
			err := rigerrors.FromPanic(r)
			c.log.WithError(err).Error("status failed")
			st.Error = err.Error()
		}
	}()
	st.Last = c.last
	if c.move != nil {
		c.moveStatus(&st)
		return st
	}
	if c.ctx == nil {
		return st
	}
	snap := c.ctx.Snapshot()
	is := c.ctx.Interlock.GetStatus()
	g := c.groups
	st.Active = true
	st.Stage = snap.Stage
	st.Run = &snap
	st.Groups = &g
	st.Interlock = &is
	st.Config = c.effective.Map()
	return st
}

// Summary is a one-line status for displays.
func (st Status) Summary() string {
	if st.Error != "" {
		return "Status unavailable: " + st.Error
	}
	if st.Run == nil {
		if st.Last != nil {
			return fmt.Sprintf("Idle; last run %s ended in %s after %d rotations",
				shortID(st.Last.RunID), st.Last.Stage, st.Last.Rotations)
		}
		return "Idle"
	}
	r := st.Run
	if r.RunID == "" {
		return fmt.Sprintf("%s: %d piston(s), tick %d", r.Stage, len(r.Axes), r.Tick)
	}
	return fmt.Sprintf("%s: rotation %d, step %d, %.1f deg, %d stalls",
		r.Stage, r.Rotations, r.StepIndex, r.Progress, r.Stalls)
}

// ConfigReport lists the effective configuration and the blocks each
// group resolves to.
type ConfigReport struct {
	Groups   Groups              `json:"groups"`
	Blocks   map[string][]string `json:"blocks"`
	Settings map[string]string   `json:"settings"`
	Error    string              `json:"error,omitempty"`
}

// Config resolves the groups of the running cycle, or of the configuration
// the next start would use.
func (c *Controller) Config() ConfigReport {
	cfg := c.effective
	if c.ctx == nil {
		var err error
		if cfg, err = c.effectiveConfig(nil); err != nil {
			return ConfigReport{Error: err.Error()}
		}
	}
	_, g, err := LoadSettings(cfg)
	rep := ConfigReport{Groups: g, Settings: cfg.Map(), Blocks: map[string][]string{}}
	if err != nil {
		rep.Error = err.Error()
	}
	if c.resolver == nil {
		return rep
	}
	names := func(key, pattern string, kind actuator.Kind) {
		for _, d := range c.resolver.ResolveActuators(pattern, kind) {
			rep.Blocks[key] = append(rep.Blocks[key], d.Name())
		}
	}
	names("rotors", g.Rotors, actuator.Rotary)
	names("shaft", g.Shaft, actuator.Linear)
	names("arms", g.Arms, actuator.Linear)
	for _, t := range c.resolver.ResolveTools(g.Drills) {
		rep.Blocks["drills"] = append(rep.Blocks["drills"], t.Name())
	}
	return rep
}

// Lines renders the report for a text display.
func (r ConfigReport) Lines() []string {
	var out []string
	for _, key := range []string{"rotors", "shaft", "arms", "drills"} {
		blocks := r.Blocks[key]
		out = append(out, fmt.Sprintf("%s: %d block(s) %s", key, len(blocks), strings.Join(blocks, ", ")))
	}
	keys := make([]string, 0, len(r.Settings))
	for k := range r.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+r.Settings[k])
	}
	if r.Error != "" {
		out = append(out, "error: "+r.Error)
	}
	return out
}

// Execute runs a text command: "start [key=value ...]", "stop" (also
// "halt" and "abort"), "retract", "extend", "status" or "config". Unknown
// commands are reported and change nothing.
func (c *Controller) Execute(command string) (interface{}, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, c.unknown(command)
	}
	switch word := strings.ToLower(fields[0]); word {
	case "start":
		overrides, err := config.LoadString(strings.Join(fields[1:], "\n"))
		if err != nil {
			return nil, c.startFailed(asConfigError(err))
		}
		if err := c.Start(overrides); err != nil {
			return nil, err
		}
		return c.Status(), nil
	case "stop", "halt", "abort":
		c.Stop()
		return c.Status(), nil
	case "retract", "extend":
		fn := c.Retract
		if word == "extend" {
			fn = c.Extend
		}
		if err := fn(); err != nil {
			return nil, err
		}
		return c.Status(), nil
	case "status":
		st := c.Status()
		c.report("%s", st.Summary())
		return st, nil
	case "config":
		rep := c.Config()
		for _, line := range rep.Lines() {
			c.report("%s", line)
		}
		return rep, nil
	default:
		return nil, c.unknown(word)
	}
}

func (c *Controller) unknown(word string) error {
	err := rigerrors.UnknownCommandError(word)
	c.log.WithField("command", word).Warn("unknown command")
	c.report("Unknown command: %q", word)
	return err
}

func (c *Controller) report(format string, args ...interface{}) {
	c.sink.Report(fmt.Sprintf(format, args...))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
