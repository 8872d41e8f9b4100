package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"churnrig/pkg/config"
	"churnrig/pkg/controller"
	"churnrig/pkg/log"
	"churnrig/pkg/sim"
)

type simulation struct {
	layout   sim.Layout
	cfgPath  string
	dt       float64
	maxTicks int
	quiet    bool
}

func simulateCmd() *cobra.Command {
	s := &simulation{}
	cmd := &cobra.Command{
		Use:   "simulate [key=value ...]",
		Short: "Run one full cycle against a simulated rig",
		Long: `Run one full cycle offline, as fast as possible, against a simulated rig.
Arguments override the configuration for this run, e.g.

  churnctl simulate shaft_step=1 stagger=5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.run(cmd.OutOrStdout(), args)
			if st.Last != nil {
				printStatus(cmd.OutOrStdout(), st)
			}
			return err
		},
	}
	addLayoutFlags(cmd, &s.layout)
	cmd.Flags().StringVarP(&s.cfgPath, "config", "c", "", "configuration file (key=value, or YAML with .yaml/.yml)")
	cmd.Flags().Float64Var(&s.dt, "dt", 1, "simulated seconds per tick")
	cmd.Flags().IntVar(&s.maxTicks, "max-ticks", 1000000, "give up after this many ticks")
	cmd.Flags().BoolVarP(&s.quiet, "quiet", "q", false, "only print the final status")
	return cmd
}

// stepScheduler lets the simulation loop tick while the controller keeps
// it armed.
type stepScheduler struct{ armed bool }

func (s *stepScheduler) Arm()    { s.armed = true }
func (s *stepScheduler) Disarm() { s.armed = false }

func (s *simulation) run(out io.Writer, overrides []string) (controller.Status, error) {
	if !(s.dt > 0) {
		return controller.Status{}, fmt.Errorf("--dt must be positive")
	}
	user, err := loadUserConfig(s.cfgPath)
	if err != nil {
		return controller.Status{}, err
	}
	over, err := config.LoadString(strings.Join(overrides, "\n"))
	if err != nil {
		return controller.Status{}, err
	}

	world := sim.NewMiningRig(s.layout)
	sched := &stepScheduler{}
	var sink reportPrinter
	if s.quiet {
		sink.w = io.Discard
	} else {
		sink.w = out
	}
	c := controller.New(controller.Options{
		Resolver:   world,
		Sink:       sink,
		Scheduler:  sched,
		Logger:     log.GetLogger("controller"),
		Config:     user,
		TickPeriod: time.Duration(s.dt * float64(time.Second)),
	})
	if err := c.Start(over); err != nil {
		return c.Status(), err
	}

	for ticks := 0; sched.armed; ticks++ {
		if ticks >= s.maxTicks {
			c.Stop()
			return c.Status(), fmt.Errorf("cycle still running after %d ticks", s.maxTicks)
		}
		c.Tick()
		world.Step(s.dt)
	}

	st := c.Status()
	if st.Last != nil && st.Last.Stage == "Aborted" {
		return st, fmt.Errorf("cycle aborted: %s", st.Last.Reason)
	}
	return st, nil
}
