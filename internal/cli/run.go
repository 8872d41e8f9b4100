package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"churnrig/pkg/api"
	"churnrig/pkg/controller"
	"churnrig/pkg/journal"
	"churnrig/pkg/log"
	"churnrig/pkg/metrics"
	"churnrig/pkg/reactor"
	"churnrig/pkg/sim"
	"churnrig/pkg/telemetry"
)

type host struct {
	layout      sim.Layout
	cfgPath     string
	listen      string
	tick        time.Duration
	journalPath string
	mqttBroker  string
	mqttPrefix  string
	accessLog   bool
	autostart   bool
}

func runCmd() *cobra.Command {
	h := &host{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host the controller and its HTTP API against a simulated rig",
		Long: `Host the cycle controller in real time. The controller ticks once per
--tick while a cycle runs; the HTTP API on --listen serves

  GET  /api/status, /api/config, /api/history[/{run}], /metrics
  POST /api/commands/{start,stop,retract,extend,status,config}
  GET  /ws   live reports and cycle events

SIGINT and SIGTERM stop any running cycle and exit; SIGUSR1 logs the status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return h.run()
		},
	}
	addLayoutFlags(cmd, &h.layout)
	cmd.Flags().StringVarP(&h.cfgPath, "config", "c", "", "configuration file (key=value, or YAML with .yaml/.yml)")
	cmd.Flags().StringVar(&h.listen, "listen", ":7130", "HTTP API address")
	cmd.Flags().DurationVar(&h.tick, "tick", time.Second, "controller tick period")
	cmd.Flags().StringVar(&h.journalPath, "journal", "", "SQLite journal of runs and reports (disabled when empty)")
	cmd.Flags().StringVar(&h.mqttBroker, "mqtt", "", "MQTT broker URL for telemetry, e.g. tcp://localhost:1883")
	cmd.Flags().StringVar(&h.mqttPrefix, "mqtt-prefix", "churnrig", "MQTT topic prefix")
	cmd.Flags().BoolVar(&h.accessLog, "access-log", false, "log every HTTP request to stderr")
	cmd.Flags().BoolVar(&h.autostart, "autostart", false, "start a cycle immediately")
	return cmd
}

func (h *host) run() error {
	logger := log.GetLogger("host")
	if h.tick <= 0 {
		return fmt.Errorf("--tick must be positive")
	}
	user, err := loadUserConfig(h.cfgPath)
	if err != nil {
		return err
	}

	logger.Info("========================================")
	logger.Info("churnrig host starting")
	logger.Info("========================================")

	world := sim.NewMiningRig(h.layout)
	logger.WithFields(log.Fields{
		"rotors": h.layout.Rotors,
		"shaft":  h.layout.ShaftPistons,
		"arms":   h.layout.ArmPistons,
		"drills": h.layout.Drills,
		"tick":   h.tick.String(),
	}).Info("simulated rig ready")

	m := metrics.NewRigMetrics()
	hub := api.NewHub(log.GetLogger("ws"))
	sinks := telemetry.Multi{telemetry.LogSink{Logger: log.GetLogger("report")}, hub}

	var history api.History
	if h.journalPath != "" {
		j, err := journal.Open(h.journalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		sinks = append(sinks, j)
		history = j
		logger.WithField("path", h.journalPath).Info("journal open")
	}

	if h.mqttBroker != "" {
		sink, client, err := telemetry.DialMQTT(telemetry.MQTTOptions{
			Broker:      h.mqttBroker,
			ClientID:    "churnrig-" + fmt.Sprint(os.Getpid()),
			TopicPrefix: h.mqttPrefix,
		})
		if err != nil {
			return err
		}
		defer func() {
			sink.Close()
			client.Disconnect(250)
		}()
		sinks = append(sinks, sink)
		logger.WithField("broker", h.mqttBroker).Info("MQTT telemetry connected")
	}

	r := reactor.New()
	var ctrl *controller.Controller
	ticker := reactor.NewPeriodic(r, h.tick, func(float64) {
		ctrl.Tick()
		world.Step(h.tick.Seconds())
	})
	ctrl = controller.New(controller.Options{
		Resolver:   world,
		Sink:       sinks,
		Scheduler:  ticker,
		Logger:     log.GetLogger("controller"),
		Metrics:    m,
		Config:     user,
		Listener:   hub.Event,
		TickPeriod: h.tick,
	})
	dispatcher := api.OnReactor(r, ctrl)

	opts := api.Options{
		Addr:       h.listen,
		Dispatcher: dispatcher,
		Hub:        hub,
		History:    history,
		Metrics:    m,
		Logger:     log.GetLogger("api"),
	}
	if h.accessLog {
		opts.AccessLog = os.Stderr
	}
	srv := api.New(opts)

	r.Run()
	defer func() {
		ticker.Close()
		r.End()
		r.Wait()
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	if h.autostart {
		if _, err := dispatcher.Execute("start"); err != nil {
			logger.WithError(err).Warn("autostart failed")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM, unix.SIGUSR1)
	defer signal.Stop(sigCh)

	logger.Info("host ready, API on %s; press Ctrl+C to stop", h.listen)
	var result error
wait:
	for {
		select {
		case sig := <-sigCh:
			if sig == unix.SIGUSR1 {
				logger.Info("%s", dispatcher.Status().Summary())
				continue
			}
			logger.WithField("signal", sig.String()).Info("shutting down")
			break wait
		case err := <-serveErr:
			result = err
			break wait
		}
	}

	if _, err := dispatcher.Execute("stop"); err != nil {
		logger.WithError(err).Warn("failed to stop the cycle")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("API shutdown incomplete")
	}
	logger.Info("churnrig host stopped")
	return result
}
