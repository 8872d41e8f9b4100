// Package cli implements the churnctl command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"churnrig/pkg/config"
	"churnrig/pkg/log"
	"churnrig/pkg/sim"
)

// DefaultServer is where the client commands look for a running host.
const DefaultServer = "http://localhost:7130"

// NewRootCmd builds churnctl with every subcommand attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "churnctl",
		Short: "churnctl - mining rig cycle controller",
		Long: `churnctl drives a rotor-and-piston mining rig through its staged cycle:
home, drill a full rotation, reverse, step the pistons out, and repeat until
every piston is fully extended.

"run" hosts the controller with its HTTP API; start, stop, status, config and
history talk to a running host.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
				color.NoColor = true
			}
			return setupLogging(cmd)
		},
	}
	root.PersistentFlags().String("server", DefaultServer, "address of a running churnctl host")
	root.PersistentFlags().String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	root.PersistentFlags().String("log-file", "", "write logs to this file, rotated by size")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")

	root.AddCommand(runCmd())
	root.AddCommand(simulateCmd())
	root.AddCommand(startCmd())
	root.AddCommand(stopCmd())
	root.AddCommand(moveCmd("retract", "Bring every shaft and arm piston back to its minimum"))
	root.AddCommand(moveCmd("extend", "Drive every shaft and arm piston out to its maximum"))
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(defaultsCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// setupLogging installs the root logger every component logger derives
// from. It must run before any package calls log.GetLogger.
func setupLogging(cmd *cobra.Command) error {
	l := log.New("churnctl")
	log.ConfigureFromEnv(l)
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		l.SetLevel(log.ParseLevel(level))
	}
	if path, _ := cmd.Flags().GetString("log-file"); path != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: path})
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.SetWriter(w)
		l.SetColorize(false)
	}
	if color.NoColor {
		l.SetColorize(false)
	}
	log.SetDefaultLogger(l)
	return nil
}

func addLayoutFlags(cmd *cobra.Command, l *sim.Layout) {
	def := sim.DefaultLayout()
	cmd.Flags().IntVar(&l.Rotors, "rotors", def.Rotors, "simulated rotors")
	cmd.Flags().IntVar(&l.Drills, "drills", def.Drills, "simulated drills")
	cmd.Flags().IntVar(&l.ShaftPistons, "shaft-pistons", def.ShaftPistons, "simulated shaft pistons")
	cmd.Flags().IntVar(&l.ArmPistons, "arm-pistons", def.ArmPistons, "simulated arm pistons")
	cmd.Flags().Float64Var(&l.PistonMax, "piston-max", def.PistonMax, "travel of every simulated piston, metres")
}

// loadUserConfig reads a key=value file, or a YAML profile when the name
// ends in .yaml or .yml. An empty path yields no configuration.
func loadUserConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.LoadProfile(path)
	default:
		return config.Load(path)
	}
}
