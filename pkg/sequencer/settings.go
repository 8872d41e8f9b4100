package sequencer

import (
	"time"

	rigerrors "churnrig/pkg/errors"
	"churnrig/pkg/recovery"
	"churnrig/pkg/stall"
)

// Settings are the cycle's tunables. Rates are per second; angles in
// degrees; linear distances in the devices' own units.
type Settings struct {
	// Rotation is how far each Drilling stage turns the rotors.
	Rotation  float64
	RotorsDPS float64
	HomeAngle float64

	ShaftStep   float64
	ShaftMPS    float64
	StartHeight float64

	ArmsStep  float64
	ArmsMPS   float64
	ArmsStart float64

	// RampTicks spreads each stage's rate ramp-up over this many ticks.
	RampTicks       int
	LinearTolerance float64
	RotaryTolerance float64
	LinearMinRate   float64
	RotaryMinRate   float64

	// TickPeriod is the time between Steps in seconds. Stall detection
	// uses it to tell slow creeping from standing still.
	TickPeriod float64

	StallTicks   int
	StallQuantum float64
	Shimmy       bool
	ShimmyTicks  int
	ShimmyFactor float64

	// Stagger pulses the rotors backward every Stagger-th Drilling tick once
	// StaggerAfter rotations have completed. Values below 3 disable it.
	Stagger       int
	StaggerAfter  int
	StaggerFactor float64

	DrillsOffWhileDescending bool

	// StageTimeoutTicks aborts a stage that runs longer; 0 disables.
	StageTimeoutTicks int
	// TickGapTimeout aborts when ticks arrive further apart; 0 disables.
	TickGapTimeout time.Duration
}

// DefaultSettings returns the built-in tuning.
func DefaultSettings() Settings {
	return Settings{
		Rotation:        360,
		RotorsDPS:       5,
		ShaftStep:       0.5,
		ShaftMPS:        0.2,
		ArmsStep:        0.5,
		ArmsMPS:         0.2,
		RampTicks:       5,
		LinearTolerance: 0.01,
		RotaryTolerance: 0.1,
		LinearMinRate:   0.005,
		RotaryMinRate:   0.05,
		TickPeriod:      1,
		StallTicks:      stall.DefaultThresholdTicks,
		StallQuantum:    stall.DefaultQuantum,
		Shimmy:          true,
		ShimmyTicks:     recovery.DefaultShimmyTicks,
		ShimmyFactor:    recovery.DefaultShimmyFactor,
		StaggerFactor:   0.6,
	}
}

// Validate rejects settings the cycle cannot run with.
func (s Settings) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"rotation", s.Rotation},
		{"rotors_dps", s.RotorsDPS},
		{"shaft_step", s.ShaftStep},
		{"shaft_mps", s.ShaftMPS},
		{"arms_step", s.ArmsStep},
		{"arms_mps", s.ArmsMPS},
		{"tolerance", s.LinearTolerance},
		{"angle_tolerance", s.RotaryTolerance},
		{"stall_quantum", s.StallQuantum},
		{"tick period", s.TickPeriod},
	}
	for _, p := range positive {
		if !(p.v > 0) {
			return rigerrors.ConfigurationError("%s must be positive, got %g", p.name, p.v)
		}
	}
	if s.LinearMinRate < 0 || s.RotaryMinRate < 0 {
		return rigerrors.ConfigurationError("creep rates must not be negative")
	}
	if s.StallTicks < 1 {
		return rigerrors.ConfigurationError("stall_ticks must be at least 1, got %d", s.StallTicks)
	}
	if s.Shimmy && (s.ShimmyTicks < 1 || s.ShimmyFactor <= 0) {
		return rigerrors.ConfigurationError("shimmy needs shimmy_ticks >= 1 and shimmy_factor > 0")
	}
	if s.StageTimeoutTicks < 0 || s.TickGapTimeout < 0 {
		return rigerrors.ConfigurationError("timeouts must not be negative")
	}
	return nil
}

func (s Settings) policy() recovery.Policy {
	return recovery.Policy{
		ShimmyEnabled: s.Shimmy,
		ShimmyTicks:   s.ShimmyTicks,
		ShimmyFactor:  s.ShimmyFactor,
	}
}
