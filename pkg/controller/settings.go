package controller

import (
	"time"

	"churnrig/pkg/config"
	rigerrors "churnrig/pkg/errors"
	"churnrig/pkg/sequencer"
)

// Groups are the resolver patterns for each device role.
type Groups struct {
	Rotors string `json:"rotors"`
	Shaft  string `json:"shaft"`
	Arms   string `json:"arms"`
	Drills string `json:"drills"`
}

type decoder struct {
	cfg *config.Config
	err error
}

func (d *decoder) getStr(key string) string {
	if d.err != nil {
		return ""
	}
	v, err := d.cfg.Get(key)
	d.err = err
	return v
}

func (d *decoder) getFloat(key string, b config.FloatBounds) float64 {
	if d.err != nil {
		return 0
	}
	v, err := d.cfg.GetFloatWithBounds(key, b)
	d.err = err
	return v
}

func (d *decoder) getInt(key string, min int) int {
	if d.err != nil {
		return 0
	}
	v, err := d.cfg.GetInt(key)
	if err == nil && v < min {
		err = rigerrors.ConfigurationError("%s: value %d must be at least %d", key, v, min).
			SetContext("key", key)
	}
	d.err = err
	return v
}

func (d *decoder) getBool(key string) bool {
	if d.err != nil {
		return false
	}
	v, err := d.cfg.GetBool(key)
	d.err = err
	return v
}

// LoadSettings decodes cfg, which should already include DefaultConfig.
// Failures are ConfigurationErrors; type errors keep their ParseError cause.
func LoadSettings(cfg *config.Config) (sequencer.Settings, Groups, error) {
	d := &decoder{cfg: cfg}
	positive := config.FloatBounds{Above: config.Float(0)}
	nonNegative := config.FloatBounds{Min: config.Float(0)}

	g := Groups{
		Rotors: d.getStr("rotors"),
		Shaft:  d.getStr("shaft"),
		Arms:   d.getStr("arms"),
		Drills: d.getStr("drills"),
	}

	s := sequencer.DefaultSettings()
	s.Rotation = d.getFloat("rotation", positive)
	s.RotorsDPS = d.getFloat("rotors_dps", config.FloatBounds{Min: config.Float(0.0001), Max: config.Float(30), ClampInsteadOfFail: true})
	s.HomeAngle = d.getFloat("home_angle", config.FloatBounds{})
	s.ShaftStep = d.getFloat("shaft_step", config.FloatBounds{Min: config.Float(0.01)})
	s.ShaftMPS = d.getFloat("shaft_mps", config.FloatBounds{Min: config.Float(0.0001), Max: config.Float(5), ClampInsteadOfFail: true})
	s.StartHeight = d.getFloat("start_height", config.FloatBounds{})
	s.ArmsStep = d.getFloat("arms_step", config.FloatBounds{Min: config.Float(0.01)})
	s.ArmsMPS = d.getFloat("arms_mps", config.FloatBounds{Min: config.Float(0.0001), Max: config.Float(5), ClampInsteadOfFail: true})
	s.ArmsStart = d.getFloat("arms_start", config.FloatBounds{})
	s.RampTicks = d.getInt("ramp_ticks", 1)
	s.LinearTolerance = d.getFloat("tolerance", positive)
	s.RotaryTolerance = d.getFloat("angle_tolerance", positive)
	s.LinearMinRate = d.getFloat("min_rate", nonNegative)
	s.RotaryMinRate = d.getFloat("min_dps", nonNegative)
	s.StallTicks = d.getInt("stall_ticks", 1)
	s.Shimmy = d.getBool("shimmy")
	s.ShimmyTicks = d.getInt("shimmy_ticks", 1)
	s.ShimmyFactor = d.getFloat("shimmy_factor", positive)
	s.Stagger = d.getInt("stagger", 0)
	s.StaggerAfter = d.getInt("stagger_after", 0)
	s.StaggerFactor = d.getFloat("stagger_factor", nonNegative)
	s.DrillsOffWhileDescending = d.getBool("drills_off_descending")
	s.StageTimeoutTicks = d.getInt("stage_timeout", 0)
	gap := d.getFloat("tick_gap", nonNegative)
	s.TickGapTimeout = time.Duration(gap * float64(time.Second))

	if d.err != nil {
		return s, g, asConfigError(d.err)
	}
	if err := s.Validate(); err != nil {
		return s, g, err
	}
	return s, g, nil
}

func asConfigError(err error) error {
	if rigerrors.Is(err, rigerrors.ErrConfiguration) {
		return err
	}
	return rigerrors.Wrap(err, rigerrors.ErrConfiguration, "invalid configuration")
}
