package controller

// DefaultConfig is applied before any user configuration. Every key the
// controller reads is listed here.
const DefaultConfig = `
# Block groups. A group name is matched first, then any block whose name
# contains the pattern.
rotors=Rotors
shaft=Shaft
arms=Arms
drills=Drills

# Rotation per Drilling stage, degrees, and rotor speed in degrees/s.
rotation=360
rotors_dps=5
home_angle=0

# Shaft pistons step outward this far per Descending stage.
shaft_step=0.5
shaft_mps=0.2
start_height=0

# Arm pistons are stepped once the shaft is fully extended.
arms_step=0.5
arms_mps=0.2
arms_start=0

ramp_ticks=5
tolerance=0.01
angle_tolerance=0.1
min_rate=0.005
min_dps=0.05

# Stall detection and recovery.
stall_ticks=5
shimmy
shimmy_ticks=3
shimmy_factor=0.5

# Every n-th Drilling tick runs the rotors backward; below 3 disables.
stagger=0
stagger_after=0
stagger_factor=0.6

!drills_off_descending

# Abort a stage after this many ticks, and a cycle whose ticks arrive
# further apart than tick_gap seconds. 0 disables either.
stage_timeout=0
tick_gap=0
`
