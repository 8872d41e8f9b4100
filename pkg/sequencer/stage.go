package sequencer

// Stage is one state of the mining cycle.
type Stage int

const (
	Begin Stage = iota
	Homing
	Drilling
	Reversing
	Descending
	Finishing
	Aborted
)

var stageNames = [...]string{"Begin", "Homing", "Drilling", "Reversing", "Descending", "Finishing", "Aborted"}

func (s Stage) String() string {
	if s < Begin || s > Aborted {
		return "Unknown"
	}
	return stageNames[s]
}

// Terminal reports whether the cycle is over.
func (s Stage) Terminal() bool {
	return s == Finishing || s == Aborted
}

// ParseStage is the inverse of String.
func ParseStage(name string) (Stage, bool) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), true
		}
	}
	return 0, false
}
