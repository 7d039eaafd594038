package model

// Difficulty scales both the simulation disturbances and the alarm
// thresholds of a scenario.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "BEGINNER"
	DifficultyIntermediate Difficulty = "INTERMEDIATE"
	DifficultyAdvanced     Difficulty = "ADVANCED"
)

// Factor returns a multiplier applied to disturbance amplitudes; harder
// scenarios shake the spacecraft more.
func (d Difficulty) Factor() float64 {
	switch d {
	case DifficultyIntermediate:
		return 1.5
	case DifficultyAdvanced:
		return 2.5
	default:
		return 1.0
	}
}
