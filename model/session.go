package model

import "time"

// SessionStatus is the lifecycle state of a scenario session.
type SessionStatus string

const (
	StatusCreated   SessionStatus = "CREATED"
	StatusActive    SessionStatus = "ACTIVE"
	StatusPaused    SessionStatus = "PAUSED"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusFailed    SessionStatus = "FAILED"
)

// Terminal reports whether no further commands are accepted in this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next follows the session
// state machine. CREATED only activates; ACTIVE and PAUSED may pause/resume
// or reach a terminal state; terminals never leave.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case StatusCreated:
		return next == StatusActive || next == StatusFailed
	case StatusActive:
		return next == StatusPaused || next == StatusCompleted || next == StatusFailed
	case StatusPaused:
		return next == StatusActive || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// ScenarioSnapshot is the scenario template frozen into a session at create.
type ScenarioSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Title       string     `json:"title"`
	Difficulty  Difficulty `json:"difficulty"`
	Description string     `json:"description"`
	TotalSteps  int        `json:"totalSteps"`
}

// SatelliteSnapshot is the satellite template frozen into a session at create.
type SatelliteSnapshot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	NoradID uint32 `json:"noradId"`
	TLE1    string `json:"tle1"`
	TLE2    string `json:"tle2"`
	Type    string `json:"type"` // e.g. "LEO", "GEO", "STATION"
	Status  string `json:"status"`
}

// TutorialSpec is one entry of the ordered tutorial sequence valid at
// session start.
type TutorialSpec struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// Snapshots bundles the immutable template copies of a session.
type Snapshots struct {
	Scenario  ScenarioSnapshot   `json:"scenario"`
	Satellite SatelliteSnapshot  `json:"satellite"`
	Tutorials []TutorialSpec     `json:"tutorials"`
}

// SessionState is the mutable portion of a session document. The key names
// match the state:update wire payload.
type SessionState struct {
	ElapsedTime      float64         `json:"elapsedTime"` // seconds since mission start
	Telemetry        *TelemetryFrame `json:"telemetry"`
	Alarms           []Alarm         `json:"alarms"`
	CommandsIssued   uint64          `json:"commandsIssued"`
	CurrentStepIndex int             `json:"currentStepIndex"`
	Status           SessionStatus   `json:"status"`
	LastActivityAt   time.Time       `json:"lastActivityAt"`
}

// Session is one operator-run mission: identity, frozen snapshots, and
// mutable state. Snapshots never change after create; ElapsedTime is
// non-decreasing; Status only moves along CanTransition.
type Session struct {
	ID        string    `json:"id"`
	OwnerUID  string    `json:"ownerUid"`
	Snapshots Snapshots `json:"snapshots"`
	State     SessionState `json:"state"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand outside the owning runtime.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.State.Telemetry != nil {
		tf := *s.State.Telemetry
		out.State.Telemetry = &tf
	}
	if s.State.Alarms != nil {
		out.State.Alarms = make([]Alarm, len(s.State.Alarms))
		copy(out.State.Alarms, s.State.Alarms)
	}
	if s.Snapshots.Tutorials != nil {
		out.Snapshots.Tutorials = make([]TutorialSpec, len(s.Snapshots.Tutorials))
		copy(out.Snapshots.Tutorials, s.Snapshots.Tutorials)
	}
	return &out
}
