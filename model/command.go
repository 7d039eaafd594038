package model

import "time"

// Command is a control request from a member. Commands are serialized per
// session and at most one is applied per tick slot.
type Command struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters,omitempty"`
	IssuedBy   string            `json:"issuedBy"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	TickApplied uint64           `json:"tickApplied,omitempty"`
}

// Well-known command names. PauseSession, ResumeSession, and AbortSession
// are restricted to the session owner or an admin.
const (
	CmdPauseSession  = "PAUSE_SESSION"
	CmdResumeSession = "RESUME_SESSION"
	CmdAbortSession  = "ABORT_SESSION"
	CmdAdvanceStep   = "ADVANCE_STEP"
	CmdSetAttitude   = "SET_ATTITUDE_MODE"
	CmdDeployAntenna = "DEPLOY_ANTENNA"
	CmdStowAntenna   = "STOW_ANTENNA"
	CmdBatteryHeater = "SET_BATTERY_HEATER"
)
