package model

import "time"

// EventType distinguishes the two kinds of operator log entries.
type EventType string

const (
	EventTM EventType = "TM" // telemetry event
	EventTC EventType = "TC" // telecommand event
)

// TmTcEvent is one entry of the per-session TM/TC log. Entries are totally
// ordered per session by (Tick, Seq); broadcast order equals issue order.
type TmTcEvent struct {
	Time      time.Time `json:"time"`
	Tick      uint64    `json:"tick"`
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Subsystem string    `json:"subsystem"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}
