package model

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Severity orders alarm and event importance. The numeric order is the sort
// order operators see: INFO(0) < CAUTION(1) < WARNING(2) < CRITICAL(3).
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityCaution
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityCaution:
		return "CAUTION"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets Severity render as its name in JSON payloads.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the wire name back into a Severity.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "INFO":
		*s = SeverityInfo
	case "CAUTION":
		*s = SeverityCaution
	case "WARNING":
		*s = SeverityWarning
	case "CRITICAL":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", string(b))
	}
	return nil
}

// Alarm is one ledger entry. Once latched it persists until acknowledged,
// even if telemetry recovers.
type Alarm struct {
	ID             string    `json:"id"`
	Severity       Severity  `json:"severity"`
	Subsystem      string    `json:"subsystem"`
	Code           string    `json:"code"`
	Message        string    `json:"message"`
	FirstSeenTick  uint64    `json:"firstSeenTick"`
	FirstSeenAt    time.Time `json:"firstSeenAt"`
	Latched        bool      `json:"latched"`
	Acknowledged   bool      `json:"acknowledged"`
	AcknowledgedBy string    `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt time.Time `json:"acknowledgedAt,omitempty"`
}

// AlarmID derives the stable alarm identity from (subsystem, predicate code,
// first-seen tick). The same condition re-raised at the same tick always
// yields the same id, so broadcasts stay idempotent.
func AlarmID(subsystem, code string, raisedTick uint64) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", subsystem, code, raisedTick)
	return fmt.Sprintf("alm-%016x", h.Sum64())
}

// SubsystemGo rolls a ledger up into per-subsystem GO / NO-GO statuses.
// A subsystem is NO-GO while it carries any WARNING or CRITICAL alarm.
func SubsystemGo(alarms []Alarm) map[string]bool {
	out := make(map[string]bool)
	for _, a := range alarms {
		if _, ok := out[a.Subsystem]; !ok {
			out[a.Subsystem] = true
		}
		if a.Severity >= SeverityWarning {
			out[a.Subsystem] = false
		}
	}
	return out
}
