package core

import (
	"time"

	"github.com/signalsfoundry/mission-runtime/model"
)

// MergeTick folds one tick's outputs into the session state: the advanced
// elapsed time, the new telemetry frame, and the post-evaluation alarm
// ledger land together, so members never observe fresh telemetry next to a
// stale ledger. All other state keys are preserved.
func MergeTick(prev model.SessionState, elapsed float64, frame *model.TelemetryFrame, ledger []model.Alarm, now time.Time) model.SessionState {
	next := prev
	if elapsed > next.ElapsedTime {
		next.ElapsedTime = elapsed
	}
	next.Telemetry = frame
	next.Alarms = ledger
	next.LastActivityAt = now
	return next
}
