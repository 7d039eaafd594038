package core

import (
	"sort"
	"time"

	"github.com/signalsfoundry/mission-runtime/model"
)

// Threshold is one hysteresis pair. For a low-direction predicate the alarm
// raises while the value is below Raise and may clear once it is above
// Clear; high-direction predicates invert both comparisons. Keeping the two
// levels apart prevents flapping.
type Threshold struct {
	Raise float64
	Clear float64
}

// Predicate is one declarative alarm rule evaluated against every frame.
type Predicate struct {
	Subsystem string
	Code      string
	Severity  model.Severity
	Message   string

	// Value extracts the monitored quantity from a frame.
	Value func(*model.TelemetryFrame) float64
	// Guard, when set, gates the predicate: it neither raises nor holds an
	// unacknowledged clear open while the guard is false. Used for comms
	// rules that only apply during a ground station pass.
	Guard func(*model.TelemetryFrame) bool
	// Low selects the comparison direction (see Threshold).
	Low bool
	// Levels yields the thresholds for a difficulty.
	Levels func(model.Difficulty) Threshold
}

func (p Predicate) guarded(f *model.TelemetryFrame) bool {
	return p.Guard == nil || p.Guard(f)
}

// Firing reports whether the raise condition holds for the frame.
func (p Predicate) Firing(f *model.TelemetryFrame, d model.Difficulty) bool {
	if !p.guarded(f) {
		return false
	}
	th := p.Levels(d)
	v := p.Value(f)
	if p.Low {
		return v < th.Raise
	}
	return v > th.Raise
}

// Clearable reports whether the clear condition holds, meaning an
// acknowledged alarm for this predicate may leave the ledger.
func (p Predicate) Clearable(f *model.TelemetryFrame, d model.Difficulty) bool {
	if f == nil {
		return false
	}
	if !p.guarded(f) {
		return true
	}
	th := p.Levels(d)
	v := p.Value(f)
	if p.Low {
		return v > th.Clear
	}
	return v < th.Clear
}

func fixedLevels(raise, clear float64) func(model.Difficulty) Threshold {
	return func(model.Difficulty) Threshold { return Threshold{Raise: raise, Clear: clear} }
}

// tightened moves both levels toward the nominal operating point as
// difficulty rises, so harder scenarios trip earlier.
func tightened(raise, clear, perLevel float64, low bool) func(model.Difficulty) Threshold {
	return func(d model.Difficulty) Threshold {
		shift := perLevel * (d.Factor() - 1)
		if low {
			return Threshold{Raise: raise + shift, Clear: clear + shift}
		}
		return Threshold{Raise: raise - shift, Clear: clear - shift}
	}
}

// Subsystem names used by the default rule set and runtime-raised alarms.
const (
	SubsystemPower       = "power"
	SubsystemThermal     = "thermal"
	SubsystemAttitude    = "attitude"
	SubsystemComms       = "comms"
	SubsystemSimulation  = "simulation"
	SubsystemPersistence = "persistence"
)

// Alarm codes raised by the runtime itself rather than by a telemetry rule.
const (
	CodePropagationFailed   = "PROPAGATION_FAILED"
	CodeStatePersistStalled = "STATE_PERSIST_STALLED"
)

// DefaultRules is the stock per-subsystem rule set.
func DefaultRules() []Predicate {
	return []Predicate{
		{
			Subsystem: SubsystemPower, Code: "POWER_LOW", Severity: model.SeverityCritical,
			Message: "battery state of charge critically low",
			Value:   func(f *model.TelemetryFrame) float64 { return f.Subsystems.Power.BatterySOC },
			Low:     true, Levels: fixedLevels(20, 25),
		},
		{
			Subsystem: SubsystemPower, Code: "BUS_UNDERVOLT", Severity: model.SeverityWarning,
			Message: "main bus voltage below operating limit",
			Value:   func(f *model.TelemetryFrame) float64 { return f.Subsystems.Power.BusVoltage },
			Low:     true, Levels: tightened(24, 25, 0.5, true),
		},
		{
			Subsystem: SubsystemThermal, Code: "THERMAL_PAYLOAD_HOT", Severity: model.SeverityWarning,
			Message: "payload temperature above limit",
			Value:   func(f *model.TelemetryFrame) float64 { return f.Subsystems.Thermal.PayloadTempC },
			Levels:  tightened(60, 55, 4, false),
		},
		{
			Subsystem: SubsystemThermal, Code: "THERMAL_AVIONICS_HOT", Severity: model.SeverityCaution,
			Message: "avionics temperature above limit",
			Value:   func(f *model.TelemetryFrame) float64 { return f.Subsystems.Thermal.AvionicsTempC },
			Levels:  tightened(70, 65, 4, false),
		},
		{
			Subsystem: SubsystemAttitude, Code: "ATTITUDE_POINTING_DEGRADED", Severity: model.SeverityCaution,
			Message: "pointing error outside mission tolerance",
			Value:   func(f *model.TelemetryFrame) float64 { return f.Subsystems.Attitude.PointingError },
			Levels:  tightened(1.0, 0.5, 0.2, false),
		},
		{
			Subsystem: SubsystemComms, Code: "COMMS_SIGNAL_WEAK", Severity: model.SeverityCaution,
			Message: "downlink signal weak during ground pass",
			Value:   func(f *model.TelemetryFrame) float64 { return f.Subsystems.Comms.SignalStrengthDBm },
			Guard:   func(f *model.TelemetryFrame) bool { return f.Subsystems.Comms.GroundStationLock },
			Low:     true, Levels: tightened(-110, -100, -5, true),
		},
		{
			Subsystem: SubsystemComms, Code: "COMMS_PACKET_LOSS", Severity: model.SeverityWarning,
			Message: "packet loss above limit during ground pass",
			Value:   func(f *model.TelemetryFrame) float64 { return f.Subsystems.Comms.PacketLossPct },
			Guard:   func(f *model.TelemetryFrame) bool { return f.Subsystems.Comms.GroundStationLock },
			Levels:  tightened(5, 2, 1, false),
		},
	}
}

// AlarmEvaluator applies a rule set over successive frames and owns the
// latching ledger for one session. It is not safe for concurrent use; the
// owning runtime serializes access.
type AlarmEvaluator struct {
	rules  []Predicate
	ledger map[string]*model.Alarm // keyed by subsystem|code
	// manual tracks whether a runtime-raised condition is still firing.
	manual map[string]bool
}

// NewAlarmEvaluator builds an evaluator; with no rules the default set is
// used.
func NewAlarmEvaluator(rules ...Predicate) *AlarmEvaluator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &AlarmEvaluator{
		rules:  rules,
		ledger: make(map[string]*model.Alarm),
		manual: make(map[string]bool),
	}
}

func ledgerKey(subsystem, code string) string { return subsystem + "|" + code }

// Evaluate runs every rule against the frame, raising new alarms and
// clearing acknowledged ones whose predicate stopped firing. Raised alarms
// latch immediately; an unacknowledged alarm never clears, whatever the
// telemetry does.
func (e *AlarmEvaluator) Evaluate(frame *model.TelemetryFrame, tick uint64, now time.Time, d model.Difficulty) (raised, cleared []model.Alarm) {
	for _, rule := range e.rules {
		key := ledgerKey(rule.Subsystem, rule.Code)
		entry := e.ledger[key]

		switch {
		case entry == nil && frame != nil && rule.Firing(frame, d):
			a := &model.Alarm{
				ID:            model.AlarmID(rule.Subsystem, rule.Code, tick),
				Severity:      rule.Severity,
				Subsystem:     rule.Subsystem,
				Code:          rule.Code,
				Message:       rule.Message,
				FirstSeenTick: tick,
				FirstSeenAt:   now,
				Latched:       true,
			}
			e.ledger[key] = a
			raised = append(raised, *a)

		case entry != nil && entry.Acknowledged && rule.Clearable(frame, d):
			delete(e.ledger, key)
			cleared = append(cleared, *entry)
		}
	}

	// Runtime-raised alarms clear once acknowledged and resolved.
	for key, entry := range e.ledger {
		if e.hasRule(entry.Subsystem, entry.Code) {
			continue
		}
		if entry.Acknowledged && !e.manual[key] {
			delete(e.ledger, key)
			cleared = append(cleared, *entry)
		}
	}
	return raised, cleared
}

func (e *AlarmEvaluator) hasRule(subsystem, code string) bool {
	for _, r := range e.rules {
		if r.Subsystem == subsystem && r.Code == code {
			return true
		}
	}
	return false
}

// RaiseManual records a runtime-originated alarm such as PROPAGATION_FAILED.
// Re-raising an active condition keeps the existing ledger entry and id; the
// returned alarm is what should be broadcast.
func (e *AlarmEvaluator) RaiseManual(subsystem, code string, sev model.Severity, msg string, tick uint64, now time.Time) model.Alarm {
	key := ledgerKey(subsystem, code)
	e.manual[key] = true
	if entry, ok := e.ledger[key]; ok {
		return *entry
	}
	a := &model.Alarm{
		ID:            model.AlarmID(subsystem, code, tick),
		Severity:      sev,
		Subsystem:     subsystem,
		Code:          code,
		Message:       msg,
		FirstSeenTick: tick,
		FirstSeenAt:   now,
		Latched:       true,
	}
	e.ledger[key] = a
	return *a
}

// AdoptAlarm restores a persisted ledger entry, so latched alarms survive
// eviction and rehydration. The firing condition is assumed resolved until
// the next Evaluate or RaiseManual says otherwise.
func (e *AlarmEvaluator) AdoptAlarm(a model.Alarm) {
	cp := a
	e.ledger[ledgerKey(a.Subsystem, a.Code)] = &cp
}

// ResolveManual marks a runtime-originated condition as no longer firing.
// The ledger entry stays latched until acknowledged.
func (e *AlarmEvaluator) ResolveManual(subsystem, code string) {
	delete(e.manual, ledgerKey(subsystem, code))
}

// ManualFiring reports whether a runtime-originated condition is active.
func (e *AlarmEvaluator) ManualFiring(subsystem, code string) bool {
	return e.manual[ledgerKey(subsystem, code)]
}

// Acknowledge marks the alarm acknowledged. When the predicate has already
// stopped firing against lastFrame the alarm clears immediately and is
// returned; otherwise it clears at a later Evaluate. Unknown ids are a
// no-op with known=false.
func (e *AlarmEvaluator) Acknowledge(alarmID, by string, now time.Time, lastFrame *model.TelemetryFrame, d model.Difficulty) (known bool, cleared *model.Alarm) {
	for key, entry := range e.ledger {
		if entry.ID != alarmID {
			continue
		}
		if !entry.Acknowledged {
			entry.Acknowledged = true
			entry.AcknowledgedBy = by
			entry.AcknowledgedAt = now
		}

		resolved := false
		if rule, ok := e.ruleFor(entry.Subsystem, entry.Code); ok {
			resolved = rule.Clearable(lastFrame, d)
		} else {
			resolved = !e.manual[key]
		}
		if resolved {
			delete(e.ledger, key)
			c := *entry
			return true, &c
		}
		return true, nil
	}
	return false, nil
}

func (e *AlarmEvaluator) ruleFor(subsystem, code string) (Predicate, bool) {
	for _, r := range e.rules {
		if r.Subsystem == subsystem && r.Code == code {
			return r, true
		}
	}
	return Predicate{}, false
}

// Ledger returns the active alarms ordered by first-seen tick, then code.
func (e *AlarmEvaluator) Ledger() []model.Alarm {
	out := make([]model.Alarm, 0, len(e.ledger))
	for _, a := range e.ledger {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeenTick != out[j].FirstSeenTick {
			return out[i].FirstSeenTick < out[j].FirstSeenTick
		}
		return out[i].Code < out[j].Code
	})
	return out
}
