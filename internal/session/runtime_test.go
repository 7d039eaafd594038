package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/mission-runtime/core"
	"github.com/signalsfoundry/mission-runtime/model"
)

func TestRuntime_JoinActivatesAndTicks(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)

	_, sink, snap := f.join(owner)
	if snap.State.Status != model.StatusActive {
		t.Fatalf("status after first join = %s, want ACTIVE", snap.State.Status)
	}

	for i := 0; i < 3; i++ {
		f.tick(time.Second)
	}

	st := sink.lastState(t)
	if st.ElapsedTime != 3 {
		t.Errorf("elapsed = %v, want 3", st.ElapsedTime)
	}
	if st.Telemetry == nil {
		t.Errorf("no telemetry in state update")
	}
	if len(st.Alarms) != 0 {
		t.Errorf("healthy run raised alarms: %+v", st.Alarms)
	}
	if got := sink.stateCount(); got < 3 {
		t.Errorf("state updates = %d, want at least 3", got)
	}
	if evs := sink.eventsOf(EventAlarmRaised); len(evs) != 0 {
		t.Errorf("unexpected alarm broadcasts: %+v", evs)
	}
}

func TestRuntime_SecondJoinerGetsSnapshotNotActivation(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)

	f.join(owner)
	f.tick(time.Second)
	f.tick(time.Second)

	_, _, snap := f.join(instructor)
	if snap.State.Status != model.StatusActive || snap.State.ElapsedTime != 2 {
		t.Fatalf("late joiner snapshot = %s at %v, want ACTIVE at 2", snap.State.Status, snap.State.ElapsedTime)
	}
}

func TestRuntime_PauseFreezesSimulation(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	f.join(owner)

	f.tick(time.Second)
	f.tick(time.Second)

	if res := f.submit(owner, model.CmdPauseSession, nil); !res.Accepted {
		t.Fatalf("pause rejected: %+v", res)
	}
	st := f.tick(time.Second) // pause applies in this slot
	if st.Status != model.StatusPaused {
		t.Fatalf("status = %s, want PAUSED", st.Status)
	}
	frozen := st.ElapsedTime
	propCalls := f.prop.callCount()

	for i := 0; i < 3; i++ {
		st = f.tick(time.Second)
	}
	if st.ElapsedTime != frozen {
		t.Errorf("elapsed advanced while paused: %v -> %v", frozen, st.ElapsedTime)
	}
	if f.prop.callCount() != propCalls {
		t.Errorf("propagator ran while paused")
	}

	if res := f.submit(owner, model.CmdResumeSession, nil); !res.Accepted {
		t.Fatalf("resume rejected: %+v", res)
	}
	st = f.tick(time.Second) // resume applies; elapsed still frozen this slot
	if st.Status != model.StatusActive || st.ElapsedTime != frozen {
		t.Fatalf("after resume: %s at %v, want ACTIVE at %v", st.Status, st.ElapsedTime, frozen)
	}
	st = f.tick(time.Second)
	if st.ElapsedTime != frozen+1 {
		t.Errorf("elapsed after resume = %v, want %v", st.ElapsedTime, frozen+1)
	}
}

func TestRuntime_CommandValidation(t *testing.T) {
	opts := DefaultOptions()
	opts.CommandQueueMax = 2
	f := newFixture(t, opts, nil)

	// CREATED: nothing is accepted yet.
	if res := f.submit(owner, model.CmdAdvanceStep, nil); res.Accepted || res.Reason != "InvalidState" {
		t.Fatalf("submit before activation = %+v", res)
	}

	f.join(owner)

	if res := f.submit(owner, "FIRE_THRUSTER", nil); res.Accepted || res.Reason != "InvalidState" {
		t.Errorf("unknown command = %+v", res)
	}
	if res := f.submit(owner, model.CmdResumeSession, nil); res.Accepted || res.Reason != "InvalidState" {
		t.Errorf("resume while active = %+v", res)
	}
	if res := f.submit(stranger, model.CmdPauseSession, nil); res.Accepted || res.Reason != "Forbidden" {
		t.Errorf("lifecycle by stranger = %+v", res)
	}

	// Queue cap: the third concurrent submission sees backpressure.
	a := f.submit(owner, model.CmdDeployAntenna, nil)
	b := f.submit(owner, model.CmdStowAntenna, nil)
	c := f.submit(owner, model.CmdDeployAntenna, nil)
	if !a.Accepted || a.QueuePos != 1 || !b.Accepted || b.QueuePos != 2 {
		t.Fatalf("queue positions: %+v %+v", a, b)
	}
	if c.Accepted || c.Reason != "backpressure" {
		t.Fatalf("over-cap submit = %+v", c)
	}

	// One command drains per tick.
	st := f.tick(time.Second)
	if st.CommandsIssued != 1 {
		t.Errorf("commandsIssued = %d, want 1", st.CommandsIssued)
	}
	st = f.tick(time.Second)
	if st.CommandsIssued != 2 {
		t.Errorf("commandsIssued = %d, want 2", st.CommandsIssued)
	}
}

func TestRuntime_PausedAcceptsOnlyResumeAndAbort(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	f.join(owner)
	f.submit(owner, model.CmdPauseSession, nil)
	f.tick(time.Second)

	if res := f.submit(owner, model.CmdAdvanceStep, nil); res.Accepted || res.Reason != "InvalidState" {
		t.Errorf("advance while paused = %+v", res)
	}
	if res := f.submit(owner, model.CmdPauseSession, nil); res.Accepted {
		t.Errorf("double pause accepted")
	}
	if res := f.submit(owner, model.CmdResumeSession, nil); !res.Accepted {
		t.Errorf("resume while paused rejected: %+v", res)
	}
}

func TestRuntime_AlarmRaiseAckClear(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	_, sink, _ := f.join(owner)

	f.prop.setSOC(15)
	st := f.tick(time.Second)
	if len(st.Alarms) != 1 || st.Alarms[0].Code != "POWER_LOW" {
		t.Fatalf("alarms = %+v, want POWER_LOW", st.Alarms)
	}
	alarmID := st.Alarms[0].ID
	if evs := sink.eventsOf(EventAlarmRaised); len(evs) != 1 {
		t.Fatalf("alarm:raised broadcasts = %d, want 1", len(evs))
	}

	// Telemetry recovers; the unacknowledged alarm latches.
	f.prop.setSOC(80)
	st = f.tick(time.Second)
	if len(st.Alarms) != 1 {
		t.Fatalf("latched alarm vanished without ack: %+v", st.Alarms)
	}
	if evs := sink.eventsOf(EventAlarmCleared); len(evs) != 0 {
		t.Fatalf("cleared without ack: %+v", evs)
	}

	// Acknowledged after recovery: clears immediately.
	res, err := f.rt.AcknowledgeAlarm(context.Background(), owner, alarmID)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if res != AckAcknowledged {
		t.Fatalf("ack result = %v", res)
	}
	sink.waitEvent(t, EventAlarmCleared, 1)

	snap, _ := f.rt.StateSnapshot(context.Background())
	if len(snap.State.Alarms) != 0 {
		t.Errorf("ledger after ack = %+v, want empty", snap.State.Alarms)
	}
}

func TestRuntime_AckUnknownAlarm(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	f.join(owner)

	res, err := f.rt.AcknowledgeAlarm(context.Background(), owner, "alm-bogus")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if res != AckUnknown {
		t.Fatalf("result = %v, want AckUnknown", res)
	}
}

func TestRuntime_BroadcastOrderWithinTick(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	_, sink, _ := f.join(owner)

	f.submit(owner, model.CmdDeployAntenna, nil)
	f.prop.setSOC(15)
	f.tick(time.Second)

	// Within the tick: TC event, then alarm:raised (plus its TM entry), then
	// the state update that reflects both.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	idx := map[string]int{}
	for i, e := range sink.events {
		if _, seen := idx[e.Event]; !seen {
			idx[e.Event] = i
		}
	}
	if !(idx[EventTmTc] < idx[EventAlarmRaised] && idx[EventAlarmRaised] < idx["state:update"]) {
		t.Fatalf("broadcast order wrong: %v", idx)
	}
}

func TestRuntime_CoOperatorCommandsBroadcastInSubmissionOrder(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	_, ownerSink, _ := f.join(owner)
	_, coSink, _ := f.join(instructor)

	first := f.submit(instructor, model.CmdDeployAntenna, nil)
	second := f.submit(instructor, model.CmdStowAntenna, nil)
	if !first.Accepted || !second.Accepted {
		t.Fatalf("submits rejected: %+v %+v", first, second)
	}
	if first.QueuePos >= second.QueuePos {
		t.Fatalf("queue positions %d, %d not increasing", first.QueuePos, second.QueuePos)
	}

	// One command drains per tick slot.
	f.tick(time.Second)
	f.tick(time.Second)

	for _, sink := range []*recordSink{ownerSink, coSink} {
		var tcs []model.TmTcEvent
		for _, e := range sink.eventsOf(EventTmTc) {
			if ev := e.Payload.(model.TmTcEvent); ev.Type == model.EventTC {
				tcs = append(tcs, ev)
			}
		}
		if len(tcs) != 2 {
			t.Fatalf("TC events = %d, want 2: %v", len(tcs), tcs)
		}
		for i, want := range []string{model.CmdDeployAntenna, model.CmdStowAntenna} {
			if !strings.HasPrefix(tcs[i].Message, want+" (by "+instructor.UID+")") {
				t.Errorf("tc event %d = %q, want %s by %s", i, tcs[i].Message, want, instructor.UID)
			}
		}
	}
}

func TestRuntime_PropagationFailureRaisesAndRecovers(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	_, sink, _ := f.join(owner)

	f.prop.fail(2)
	f.tick(time.Second)
	f.tick(time.Second)

	raised := sink.eventsOf(EventAlarmRaised)
	if len(raised) != 2 {
		t.Fatalf("alarm:raised broadcasts = %d, want one per failed tick", len(raised))
	}
	first := raised[0].Payload.(model.Alarm)
	second := raised[1].Payload.(model.Alarm)
	if first.ID != second.ID || first.Code != core.CodePropagationFailed {
		t.Fatalf("re-raise minted a new identity: %+v vs %+v", first, second)
	}

	// Success resets the consecutive counter; the session survives a later
	// isolated failure.
	st := f.tick(time.Second)
	if st.Status != model.StatusActive {
		t.Fatalf("status after recovery = %s", st.Status)
	}
	f.prop.fail(1)
	f.tick(time.Second)
	st = f.tick(time.Second)
	if st.Status != model.StatusActive {
		t.Fatalf("isolated failure killed the session: %s", st.Status)
	}
	if evs := sink.eventsOf(EventSessionClosed); len(evs) != 0 {
		t.Fatalf("unexpected session:closed: %+v", evs)
	}
}

func TestRuntime_ThreeConsecutiveFailuresAreFatal(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	_, sink, _ := f.join(owner)

	f.prop.fail(3)
	f.tick(time.Second)
	f.tick(time.Second)
	st := f.tick(time.Second)

	if st.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", st.Status)
	}
	closed := sink.eventsOf(EventSessionClosed)
	if len(closed) != 1 {
		t.Fatalf("session:closed = %d, want 1", len(closed))
	}
	if p := closed[0].Payload.(ClosedPayload); p.Reason != "propagation_failed" {
		t.Errorf("reason = %q", p.Reason)
	}

	if res := f.submit(owner, model.CmdAdvanceStep, nil); res.Accepted || res.Reason != "InvalidState" {
		t.Errorf("terminal session accepted a command: %+v", res)
	}
}

func TestRuntime_AbortFailsSession(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	_, sink, _ := f.join(owner)
	f.tick(time.Second)

	// The instructor may abort a session they do not own.
	if res := f.submit(instructor, model.CmdAbortSession, nil); !res.Accepted {
		t.Fatalf("instructor abort rejected: %+v", res)
	}
	st := f.tick(time.Second)
	if st.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", st.Status)
	}
	closed := sink.eventsOf(EventSessionClosed)
	if len(closed) != 1 || closed[0].Payload.(ClosedPayload).Reason != "aborted" {
		t.Fatalf("session:closed = %+v", closed)
	}
}

func TestRuntime_CompletionEmitsNoClosedEvent(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	_, sink, _ := f.join(owner)

	f.submit(owner, model.CmdAdvanceStep, nil)
	st := f.tick(time.Second)
	if st.CurrentStepIndex != 1 || st.Status != model.StatusActive {
		t.Fatalf("after first step: index=%d status=%s", st.CurrentStepIndex, st.Status)
	}

	f.submit(owner, model.CmdAdvanceStep, nil)
	st = f.tick(time.Second)
	if st.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", st.Status)
	}
	if evs := sink.eventsOf(EventSessionClosed); len(evs) != 0 {
		t.Fatalf("completion broadcast session:closed: %+v", evs)
	}
}

func TestRuntime_OverlongDeltaEmitsSkipEvent(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	_, sink, _ := f.join(owner)

	st := f.tick(3 * time.Second)
	if st.ElapsedTime != 3 {
		t.Errorf("elapsed = %v, want the full accumulated delta", st.ElapsedTime)
	}

	found := false
	for _, e := range sink.eventsOf(EventTmTc) {
		ev := e.Payload.(model.TmTcEvent)
		if strings.HasPrefix(ev.Message, "tick_skipped") {
			found = true
		}
	}
	if !found {
		t.Errorf("no tick_skipped event for an overlong delta")
	}
}

func TestRuntime_IdleEvictionFlushesFinalState(t *testing.T) {
	opts := DefaultOptions()
	opts.IdleEviction = 30 * time.Millisecond
	f := newFixture(t, opts, nil)

	h, _, _ := f.join(owner)
	f.tick(time.Second)
	f.tick(time.Second)
	if err := f.rt.Leave(context.Background(), h); err != nil {
		t.Fatalf("leave: %v", err)
	}

	select {
	case <-f.rt.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("runtime did not exit after idle window")
	}

	doc, err := f.st.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get after evict: %v", err)
	}
	if doc.Session.State.ElapsedTime != 2 || doc.Session.State.Status != model.StatusActive {
		t.Errorf("persisted state = %v/%s, want 2/ACTIVE",
			doc.Session.State.ElapsedTime, doc.Session.State.Status)
	}
	if doc.Version < 2 {
		t.Errorf("version = %d, final flush missing", doc.Version)
	}
}

func TestRuntime_RejoinCancelsIdleEviction(t *testing.T) {
	opts := DefaultOptions()
	opts.IdleEviction = 80 * time.Millisecond
	f := newFixture(t, opts, nil)

	h, _, _ := f.join(owner)
	f.rt.Leave(context.Background(), h)
	f.join(owner) // back before the window expires

	time.Sleep(150 * time.Millisecond)
	select {
	case <-f.rt.Done():
		t.Fatalf("runtime exited despite the rejoin")
	default:
	}
}

func TestRuntime_SplitBrainFailsSession(t *testing.T) {
	f := newFixture(t, DefaultOptions(), nil)
	_, sink, _ := f.join(owner)

	// Another writer bumps the stored version behind the runtime's back.
	ctx := context.Background()
	for {
		doc, err := f.st.Get(ctx, "sess-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if _, err := f.st.Put(ctx, doc.Session, doc.Version); err == nil {
			break
		}
	}

	f.tick(time.Second)
	closed := sink.waitEvent(t, EventSessionClosed, 1)
	if closed[0].Payload.(ClosedPayload).Reason != "split_brain" {
		t.Fatalf("reason = %+v", closed[0].Payload)
	}

	snap, err := f.rt.StateSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State.Status != model.StatusFailed {
		t.Errorf("status = %s, want FAILED", snap.State.Status)
	}
}

func TestRuntime_RehydratedAlarmsSurvive(t *testing.T) {
	f := newFixture(t, DefaultOptions(), func(s *model.Session) {
		s.State.Status = model.StatusActive
		s.State.Alarms = []model.Alarm{{
			ID: "alm-old", Subsystem: core.SubsystemPower, Code: "POWER_LOW",
			Severity: model.SeverityCritical, FirstSeenTick: 7, Latched: true,
		}}
	})
	f.join(owner)

	st := f.tick(time.Second)
	if len(st.Alarms) != 1 || st.Alarms[0].ID != "alm-old" {
		t.Fatalf("rehydrated ledger = %+v", st.Alarms)
	}

	res, err := f.rt.AcknowledgeAlarm(context.Background(), owner, "alm-old")
	if err != nil || res != AckAcknowledged {
		t.Fatalf("ack restored alarm: %v %v", res, err)
	}
}
