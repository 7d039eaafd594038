package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/mission-runtime/internal/auth"
	"github.com/signalsfoundry/mission-runtime/internal/logging"
	"github.com/signalsfoundry/mission-runtime/internal/store"
	"github.com/signalsfoundry/mission-runtime/model"
	"github.com/signalsfoundry/mission-runtime/timectrl"
)

var (
	missionEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	owner        = auth.Principal{UID: "owner-1"}
	instructor   = auth.Principal{UID: "instructor-1", Role: "admin", IsAdmin: true}
	stranger     = auth.Principal{UID: "stranger-1"}
)

// fakeProp synthesizes frames without SGP4: deterministic, controllable, and
// able to fail on demand.
type fakeProp struct {
	mu        sync.Mutex
	calls     int
	failNext  int
	soc       float64 // 0 means nominal 80
	lock      bool    // ground station lock
	signalDBm float64 // 0 means nominal -90
}

func (p *fakeProp) Propagate(_ model.SatelliteSnapshot, elapsed time.Duration, _ model.Difficulty) (*model.TelemetryFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failNext > 0 {
		p.failNext--
		return nil, errors.New("sgp4 diverged")
	}

	f := &model.TelemetryFrame{}
	f.Orbit.AltitudeKm = 410
	f.Orbit.VelocityKmS = 7.7
	f.Subsystems.Power.BatterySOC = 80
	if p.soc != 0 {
		f.Subsystems.Power.BatterySOC = p.soc
	}
	f.Subsystems.Power.BusVoltage = 28
	f.Subsystems.Thermal.PayloadTempC = 20
	f.Subsystems.Thermal.AvionicsTempC = 30
	f.Subsystems.Attitude.Mode = "NADIR"
	f.Subsystems.Attitude.PointingError = 0.1
	f.Subsystems.Comms.GroundStationLock = p.lock
	f.Subsystems.Comms.SignalStrengthDBm = -90
	if p.signalDBm != 0 {
		f.Subsystems.Comms.SignalStrengthDBm = p.signalDBm
	}
	return f, nil
}

func (p *fakeProp) setSOC(v float64) { p.mu.Lock(); p.soc = v; p.mu.Unlock() }
func (p *fakeProp) fail(n int)       { p.mu.Lock(); p.failNext = n; p.mu.Unlock() }
func (p *fakeProp) callCount() int   { p.mu.Lock(); defer p.mu.Unlock(); return p.calls }

type sinkEvent struct {
	Event   string
	Payload any
}

// recordSink is an Outbound that records everything it is handed.
type recordSink struct {
	mu     sync.Mutex
	events []sinkEvent
	states []model.SessionState
}

func (s *recordSink) Send(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{Event: event, Payload: payload})
}

// SendState records into both the state list and the combined event log so
// tests can assert cross-lane ordering.
func (s *recordSink) SendState(payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{Event: "state:update", Payload: payload})
	if st, ok := payload.(model.SessionState); ok {
		s.states = append(s.states, st)
	}
}

func (s *recordSink) eventsOf(event string) []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkEvent
	for _, e := range s.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordSink) stateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *recordSink) lastState(t *testing.T) model.SessionState {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		t.Fatalf("no state updates recorded")
	}
	return s.states[len(s.states)-1]
}

// waitEvent polls for at least n occurrences of event; lane callbacks land
// asynchronously, so broadcasts they trigger need a deadline rather than
// the mailbox barrier.
func (s *recordSink) waitEvent(t *testing.T, event string, n int) []sinkEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := s.eventsOf(event); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q events, have %v", n, event, s.eventsOf(event))
	return nil
}

type fixture struct {
	t     *testing.T
	st    *store.MemoryStore
	clock *timectrl.ManualClock
	prop  *fakeProp
	pers  *Persistor
	rt    *Runtime
}

func testDoc(mutate func(*model.Session)) *model.Session {
	sess := &model.Session{
		ID:       "sess-1",
		OwnerUID: owner.UID,
		Snapshots: model.Snapshots{
			Scenario: model.ScenarioSnapshot{
				ID: "scn-1", Name: "first-orbit", Difficulty: model.DifficultyBeginner, TotalSteps: 2,
			},
			Satellite: model.SatelliteSnapshot{ID: "sat-1", Name: "TRAINER-1"},
		},
		State:     model.SessionState{Status: model.StatusCreated, LastActivityAt: missionEpoch},
		CreatedAt: missionEpoch,
	}
	if mutate != nil {
		mutate(sess)
	}
	return sess
}

func newFixture(t *testing.T, opts Options, mutate func(*model.Session)) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	doc, err := st.Create(context.Background(), testDoc(mutate))
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	f := &fixture{
		t:     t,
		st:    st,
		clock: timectrl.NewManualClock(missionEpoch),
		prop:  &fakeProp{},
		pers:  NewPersistor(st, logging.Noop(), nil, 10*time.Millisecond, 2),
	}
	f.rt = newRuntime(doc.Session, doc.Version, opts.withDefaults(), f.prop, f.clock, f.pers, logging.Noop(), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.rt.Shutdown(ctx)
	})
	return f
}

func (f *fixture) join(p auth.Principal) (*MemberHandle, *recordSink, *model.Session) {
	f.t.Helper()
	sink := &recordSink{}
	h, snap, err := f.rt.Join(context.Background(), p, sink)
	if err != nil {
		f.t.Fatalf("join: %v", err)
	}
	return h, sink, snap
}

// tick advances the clock and then barriers on the mailbox so every
// broadcast from the tick has been delivered.
func (f *fixture) tick(d time.Duration) model.SessionState {
	f.t.Helper()
	f.clock.Advance(d)
	snap, err := f.rt.StateSnapshot(context.Background())
	if err != nil {
		f.t.Fatalf("snapshot after tick: %v", err)
	}
	return snap.State
}

func (f *fixture) submit(p auth.Principal, name string, params map[string]string) SubmitResult {
	f.t.Helper()
	res, err := f.rt.SubmitCommand(context.Background(), p, name, params)
	if err != nil {
		f.t.Fatalf("submit %s: %v", name, err)
	}
	return res
}
