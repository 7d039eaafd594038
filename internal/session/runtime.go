package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/mission-runtime/core"
	"github.com/signalsfoundry/mission-runtime/internal/auth"
	"github.com/signalsfoundry/mission-runtime/internal/logging"
	"github.com/signalsfoundry/mission-runtime/internal/observability"
	"github.com/signalsfoundry/mission-runtime/model"
	"github.com/signalsfoundry/mission-runtime/timectrl"
)

// Outbound is the send side of one connected member. Implementations must
// never block the runtime: sends enqueue into a per-member mailbox whose
// policy decides coalescing. Send is the FIFO lane for TC, alarm, and
// close events; SendState may coalesce so only the freshest state survives.
type Outbound interface {
	Send(event string, payload any)
	SendState(payload any)
}

// MemberHandle identifies one joined operator within a runtime.
type MemberHandle struct {
	UserID   string
	JoinedAt time.Time
	Out      Outbound
}

// SubmitResult is the ack for a command submission.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	QueuePos int    `json:"queuePos,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// AckResult is the ack for an alarm acknowledgement.
type AckResult string

const (
	AckAcknowledged AckResult = "acknowledged"
	AckUnknown      AckResult = "unknown"
)

// Wire event names broadcast by the runtime.
const (
	EventStateUpdate   = "state:update"
	EventTmTc          = "tm_tc:event"
	EventAlarmRaised   = "alarm:raised"
	EventAlarmCleared  = "alarm:cleared"
	EventSessionClosed = "session:closed"
)

// ClosedPayload is the body of a session:closed broadcast.
type ClosedPayload struct {
	Reason string `json:"reason"`
}

// Runtime owns all mutable state of one live session. It is an actor:
// exactly one task at a time executes inside it, driven by a mailbox and
// the session clock.
type Runtime struct {
	id      string
	log     logging.Logger
	metrics *observability.RuntimeCollector
	opts    Options
	prop    core.Propagator
	eval    *core.AlarmEvaluator
	clock   timectrl.Clock
	lane    *Lane
	onExit  func()

	// Everything below is owned by the loop goroutine.
	sess         *model.Session
	vehicle      core.VehicleConfig
	members      map[*MemberHandle]struct{}
	queue        []model.Command
	tick         uint64
	seq          uint64
	propFailures int
	clockStarted bool
	exiting      bool
	exitReason   string

	ops     chan func()
	stopped chan struct{}
	idle    *time.Timer
}

// newRuntime wires a runtime around a hydrated session document. The caller
// (registry) provides the clock, persistor, and exit hook; version is the
// store version the document was loaded at.
func newRuntime(sess *model.Session, version int64, opts Options, prop core.Propagator, clock timectrl.Clock, pers *Persistor, log logging.Logger, metrics *observability.RuntimeCollector, onExit func()) *Runtime {
	r := &Runtime{
		id:      sess.ID,
		log:     logging.SessionLogger(log, sess.ID),
		metrics: metrics,
		opts:    opts,
		prop:    prop,
		eval:    core.NewAlarmEvaluator(),
		clock:   clock,
		onExit:  onExit,
		sess:    sess,
		vehicle: core.DefaultVehicleConfig(),
		members: make(map[*MemberHandle]struct{}),
		ops:     make(chan func(), 16),
		stopped: make(chan struct{}),
	}
	r.lane = pers.Lane(sess.ID, version, LaneCallbacks{
		OnStalled:   r.onPersistStalled,
		OnRecovered: r.onPersistRecovered,
		OnConflict:  r.onPersistConflict,
	})
	// Rehydrate the ledger so latched alarms survive an evict/acquire cycle.
	for _, a := range sess.State.Alarms {
		r.eval.AdoptAlarm(a)
	}
	// A runtime starts empty; if nobody joins it idles out like any other.
	r.idle = time.NewTimer(opts.IdleEviction)
	go r.loop()
	return r
}

// ID returns the session id this runtime owns.
func (r *Runtime) ID() string { return r.id }

// Done is closed once the runtime has exited.
func (r *Runtime) Done() <-chan struct{} { return r.stopped }

// do posts fn into the mailbox and waits for it to run. A join arriving
// while a tick is in flight therefore resolves after the tick completes.
func (r *Runtime) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case r.ops <- op:
	case <-r.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join adds a member and returns the current state snapshot. The first
// successful join activates a CREATED session and starts the clock.
func (r *Runtime) Join(ctx context.Context, p auth.Principal, out Outbound) (*MemberHandle, *model.Session, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.JoinTimeout)
		defer cancel()
	}
	ctx, span := observability.StartSessionSpan(ctx, "session.join", r.id,
		attribute.String("uid", p.UID))
	defer span.End()

	var (
		handle *MemberHandle
		snap   *model.Session
		opErr  error
	)
	err := r.do(ctx, func() {
		if r.exiting {
			opErr = ErrClosed
			return
		}
		h := &MemberHandle{UserID: p.UID, JoinedAt: time.Now(), Out: out}
		r.members[h] = struct{}{}
		if r.metrics != nil {
			r.metrics.MembersConnected.Inc()
		}
		if r.idle != nil {
			r.idle.Stop()
			r.idle = nil
		}

		if r.sess.State.Status == model.StatusCreated {
			r.transition(model.StatusActive)
		}
		if !r.clockStarted && !r.sess.State.Status.Terminal() {
			r.clock.Start()
			r.clockStarted = true
		}

		handle = h
		snap = r.sess.Clone()
	})
	if err != nil {
		return nil, nil, err
	}
	if opErr != nil {
		return nil, nil, opErr
	}
	return handle, snap, nil
}

// Leave removes a member. Leaving with an unknown handle is a no-op. When
// the last member leaves, the idle eviction timer starts.
func (r *Runtime) Leave(ctx context.Context, h *MemberHandle) error {
	return r.do(ctx, func() {
		if _, ok := r.members[h]; !ok {
			return
		}
		delete(r.members, h)
		if r.metrics != nil {
			r.metrics.MembersConnected.Dec()
		}
		if len(r.members) == 0 && r.idle == nil {
			r.idle = time.NewTimer(r.opts.IdleEviction)
		}
	})
}

// validCommandNames are the command names the vehicle understands.
var validCommandNames = map[string]bool{
	model.CmdPauseSession:  true,
	model.CmdResumeSession: true,
	model.CmdAbortSession:  true,
	model.CmdAdvanceStep:   true,
	model.CmdSetAttitude:   true,
	model.CmdDeployAntenna: true,
	model.CmdStowAntenna:   true,
	model.CmdBatteryHeater: true,
}

// lifecycleCommands require the session owner or an admin.
var lifecycleCommands = map[string]bool{
	model.CmdPauseSession:  true,
	model.CmdResumeSession: true,
	model.CmdAbortSession:  true,
}

// SubmitCommand validates and enqueues a command for the next tick slot.
func (r *Runtime) SubmitCommand(ctx context.Context, p auth.Principal, name string, params map[string]string) (SubmitResult, error) {
	var res SubmitResult
	err := r.do(ctx, func() {
		status := r.sess.State.Status
		switch {
		case status.Terminal(), status == model.StatusCreated:
			res = SubmitResult{Accepted: false, Reason: "InvalidState"}
		case status == model.StatusPaused && name != model.CmdResumeSession && name != model.CmdAbortSession:
			res = SubmitResult{Accepted: false, Reason: "InvalidState"}
		case status == model.StatusActive && name == model.CmdResumeSession:
			res = SubmitResult{Accepted: false, Reason: "InvalidState"}
		case !validCommandNames[name]:
			res = SubmitResult{Accepted: false, Reason: "InvalidState"}
		case lifecycleCommands[name] && !p.CanAccess(r.sess.OwnerUID):
			res = SubmitResult{Accepted: false, Reason: "Forbidden"}
		case len(r.queue) >= r.opts.CommandQueueMax:
			res = SubmitResult{Accepted: false, Reason: "backpressure"}
		default:
			r.queue = append(r.queue, model.Command{
				Name:       name,
				Parameters: params,
				IssuedBy:   p.UID,
				EnqueuedAt: time.Now(),
			})
			res = SubmitResult{Accepted: true, QueuePos: len(r.queue)}
			return
		}
		if r.metrics != nil {
			r.metrics.CommandsRejected.WithLabelValues(res.Reason).Inc()
		}
	})
	return res, err
}

// AcknowledgeAlarm marks an alarm acknowledged. Unknown ids are a no-op
// returning AckUnknown.
func (r *Runtime) AcknowledgeAlarm(ctx context.Context, p auth.Principal, alarmID string) (AckResult, error) {
	res := AckUnknown
	err := r.do(ctx, func() {
		known, cleared := r.eval.Acknowledge(alarmID, p.UID, time.Now(), r.sess.State.Telemetry, r.difficulty())
		if !known {
			return
		}
		res = AckAcknowledged
		r.sess.State.Alarms = r.eval.Ledger()
		if cleared != nil {
			r.broadcast(EventAlarmCleared, *cleared)
			r.emitEvent(model.EventTM, cleared.Subsystem, model.SeverityInfo,
				fmt.Sprintf("alarm %s cleared", cleared.Code))
		}
		r.lane.Submit(r.sess.Clone())
	})
	return res, err
}

// StateSnapshot returns a deep copy of the current session state. Used for
// late joiners and the ops surface.
func (r *Runtime) StateSnapshot(ctx context.Context) (*model.Session, error) {
	var snap *model.Session
	err := r.do(ctx, func() { snap = r.sess.Clone() })
	return snap, err
}

// Shutdown flushes final state and terminates the runtime. Used on process
// drain; idle eviction follows the same path internally.
func (r *Runtime) Shutdown(ctx context.Context) error {
	err := r.do(ctx, func() {
		r.exiting = true
		r.exitReason = "drain"
	})
	if err != nil {
		return err
	}
	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- loop ----

func (r *Runtime) loop() {
	ticks := r.clock.Ticks()
	for {
		var idleC <-chan time.Time
		if r.idle != nil {
			idleC = r.idle.C
		}

		select {
		case op := <-r.ops:
			op()
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			r.handleTick(t)
		case <-idleC:
			r.idle = nil
			if len(r.members) == 0 {
				r.exiting = true
				r.exitReason = "idle"
			}
		}

		if r.exiting {
			r.exit()
			return
		}
	}
}

func (r *Runtime) exit() {
	defer close(r.stopped)
	r.clock.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.lane.Submit(r.sess.Clone())
	if err := r.lane.Flush(ctx); err != nil {
		r.sess.State.Status = model.StatusFailed
		r.log.Error(ctx, "final state flush failed",
			logging.String("reason", r.exitReason), logging.String("error", err.Error()))
	} else {
		r.log.Info(ctx, "session runtime stopped",
			logging.String("reason", r.exitReason),
			logging.Float64("elapsed_s", r.sess.State.ElapsedTime))
	}

	if r.metrics != nil {
		r.metrics.SessionsActive.Dec()
		if n := len(r.members); n > 0 {
			r.metrics.MembersConnected.Sub(float64(n))
		}
	}
	if r.onExit != nil {
		r.onExit()
	}
}

func (r *Runtime) difficulty() model.Difficulty {
	return r.sess.Snapshots.Scenario.Difficulty
}

// handleTick runs one simulation step. Steps are atomic from the members'
// view: telemetry, ledger, and elapsed time land in a single state:update.
func (r *Runtime) handleTick(t timectrl.Tick) {
	status := r.sess.State.Status
	if status.Terminal() {
		return
	}

	start := time.Now()
	r.tick++

	_, span := observability.StartSessionSpan(context.Background(), "session.tick", r.id,
		attribute.Int64("tick", int64(r.tick)))
	defer span.End()

	// A delta spanning two or more nominal intervals means the clock
	// dropped beats while a previous tick was still running.
	if r.opts.TickInterval > 0 && t.Delta >= 2*r.opts.TickInterval {
		if r.metrics != nil {
			r.metrics.TicksSkipped.Inc()
		}
		r.emitEvent(model.EventTM, core.SubsystemSimulation, model.SeverityInfo,
			fmt.Sprintf("tick_skipped: delta %s exceeded cadence %s", t.Delta, r.opts.TickInterval))
	}

	wasActive := status == model.StatusActive
	r.drainOneCommand(t)
	nowActive := r.sess.State.Status == model.StatusActive

	if !nowActive {
		// Paused, completed, or failed during the command slot: no
		// propagation, elapsed time stays frozen.
		if r.metrics != nil {
			r.metrics.Ticks.WithLabelValues("paused").Inc()
		}
		r.broadcastState(t.At)
		r.lane.Submit(r.sess.Clone())
		return
	}

	elapsed := r.sess.State.ElapsedTime
	if wasActive {
		elapsed += t.Delta.Seconds()
	}

	frame, err := r.prop.Propagate(r.sess.Snapshots.Satellite, time.Duration(elapsed*float64(time.Second)), r.difficulty())
	if err != nil {
		r.propagationFailed(t, err)
		return
	}
	r.propFailures = 0
	r.eval.ResolveManual(core.SubsystemSimulation, core.CodePropagationFailed)

	core.ApplyVehicleOverrides(frame, r.vehicle)

	raised, cleared := r.eval.Evaluate(frame, r.tick, t.At, r.difficulty())
	r.sess.State = core.MergeTick(r.sess.State, elapsed, frame, r.eval.Ledger(), t.At)

	for _, a := range raised {
		r.broadcast(EventAlarmRaised, a)
		r.emitEvent(model.EventTM, a.Subsystem, a.Severity, a.Message)
		if r.metrics != nil {
			r.metrics.AlarmsRaised.WithLabelValues(a.Severity.String()).Inc()
		}
	}
	for _, a := range cleared {
		r.broadcast(EventAlarmCleared, a)
		r.emitEvent(model.EventTM, a.Subsystem, model.SeverityInfo,
			fmt.Sprintf("alarm %s cleared", a.Code))
	}

	r.broadcastState(t.At)
	r.lane.Submit(r.sess.Clone())

	if r.metrics != nil {
		r.metrics.Ticks.WithLabelValues("ok").Inc()
		r.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// drainOneCommand applies at most one queued command for this tick slot.
func (r *Runtime) drainOneCommand(t timectrl.Tick) {
	if len(r.queue) == 0 {
		return
	}
	cmd := r.queue[0]
	r.queue = r.queue[1:]
	cmd.TickApplied = r.tick

	eff, err := core.ApplyCommand(r.vehicle, cmd)
	if err != nil {
		r.emitEvent(model.EventTC, core.SubsystemSimulation, model.SeverityWarning,
			fmt.Sprintf("command %s rejected: %v", cmd.Name, err))
		return
	}

	r.vehicle = eff.Config
	r.sess.State.CommandsIssued++
	r.emitEvent(model.EventTC, core.SubsystemSimulation, model.SeverityInfo,
		fmt.Sprintf("%s (by %s): %s", cmd.Name, cmd.IssuedBy, eff.Note))

	switch {
	case eff.Pause:
		if r.sess.State.Status == model.StatusActive {
			r.transition(model.StatusPaused)
		}
	case eff.Resume:
		if r.sess.State.Status == model.StatusPaused {
			r.transition(model.StatusActive)
		}
	case eff.Abort:
		r.fail("aborted")
	case eff.AdvanceStep:
		r.sess.State.CurrentStepIndex++
		if total := r.sess.Snapshots.Scenario.TotalSteps; total > 0 && r.sess.State.CurrentStepIndex >= total {
			r.transition(model.StatusCompleted)
		}
	}

	if r.metrics != nil {
		r.metrics.CommandsApplied.Inc()
	}
}

// propagationFailed abandons the tick: state other than the alarm ledger is
// untouched. Three consecutive failures are fatal.
func (r *Runtime) propagationFailed(t timectrl.Tick, err error) {
	r.propFailures++
	r.log.Warn(context.Background(), "orbit propagation failed",
		logging.Uint64("tick", r.tick),
		logging.Int("consecutive", r.propFailures),
		logging.String("error", err.Error()))

	a := r.eval.RaiseManual(core.SubsystemSimulation, core.CodePropagationFailed,
		model.SeverityWarning, "orbit propagation failed; telemetry frozen", r.tick, t.At)
	r.sess.State.Alarms = r.eval.Ledger()
	r.broadcast(EventAlarmRaised, a)
	r.emitEvent(model.EventTM, a.Subsystem, a.Severity, a.Message)

	if r.metrics != nil {
		r.metrics.Ticks.WithLabelValues("propagation_failed").Inc()
	}

	if r.propFailures >= 3 {
		r.fail("propagation_failed")
		r.broadcastState(t.At)
	}
	r.lane.Submit(r.sess.Clone())
}

// onPersistStalled runs on the lane goroutine; hop onto the mailbox.
func (r *Runtime) onPersistStalled() {
	select {
	case r.ops <- func() {
		a := r.eval.RaiseManual(core.SubsystemPersistence, core.CodeStatePersistStalled,
			model.SeverityWarning, "durable state writes stalled; retrying", r.tick, time.Now())
		r.sess.State.Alarms = r.eval.Ledger()
		r.broadcast(EventAlarmRaised, a)
		r.emitEvent(model.EventTM, a.Subsystem, a.Severity, a.Message)
	}:
	case <-r.stopped:
	}
}

func (r *Runtime) onPersistRecovered() {
	select {
	case r.ops <- func() {
		r.eval.ResolveManual(core.SubsystemPersistence, core.CodeStatePersistStalled)
	}:
	case <-r.stopped:
	}
}

// onPersistConflict runs on the lane goroutine. A lost optimistic write
// means another runtime owns this session's document.
func (r *Runtime) onPersistConflict() {
	select {
	case r.ops <- func() {
		r.log.Error(context.Background(), "optimistic write lost; split brain suspected")
		r.fail("split_brain")
	}:
	case <-r.stopped:
	}
}

// fail moves the session to FAILED, stops the clock, and tells the room.
func (r *Runtime) fail(reason string) {
	if r.sess.State.Status.Terminal() {
		return
	}
	r.sess.State.Status = model.StatusFailed
	r.sess.State.LastActivityAt = time.Now()
	r.clock.Stop()
	r.broadcast(EventSessionClosed, ClosedPayload{Reason: reason})
}

// transition applies a status change along the state machine; illegal moves
// are dropped with a log line.
func (r *Runtime) transition(next model.SessionStatus) {
	cur := r.sess.State.Status
	if cur == next {
		return
	}
	if !cur.CanTransition(next) {
		r.log.Warn(context.Background(), "illegal status transition dropped",
			logging.String("from", string(cur)), logging.String("to", string(next)))
		return
	}
	r.sess.State.Status = next
	r.sess.State.LastActivityAt = time.Now()
	if next.Terminal() {
		r.clock.Stop()
	}
}

// ---- broadcast helpers ----

func (r *Runtime) broadcast(event string, payload any) {
	for h := range r.members {
		h.Out.Send(event, payload)
	}
	if r.metrics != nil {
		r.metrics.Broadcasts.WithLabelValues(event).Inc()
	}
}

func (r *Runtime) broadcastState(at time.Time) {
	snap := r.sess.Clone()
	for h := range r.members {
		h.Out.SendState(snap.State)
	}
	if r.metrics != nil {
		r.metrics.Broadcasts.WithLabelValues(EventStateUpdate).Inc()
	}
}

func (r *Runtime) emitEvent(typ model.EventType, subsystem string, sev model.Severity, msg string) {
	r.seq++
	ev := model.TmTcEvent{
		Time:      time.Now(),
		Tick:      r.tick,
		Seq:       r.seq,
		Type:      typ,
		Subsystem: subsystem,
		Severity:  sev,
		Message:   msg,
	}
	r.broadcast(EventTmTc, ev)
}
