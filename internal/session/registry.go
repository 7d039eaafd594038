package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/mission-runtime/core"
	"github.com/signalsfoundry/mission-runtime/internal/auth"
	"github.com/signalsfoundry/mission-runtime/internal/logging"
	"github.com/signalsfoundry/mission-runtime/internal/observability"
	"github.com/signalsfoundry/mission-runtime/internal/store"
	"github.com/signalsfoundry/mission-runtime/timectrl"
)

// regEntry is one in-flight or live runtime slot. Concurrent acquires of
// the same session share the slot: the first caller hydrates, the rest wait
// on ready.
type regEntry struct {
	ready chan struct{}
	rt    *Runtime
	owner string
	err   error
}

// Registry maps session ids to live runtimes, spawning at most one runtime
// per session per process.
type Registry struct {
	store   store.SessionStore
	pers    *Persistor
	prop    core.Propagator
	opts    Options
	log     logging.Logger
	metrics *observability.RuntimeCollector

	// newClock is swapped for a manual clock in tests.
	newClock func() timectrl.Clock

	mu      sync.Mutex
	entries map[string]*regEntry
}

// NewRegistry builds a registry over a store and persistor.
func NewRegistry(st store.SessionStore, pers *Persistor, prop core.Propagator, opts Options, log logging.Logger, metrics *observability.RuntimeCollector) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		store:    st,
		pers:     pers,
		prop:     prop,
		opts:     opts,
		log:      log,
		metrics:  metrics,
		newClock: func() timectrl.Clock { return timectrl.NewWallClock(opts.TickInterval) },
		entries:  make(map[string]*regEntry),
	}
}

// SetClockFactory overrides tick source construction. Test hook.
func (g *Registry) SetClockFactory(f func() timectrl.Clock) { g.newClock = f }

// Acquire returns the live runtime for sessionID, hydrating it from the
// store if needed. N concurrent acquires of an unloaded session produce
// exactly one store read and one runtime. Principals that can not access
// the session get ErrForbidden; the runtime keeps running for those who
// can.
func (g *Registry) Acquire(ctx context.Context, p auth.Principal, sessionID string) (*Runtime, error) {
	for {
		g.mu.Lock()
		e, ok := g.entries[sessionID]
		if !ok {
			e = &regEntry{ready: make(chan struct{})}
			g.entries[sessionID] = e
			g.mu.Unlock()
			g.hydrate(ctx, p, sessionID, e)
		} else {
			g.mu.Unlock()
		}

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if e.err != nil {
			// A forbidden hydrator releases the slot without spawning.
			// A waiter with real access retries against a fresh slot.
			if errors.Is(e.err, ErrForbidden) && p.CanAccess(e.owner) {
				continue
			}
			return nil, e.err
		}

		// The runtime may have exited between lookup and here (idle
		// eviction races a late acquire). Retry with a fresh slot.
		select {
		case <-e.rt.Done():
			g.mu.Lock()
			if g.entries[sessionID] == e {
				delete(g.entries, sessionID)
			}
			g.mu.Unlock()
			continue
		default:
		}

		if !p.CanAccess(e.owner) {
			return nil, ErrForbidden
		}
		return e.rt, nil
	}
}

// hydrate loads the session document and spawns its runtime. Errors are
// published through the entry and the slot is released so a later acquire
// can retry. The hydrating principal is access-checked before any runtime
// starts; a forbidden acquire must not leave a live runtime behind.
func (g *Registry) hydrate(ctx context.Context, p auth.Principal, sessionID string, e *regEntry) {
	defer close(e.ready)

	release := func() {
		g.mu.Lock()
		if g.entries[sessionID] == e {
			delete(g.entries, sessionID)
		}
		g.mu.Unlock()
	}

	doc, err := g.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.err = ErrNotFound
		} else {
			e.err = fmt.Errorf("load session %s: %w", sessionID, err)
		}
		release()
		return
	}

	e.owner = doc.Session.OwnerUID
	if !p.CanAccess(e.owner) {
		e.err = ErrForbidden
		release()
		return
	}

	onExit := func() {
		g.mu.Lock()
		if g.entries[sessionID] == e {
			delete(g.entries, sessionID)
		}
		g.mu.Unlock()
	}

	e.rt = newRuntime(doc.Session, doc.Version, g.opts, g.prop, g.newClock(), g.pers, g.log, g.metrics, onExit)
	if g.metrics != nil {
		g.metrics.SessionsActive.Inc()
	}
	g.log.Info(ctx, "session runtime started",
		logging.String("session_id", sessionID),
		logging.String("status", string(doc.Session.State.Status)))
}

// List returns the ids of sessions with a live runtime, sorted.
func (g *Registry) List() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.entries))
	for id, e := range g.entries {
		select {
		case <-e.ready:
			if e.err == nil {
				ids = append(ids, id)
			}
		default:
		}
	}
	sort.Strings(ids)
	return ids
}

// Drain shuts every live runtime down, flushing final state. Used on
// process shutdown.
func (g *Registry) Drain(ctx context.Context) error {
	g.mu.Lock()
	live := make([]*regEntry, 0, len(g.entries))
	for _, e := range g.entries {
		live = append(live, e)
	}
	g.mu.Unlock()

	var firstErr error
	for _, e := range live {
		select {
		case <-e.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		if e.err != nil || e.rt == nil {
			continue
		}
		if err := e.rt.Shutdown(ctx); err != nil && !errors.Is(err, ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
