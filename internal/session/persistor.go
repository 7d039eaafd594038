package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/signalsfoundry/mission-runtime/internal/logging"
	"github.com/signalsfoundry/mission-runtime/internal/observability"
	"github.com/signalsfoundry/mission-runtime/internal/store"
	"github.com/signalsfoundry/mission-runtime/model"
)

// Persistor writes session state to the store without coupling tick latency
// to storage latency. Each live session gets one Lane; a lane keeps at most
// one write in flight and the newest pending snapshot supersedes older ones.
type Persistor struct {
	store    store.SessionStore
	log      logging.Logger
	metrics  *observability.RuntimeCollector
	coalesce time.Duration
	retryCap int
}

// NewPersistor builds a persistor over the given store.
func NewPersistor(st store.SessionStore, log logging.Logger, metrics *observability.RuntimeCollector, coalesce time.Duration, retryCap int) *Persistor {
	if log == nil {
		log = logging.Noop()
	}
	if coalesce <= 0 {
		coalesce = 2 * time.Second
	}
	if retryCap <= 0 {
		retryCap = 5
	}
	return &Persistor{
		store:    st,
		log:      log,
		metrics:  metrics,
		coalesce: coalesce,
		retryCap: retryCap,
	}
}

// LaneCallbacks notify the owning runtime about persistence trouble. All
// callbacks fire from the lane goroutine; implementations must hand off to
// the runtime mailbox rather than touching runtime state directly.
type LaneCallbacks struct {
	// OnStalled fires once per stall episode, after the retry cap is spent.
	OnStalled func()
	// OnRecovered fires when a stalled lane completes a write.
	OnRecovered func()
	// OnConflict fires when an optimistic write detects another writer.
	// The runtime treats this as split-brain evidence.
	OnConflict func()
}

// Lane is the per-session write channel of the Persistor.
type Lane struct {
	p         *Persistor
	sessionID string
	cb        LaneCallbacks
	log       logging.Logger

	mu      sync.Mutex
	pending *model.Session
	version int64
	stalled bool
	broken  bool // conflict observed; no further writes

	kick       chan struct{}
	stopCtx    context.Context
	stopCancel context.CancelFunc
	done       chan struct{}
}

// Lane opens the write lane for a session currently at the given store
// version.
func (p *Persistor) Lane(sessionID string, version int64, cb LaneCallbacks) *Lane {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lane{
		p:          p,
		sessionID:  sessionID,
		cb:         cb,
		log:        logging.SessionLogger(p.log, sessionID),
		version:    version,
		kick:       make(chan struct{}, 1),
		stopCtx:    ctx,
		stopCancel: cancel,
		done:       make(chan struct{}),
	}
	go l.loop()
	return l
}

// Submit queues a snapshot for durable write. Never blocks; a newer
// snapshot replaces any older pending one.
func (l *Lane) Submit(sess *model.Session) {
	l.mu.Lock()
	if l.broken {
		l.mu.Unlock()
		return
	}
	l.pending = sess
	l.mu.Unlock()

	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Flush stops the background loop and writes any pending snapshot
// synchronously. Used on graceful shutdown; a returned error means the
// final state did not reach the store.
func (l *Lane) Flush(ctx context.Context) error {
	l.stopCancel()
	<-l.done

	l.mu.Lock()
	sess := l.pending
	version := l.version
	broken := l.broken
	l.mu.Unlock()

	if broken {
		return fmt.Errorf("flush session %q: %w", l.sessionID, store.ErrVersionConflict)
	}
	if sess == nil {
		return nil
	}

	start := time.Now()
	doc, err := l.p.store.Put(ctx, sess, version)
	l.observeWrite(start, err)
	if err != nil {
		return fmt.Errorf("flush session %q: %w", l.sessionID, err)
	}

	l.mu.Lock()
	l.version = doc.Version
	if l.pending == sess {
		l.pending = nil
	}
	l.mu.Unlock()
	return nil
}

// Close stops the lane without a final write.
func (l *Lane) Close() {
	l.stopCancel()
	<-l.done
}

func (l *Lane) loop() {
	defer close(l.done)

	for {
		select {
		case <-l.stopCtx.Done():
			return
		case <-l.kick:
		}

		l.mu.Lock()
		sess := l.pending
		broken := l.broken
		l.mu.Unlock()
		if sess == nil || broken {
			continue
		}

		l.write(sess)

		// Honor the coalescing interval before the next write.
		select {
		case <-l.stopCtx.Done():
			return
		case <-time.After(l.p.coalesce):
		}

		// A snapshot may have arrived while waiting; make sure it is not
		// stranded behind an already-consumed kick.
		l.mu.Lock()
		again := l.pending != nil && !l.broken
		l.mu.Unlock()
		if again {
			select {
			case l.kick <- struct{}{}:
			default:
			}
		}
	}
}

// write pushes one snapshot with capped exponential backoff; past the cap it
// reports a stall and keeps retrying until success, conflict, or shutdown.
func (l *Lane) write(sess *model.Session) {
	attempts := 0
	op := func() (store.Doc, error) {
		l.mu.Lock()
		version := l.version
		l.mu.Unlock()

		attempts++
		if attempts > 1 && l.p.metrics != nil {
			l.p.metrics.PersistRetries.Inc()
		}

		start := time.Now()
		doc, err := l.p.store.Put(l.stopCtx, sess, version)
		l.observeWrite(start, err)
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrNotFound) {
			return store.Doc{}, backoff.Permanent(err)
		}
		return doc, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = 5 * time.Second

	doc, err := backoff.Retry(l.stopCtx, op, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(l.p.retryCap)))
	if err != nil {
		if l.stopCtx.Err() != nil {
			return
		}
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrNotFound) {
			l.conflict(err)
			return
		}

		l.log.Warn(l.stopCtx, "durable write stalled; continuing to retry",
			logging.Int("attempts", attempts), logging.String("error", err.Error()))
		l.mu.Lock()
		l.stalled = true
		l.mu.Unlock()
		if l.cb.OnStalled != nil {
			l.cb.OnStalled()
		}

		// Unbounded phase: only success, conflict, or shutdown ends it.
		doc, err = backoff.Retry(l.stopCtx, op, backoff.WithBackOff(expo))
		if err != nil {
			if l.stopCtx.Err() == nil && (errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrNotFound)) {
				l.conflict(err)
			}
			return
		}
	}

	l.mu.Lock()
	l.version = doc.Version
	if l.pending == sess {
		l.pending = nil
	}
	wasStalled := l.stalled
	l.stalled = false
	l.mu.Unlock()

	if wasStalled && l.cb.OnRecovered != nil {
		l.cb.OnRecovered()
	}
}

func (l *Lane) conflict(err error) {
	l.log.Error(l.stopCtx, "optimistic write conflict; another writer owns this session",
		logging.String("error", err.Error()))
	l.mu.Lock()
	l.broken = true
	l.mu.Unlock()
	if l.cb.OnConflict != nil {
		l.cb.OnConflict()
	}
}

func (l *Lane) observeWrite(start time.Time, err error) {
	if l.p.metrics == nil {
		return
	}
	l.p.metrics.PersistLatency.Observe(time.Since(start).Seconds())
	outcome := "ok"
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		outcome = "conflict"
	case err != nil:
		outcome = "error"
	}
	l.p.metrics.PersistWrites.WithLabelValues(outcome).Inc()
}
