package session

import "time"

// Options tunes the per-session runtime machinery.
type Options struct {
	// TickInterval is the simulation cadence.
	TickInterval time.Duration
	// IdleEviction is how long a zero-member runtime lives before it
	// flushes and exits.
	IdleEviction time.Duration
	// CommandQueueMax caps the per-session command backlog; submissions
	// beyond it are rejected with backpressure.
	CommandQueueMax int
	// PersistCoalesce is the minimum interval between durable writes for
	// one session.
	PersistCoalesce time.Duration
	// PersistRetryCap is the attempt budget before STATE_PERSIST_STALLED
	// is raised. Retrying continues past the cap.
	PersistRetryCap int
	// JoinTimeout bounds the join handshake.
	JoinTimeout time.Duration
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		TickInterval:    time.Second,
		IdleEviction:    30 * time.Second,
		CommandQueueMax: 32,
		PersistCoalesce: 2 * time.Second,
		PersistRetryCap: 5,
		JoinTimeout:     10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.IdleEviction <= 0 {
		o.IdleEviction = d.IdleEviction
	}
	if o.CommandQueueMax <= 0 {
		o.CommandQueueMax = d.CommandQueueMax
	}
	if o.PersistCoalesce <= 0 {
		o.PersistCoalesce = d.PersistCoalesce
	}
	if o.PersistRetryCap <= 0 {
		o.PersistRetryCap = d.PersistRetryCap
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = d.JoinTimeout
	}
	return o
}
