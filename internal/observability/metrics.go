package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RuntimeCollector bundles Prometheus metrics for the session runtime and
// provides the /metrics handler for the ops mux.
type RuntimeCollector struct {
	gatherer prometheus.Gatherer

	SessionsActive   prometheus.Gauge
	MembersConnected prometheus.Gauge

	Ticks            *prometheus.CounterVec
	TicksSkipped     prometheus.Counter
	TickDuration     prometheus.Histogram
	CommandsApplied  prometheus.Counter
	CommandsRejected *prometheus.CounterVec
	AlarmsRaised     *prometheus.CounterVec
	Broadcasts       *prometheus.CounterVec
	UpdatesCoalesced prometheus.Counter
	PersistWrites    *prometheus.CounterVec
	PersistRetries   prometheus.Counter
	PersistLatency   prometheus.Histogram
}

// NewRuntimeCollector registers runtime metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewRuntimeCollector(reg prometheus.Registerer) (*RuntimeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_ticks_total",
		Help: "Completed simulation ticks, labeled by outcome (ok, propagation_failed, paused).",
	}, []string{"outcome"})
	ticks, err := registerCounterVec(reg, ticks, "session_ticks_total")
	if err != nil {
		return nil, err
	}

	skipped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_ticks_skipped_total",
		Help: "Clock beats dropped because the previous tick was still running.",
	}), "session_ticks_skipped_total")
	if err != nil {
		return nil, err
	}

	tickDur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_tick_duration_seconds",
		Help:    "Wall time spent inside one simulation tick.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	})
	tickDur, err = registerHistogram(reg, tickDur, "session_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	cmdApplied, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_commands_applied_total",
		Help: "Telecommands drained from session queues and applied.",
	}), "session_commands_applied_total")
	if err != nil {
		return nil, err
	}

	cmdRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_commands_rejected_total",
		Help: "Telecommand submissions rejected, labeled by reason.",
	}, []string{"reason"})
	cmdRejected, err = registerCounterVec(reg, cmdRejected, "session_commands_rejected_total")
	if err != nil {
		return nil, err
	}

	alarms := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_alarms_raised_total",
		Help: "Alarms raised, labeled by severity.",
	}, []string{"severity"})
	alarms, err = registerCounterVec(reg, alarms, "session_alarms_raised_total")
	if err != nil {
		return nil, err
	}

	broadcasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_broadcasts_total",
		Help: "Server events fanned out to session rooms, labeled by event.",
	}, []string{"event"})
	broadcasts, err = registerCounterVec(reg, broadcasts, "session_broadcasts_total")
	if err != nil {
		return nil, err
	}

	coalesced, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_state_updates_coalesced_total",
		Help: "state:update frames superseded in a degraded member's mailbox.",
	}), "session_state_updates_coalesced_total")
	if err != nil {
		return nil, err
	}

	persistWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_persist_writes_total",
		Help: "Durable state writes, labeled by outcome (ok, error, conflict).",
	}, []string{"outcome"})
	persistWrites, err = registerCounterVec(reg, persistWrites, "session_persist_writes_total")
	if err != nil {
		return nil, err
	}

	persistRetries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_persist_retries_total",
		Help: "Retries of failed durable state writes.",
	}), "session_persist_retries_total")
	if err != nil {
		return nil, err
	}

	persistLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_persist_latency_seconds",
		Help:    "Durable write latency in seconds.",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})
	persistLatency, err = registerHistogram(reg, persistLatency, "session_persist_latency_seconds")
	if err != nil {
		return nil, err
	}

	sessions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Live session runtimes in this process.",
	}), "sessions_active")
	if err != nil {
		return nil, err
	}
	members, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "session_members_connected",
		Help: "Operators currently connected across all sessions.",
	}), "session_members_connected")
	if err != nil {
		return nil, err
	}

	return &RuntimeCollector{
		gatherer:         gatherer,
		SessionsActive:   sessions,
		MembersConnected: members,
		Ticks:            ticks,
		TicksSkipped:     skipped,
		TickDuration:     tickDur,
		CommandsApplied:  cmdApplied,
		CommandsRejected: cmdRejected,
		AlarmsRaised:     alarms,
		Broadcasts:       broadcasts,
		UpdatesCoalesced: coalesced,
		PersistWrites:    persistWrites,
		PersistRetries:   persistRetries,
		PersistLatency:   persistLatency,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RuntimeCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
