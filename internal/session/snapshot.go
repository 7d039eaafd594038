package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/mission-runtime/internal/auth"
	"github.com/signalsfoundry/mission-runtime/internal/logging"
	"github.com/signalsfoundry/mission-runtime/internal/store"
	"github.com/signalsfoundry/mission-runtime/model"
)

// ErrSourceNotFound is returned by catalog sources for unknown ids.
var ErrSourceNotFound = errors.New("session: source entity not found")

// ScenarioSource yields scenario templates by id.
type ScenarioSource interface {
	Scenario(ctx context.Context, id string) (model.ScenarioSnapshot, error)
}

// SatelliteSource yields satellite templates by id.
type SatelliteSource interface {
	Satellite(ctx context.Context, id string) (model.SatelliteSnapshot, error)
}

// TutorialSource yields the tutorial sequence for a scenario.
type TutorialSource interface {
	TutorialsForScenario(ctx context.Context, scenarioID string) ([]model.TutorialSpec, error)
}

// Assembler freezes catalog templates into a new session document. The
// copies taken here never change afterwards, whatever happens to the
// catalog.
type Assembler struct {
	scenarios  ScenarioSource
	satellites SatelliteSource
	tutorials  TutorialSource
	store      store.SessionStore
	log        logging.Logger
	now        func() time.Time
}

// NewAssembler builds an assembler over the catalog sources and the session
// store. tutorials may be nil; sessions are then created without a tutorial
// sequence.
func NewAssembler(sc ScenarioSource, sat SatelliteSource, tut TutorialSource, st store.SessionStore, log logging.Logger) *Assembler {
	return &Assembler{
		scenarios:  sc,
		satellites: sat,
		tutorials:  tut,
		store:      st,
		log:        log,
		now:        time.Now,
	}
}

// CreateRequest names the templates a new session is built from.
type CreateRequest struct {
	ScenarioID  string `json:"scenarioId"`
	SatelliteID string `json:"satelliteId"`
}

// Create assembles and persists a new CREATED session owned by p. A missing
// scenario or satellite fails the create; a failing tutorial source only
// degrades it, the session starts with an empty sequence.
func (a *Assembler) Create(ctx context.Context, p auth.Principal, req CreateRequest) (*model.Session, error) {
	scenario, err := a.scenarios.Scenario(ctx, req.ScenarioID)
	if err != nil {
		return nil, fmt.Errorf("snapshot scenario %s: %w", req.ScenarioID, err)
	}
	satellite, err := a.satellites.Satellite(ctx, req.SatelliteID)
	if err != nil {
		return nil, fmt.Errorf("snapshot satellite %s: %w", req.SatelliteID, err)
	}

	var tutorials []model.TutorialSpec
	if a.tutorials != nil {
		tutorials, err = a.tutorials.TutorialsForScenario(ctx, req.ScenarioID)
		if err != nil {
			a.log.Warn(ctx, "tutorial snapshot unavailable, session degraded",
				logging.String("scenario_id", req.ScenarioID),
				logging.String("error", err.Error()))
			tutorials = nil
		}
	}
	sort.SliceStable(tutorials, func(i, j int) bool { return tutorials[i].Order < tutorials[j].Order })

	now := a.now()
	sess := &model.Session{
		ID:       uuid.NewString(),
		OwnerUID: p.UID,
		Snapshots: model.Snapshots{
			Scenario:  scenario,
			Satellite: satellite,
			Tutorials: tutorials,
		},
		State: model.SessionState{
			Status:         model.StatusCreated,
			LastActivityAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := a.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}
	a.log.Info(ctx, "session created",
		logging.String("session_id", sess.ID),
		logging.String("owner_uid", p.UID),
		logging.String("scenario_id", scenario.ID),
		logging.String("satellite_id", satellite.ID))
	return sess.Clone(), nil
}
