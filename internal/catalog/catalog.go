// internal/catalog/catalog.go
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/signalsfoundry/mission-runtime/internal/session"
	"github.com/signalsfoundry/mission-runtime/model"
)

// Catalog is an in-memory template library: the scenarios, satellites, and
// tutorial sequences sessions are assembled from. Templates are loaded once
// and then only read, so a single RWMutex is plenty.
type Catalog struct {
	mu         sync.RWMutex
	scenarios  map[string]model.ScenarioSnapshot
	satellites map[string]model.SatelliteSnapshot
	tutorials  map[string][]model.TutorialSpec // keyed by scenario id
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		scenarios:  make(map[string]model.ScenarioSnapshot),
		satellites: make(map[string]model.SatelliteSnapshot),
		tutorials:  make(map[string][]model.TutorialSpec),
	}
}

// internal JSON shapes, kept unexported so the file format can evolve.
type catalogJSON struct {
	Scenarios  []model.ScenarioSnapshot        `json:"scenarios"`
	Satellites []model.SatelliteSnapshot       `json:"satellites"`
	Tutorials  map[string][]model.TutorialSpec `json:"tutorials"`
}

// Summary reports what a load brought in. Mainly useful for logging from
// main().
type Summary struct {
	ScenarioIDs  []string
	SatelliteIDs []string
}

// Load reads a JSON catalog from r and merges it into c. It fails only on
// JSON errors; a later entry with a duplicate id replaces the earlier one.
func (c *Catalog) Load(r io.Reader) (*Summary, error) {
	var payload catalogJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("catalog: decode failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sum := &Summary{}
	for _, sc := range payload.Scenarios {
		c.scenarios[sc.ID] = sc
		sum.ScenarioIDs = append(sum.ScenarioIDs, sc.ID)
	}
	for _, sat := range payload.Satellites {
		c.satellites[sat.ID] = sat
		sum.SatelliteIDs = append(sum.SatelliteIDs, sat.ID)
	}
	for scenarioID, seq := range payload.Tutorials {
		c.tutorials[scenarioID] = seq
	}
	return sum, nil
}

// LoadFile is Load over a file path.
func (c *Catalog) LoadFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	return c.Load(f)
}

// AddScenario registers or replaces a scenario template.
func (c *Catalog) AddScenario(sc model.ScenarioSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scenarios[sc.ID] = sc
}

// AddSatellite registers or replaces a satellite template.
func (c *Catalog) AddSatellite(sat model.SatelliteSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.satellites[sat.ID] = sat
}

// SetTutorials registers the tutorial sequence for a scenario.
func (c *Catalog) SetTutorials(scenarioID string, seq []model.TutorialSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tutorials[scenarioID] = seq
}

// Scenario implements session.ScenarioSource.
func (c *Catalog) Scenario(_ context.Context, id string) (model.ScenarioSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sc, ok := c.scenarios[id]
	if !ok {
		return model.ScenarioSnapshot{}, fmt.Errorf("scenario %q: %w", id, session.ErrSourceNotFound)
	}
	return sc, nil
}

// Satellite implements session.SatelliteSource.
func (c *Catalog) Satellite(_ context.Context, id string) (model.SatelliteSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sat, ok := c.satellites[id]
	if !ok {
		return model.SatelliteSnapshot{}, fmt.Errorf("satellite %q: %w", id, session.ErrSourceNotFound)
	}
	return sat, nil
}

// TutorialsForScenario implements session.TutorialSource. A scenario with
// no registered sequence yields an empty slice, not an error.
func (c *Catalog) TutorialsForScenario(_ context.Context, scenarioID string) ([]model.TutorialSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seq := c.tutorials[scenarioID]
	out := make([]model.TutorialSpec, len(seq))
	copy(out, seq)
	return out, nil
}
