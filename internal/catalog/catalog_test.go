package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/mission-runtime/internal/session"
	"github.com/signalsfoundry/mission-runtime/model"
)

const sampleCatalog = `{
  "scenarios": [
    {"id": "scn-1", "name": "first-orbit", "difficulty": "BEGINNER", "totalSteps": 3},
    {"id": "scn-2", "name": "eclipse-ops", "difficulty": "ADVANCED", "totalSteps": 5}
  ],
  "satellites": [
    {"id": "sat-1", "name": "TRAINER-1", "type": "LEO"}
  ],
  "tutorials": {
    "scn-1": [
      {"id": "tut-1", "title": "Power up", "order": 1},
      {"id": "tut-2", "title": "First contact", "order": 2}
    ]
  }
}`

func TestCatalog_LoadAndLookup(t *testing.T) {
	c := New()
	sum, err := c.Load(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sum.ScenarioIDs) != 2 || len(sum.SatelliteIDs) != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	ctx := context.Background()
	sc, err := c.Scenario(ctx, "scn-2")
	if err != nil {
		t.Fatalf("scenario: %v", err)
	}
	if sc.Difficulty != model.DifficultyAdvanced || sc.TotalSteps != 5 {
		t.Errorf("scenario = %+v", sc)
	}
	sat, err := c.Satellite(ctx, "sat-1")
	if err != nil {
		t.Fatalf("satellite: %v", err)
	}
	if sat.Name != "TRAINER-1" {
		t.Errorf("satellite = %+v", sat)
	}
	seq, err := c.TutorialsForScenario(ctx, "scn-1")
	if err != nil {
		t.Fatalf("tutorials: %v", err)
	}
	if len(seq) != 2 || seq[0].ID != "tut-1" {
		t.Errorf("tutorials = %+v", seq)
	}
}

func TestCatalog_UnknownIDs(t *testing.T) {
	c := New()
	ctx := context.Background()

	if _, err := c.Scenario(ctx, "nope"); !errors.Is(err, session.ErrSourceNotFound) {
		t.Errorf("scenario err = %v", err)
	}
	if _, err := c.Satellite(ctx, "nope"); !errors.Is(err, session.ErrSourceNotFound) {
		t.Errorf("satellite err = %v", err)
	}
	// No tutorial sequence is not an error, just an empty session.
	seq, err := c.TutorialsForScenario(ctx, "nope")
	if err != nil {
		t.Fatalf("tutorials err = %v", err)
	}
	if len(seq) != 0 {
		t.Errorf("tutorials = %+v, want none", seq)
	}
}

func TestCatalog_LoadMergesAndReplaces(t *testing.T) {
	c := New()
	c.AddScenario(model.ScenarioSnapshot{ID: "scn-1", Name: "stale", TotalSteps: 1})
	if _, err := c.Load(strings.NewReader(sampleCatalog)); err != nil {
		t.Fatalf("load: %v", err)
	}

	sc, err := c.Scenario(context.Background(), "scn-1")
	if err != nil {
		t.Fatalf("scenario: %v", err)
	}
	if sc.Name != "first-orbit" || sc.TotalSteps != 3 {
		t.Errorf("duplicate id not replaced: %+v", sc)
	}
}

func TestCatalog_LoadRejectsBadJSON(t *testing.T) {
	c := New()
	if _, err := c.Load(strings.NewReader("{not json")); err == nil {
		t.Fatalf("bad JSON accepted")
	}
}

func TestCatalog_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c := New()
	if _, err := c.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if _, err := c.LoadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestCatalog_TutorialSliceIsCopied(t *testing.T) {
	c := New()
	c.SetTutorials("scn-1", []model.TutorialSpec{{ID: "tut-1", Order: 1}})

	seq, _ := c.TutorialsForScenario(context.Background(), "scn-1")
	seq[0].ID = "mutated"

	again, _ := c.TutorialsForScenario(context.Background(), "scn-1")
	if again[0].ID != "tut-1" {
		t.Errorf("catalog entry mutated through returned slice")
	}
}
