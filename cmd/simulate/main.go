// cmd/simulate runs one session headless: no server, no websocket, just the
// runtime ticking against a manual clock with telemetry printed per step.
// Useful for smoke-testing scenarios and alarm rules.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/signalsfoundry/mission-runtime/core"
	"github.com/signalsfoundry/mission-runtime/internal/auth"
	"github.com/signalsfoundry/mission-runtime/internal/catalog"
	"github.com/signalsfoundry/mission-runtime/internal/logging"
	"github.com/signalsfoundry/mission-runtime/internal/session"
	"github.com/signalsfoundry/mission-runtime/internal/store"
	"github.com/signalsfoundry/mission-runtime/model"
	"github.com/signalsfoundry/mission-runtime/timectrl"
)

// ISS TLE, frozen for repeatable runs.
const (
	defaultTLE1 = "1 25544U 98067A   24001.50000000  .00016717  00000-0  10270-3 0  9000"
	defaultTLE2 = "2 25544  51.6400 208.9163 0006317  69.9862 290.2553 15.49560000430000"
)

func main() {
	steps := flag.Int("steps", 60, "number of simulation steps")
	tick := flag.Duration("tick", 1*time.Second, "simulated tick interval")
	difficulty := flag.String("difficulty", "BEGINNER", "scenario difficulty (BEGINNER, INTERMEDIATE, ADVANCED)")
	catalogPath := flag.String("catalog", "", "optional catalog JSON; built-in demo scenario when empty")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cat := catalog.New()
	scenarioID, satelliteID := "demo-orbit", "demo-sat"
	if *catalogPath != "" {
		sum, err := cat.LoadFile(*catalogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "catalog: %v\n", err)
			os.Exit(1)
		}
		if len(sum.ScenarioIDs) == 0 || len(sum.SatelliteIDs) == 0 {
			fmt.Fprintln(os.Stderr, "catalog: needs at least one scenario and one satellite")
			os.Exit(1)
		}
		scenarioID, satelliteID = sum.ScenarioIDs[0], sum.SatelliteIDs[0]
	} else {
		cat.AddScenario(model.ScenarioSnapshot{
			ID: scenarioID, Name: "demo-orbit", Title: "Demo orbit pass",
			Difficulty: model.Difficulty(*difficulty), TotalSteps: 5,
		})
		cat.AddSatellite(model.SatelliteSnapshot{
			ID: satelliteID, Name: "ISS (ZARYA)", NoradID: 25544,
			TLE1: defaultTLE1, TLE2: defaultTLE2, Type: "STATION", Status: "ACTIVE",
		})
	}

	st := store.NewMemoryStore()
	missionStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prop := core.NewSGP4Propagator(missionStart)
	pers := session.NewPersistor(st, log, nil, 500*time.Millisecond, 3)

	opts := session.DefaultOptions()
	opts.TickInterval = *tick
	registry := session.NewRegistry(st, pers, prop, opts, log, nil)

	clock := timectrl.NewManualClock(missionStart)
	registry.SetClockFactory(func() timectrl.Clock { return clock })

	operator := auth.Principal{UID: "simulate-cli"}
	assembler := session.NewAssembler(cat, cat, cat, st, log)
	sess, err := assembler.Create(ctx, operator, session.CreateRequest{
		ScenarioID:  scenarioID,
		SatelliteID: satelliteID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create session: %v\n", err)
		os.Exit(1)
	}

	rt, err := registry.Acquire(ctx, operator, sess.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "acquire: %v\n", err)
		os.Exit(1)
	}

	sink := &printSink{}
	handle, _, err := rt.Join(ctx, operator, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "join: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *steps; i++ {
		clock.Advance(*tick)
	}

	final, err := rt.StateSnapshot(ctx)
	if err == nil {
		out, _ := json.MarshalIndent(final.State, "", "  ")
		fmt.Printf("\nfinal state after %d steps:\n%s\n", *steps, out)
	}

	_ = rt.Leave(ctx, handle)
	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = registry.Drain(drainCtx)
}

// printSink implements session.Outbound by line-printing every event.
type printSink struct{}

func (printSink) Send(event string, payload any) {
	b, _ := json.Marshal(payload)
	fmt.Printf("%-14s %s\n", event, b)
}

func (printSink) SendState(payload any) {
	st, ok := payload.(model.SessionState)
	if !ok {
		return
	}
	fmt.Printf("state:update   t=%7.1fs status=%s alarms=%d commands=%d\n",
		st.ElapsedTime, st.Status, len(st.Alarms), st.CommandsIssued)
}
