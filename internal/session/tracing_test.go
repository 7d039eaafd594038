package session

import (
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRuntime_JoinAndTickEmitSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newFixture(t, DefaultOptions(), nil)
	f.join(owner)
	f.tick(time.Second)

	names := make(map[string]int)
	var sessionAttr bool
	for _, s := range exporter.GetSpans() {
		names[s.Name]++
		for _, kv := range s.Attributes {
			if kv.Key == "session_id" && kv.Value.AsString() == "sess-1" {
				sessionAttr = true
			}
		}
	}
	if names["session.join"] == 0 {
		t.Errorf("no session.join span recorded, have %v", names)
	}
	if names["session.tick"] == 0 {
		t.Errorf("no session.tick span recorded, have %v", names)
	}
	if !sessionAttr {
		t.Errorf("spans carry no session_id attribute")
	}
}
