package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/nullguard/internal/ir"
)

// TraceSnapshot captures the trace of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. ir.MarshalCanonical only handles maps, slices and
// scalars.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":     event.Seq,
			"call":    event.Call,
			"args":    event.Args,
			"outcome": event.Outcome,
		}
		if event.Outcome == OutcomeReturns {
			eventMap["value"] = event.Value
		}
		if event.Exception != "" {
			eventMap["exception"] = event.Exception
		}
		traceList[i] = eventMap
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// MarshalTrace renders a trace as canonical JSON, the format of golden
// trace files.
func MarshalTrace(name string, trace []TraceEvent) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// AssertGoldenTrace compares a result's trace against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGoldenTrace(t *testing.T, name string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(name, result.Trace)
	if err != nil {
		return err
	}

	newGoldie(t).Assert(t, name, traceJSON)
	return nil
}

// AssertGoldenListing compares the disassembly of an assembly against
// testdata/golden/{name}.golden.
func AssertGoldenListing(t *testing.T, name string, asm *ir.Assembly) {
	t.Helper()
	newGoldie(t).Assert(t, name, []byte(ir.Disassemble(asm)))
}
