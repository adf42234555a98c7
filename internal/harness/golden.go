package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/docgrove/internal/value"
)

// TraceSnapshot is the deterministic part of a scenario result. Run ids and
// hashes are excluded.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to plain Go data for
// value.MarshalCanonical. Empty optional fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step":   ev.Step,
			"kind":   ev.Kind,
			"status": ev.Status,
		}
		if ev.Action != "" {
			m["action"] = ev.Action
		}
		if ev.Code != "" {
			m["code"] = ev.Code
		}
		if len(ev.IDs) > 0 {
			ids := make([]any, len(ev.IDs))
			for j, id := range ev.IDs {
				ids[j] = id
			}
			m["ids"] = ids
		}
		if ev.Proved {
			m["proved"] = true
		}
		traceList[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// Snapshot renders a result's trace as canonical JSON.
func Snapshot(name string, r *Result) ([]byte, error) {
	snap := TraceSnapshot{ScenarioName: name, Trace: r.Trace}
	return value.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
