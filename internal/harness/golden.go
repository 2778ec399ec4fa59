package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/diamondctl/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	RunID        string       `json:"run_id,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"type": event.Type,
			"run":  event.Run,
			"seq":  event.Seq,
		}
		if event.Facet != "" {
			eventMap["facet"] = event.Facet
		}
		if event.Type == EventDeploy {
			eventMap["version"] = event.Version
		}
		if event.Action != "" {
			eventMap["action"] = event.Action
		}
		if len(event.Selectors) > 0 {
			sels := make([]any, len(event.Selectors))
			for j, sel := range event.Selectors {
				sels[j] = sel
			}
			eventMap["selectors"] = sels
		}
		if event.Calldata != "" {
			eventMap["calldata"] = event.Calldata
		}
		if event.Type == EventPersist {
			eventMap["facets"] = event.Facets
			eventMap["protocol_version"] = event.ProtocolVersion
		}
		if event.Callback != "" {
			eventMap["callback"] = event.Callback
		}
		if event.Phase != "" {
			eventMap["phase"] = event.Phase
		}
		traceList[i] = eventMap
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.RunID != "" {
		result["run_id"] = s.RunID
	}
	return result
}

// Snapshot renders the canonical trace snapshot a golden file holds for a
// scenario run.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		RunID:        scenario.RunID,
		Trace:        result.Trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// GoldenPath returns the golden file for a scenario file:
// {dir}/golden/{base}.golden.
func GoldenPath(scenarioFile string) string {
	base := strings.TrimSuffix(filepath.Base(scenarioFile), filepath.Ext(scenarioFile))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", base+".golden")
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/scenarios/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	data, err := Snapshot(scenario, result)
	if err != nil {
		return nil, err
	}
	assertGolden(t, scenario.Name, data)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()
	data, err := Snapshot(scenario, result)
	if err != nil {
		return err
	}
	assertGolden(t, scenario.Name, data)
	return nil
}

func assertGolden(t *testing.T, name string, data []byte) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "scenarios", "golden")),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
