package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/deeds/internal/ir"
)

// TraceSnapshot captures the trace and final state of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	State        Snapshot
}

// toIR converts the snapshot to an IRObject for canonical JSON
// serialization. Empty event fields are omitted.
func (s *TraceSnapshot) toIR() ir.IRObject {
	trace := make(ir.IRArray, len(s.Trace))
	for i, event := range s.Trace {
		obj := ir.IRObject{
			"seq":  ir.IRInt(event.Seq),
			"type": ir.IRString(event.Type),
		}
		if event.Label != "" {
			obj["label"] = ir.IRString(event.Label)
		}
		if event.Method != "" {
			obj["method"] = ir.IRString(event.Method)
		}
		if event.Outcome != "" {
			obj["outcome"] = ir.IRString(event.Outcome)
		}
		switch event.Type {
		case EventRollback, EventForward:
			labels := make(ir.IRArray, len(event.Labels))
			for j, l := range event.Labels {
				labels[j] = ir.IRString(l)
			}
			obj["labels"] = labels
			obj["count"] = ir.IRInt(event.Count)
		case EventReplicate:
			obj["count"] = ir.IRInt(event.Count)
		}
		trace[i] = obj
	}
	return ir.IRObject{
		"scenario_name": ir.IRString(s.ScenarioName),
		"trace":         trace,
		"state":         snapshotIR(s.State),
	}
}

// RunWithGolden executes a scenario and compares its trace and final state
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot be executed. A mismatch fails t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		State:        result.State,
	}
	data, err := ir.MarshalCanonical(snapshot.toIR())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
