package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/mandate-sh/mandate/internal/ir"
)

// traceSnapshot is the golden file content: the scenario name, the
// outcome token trace, and the final mode, canonically encoded.
// Identities are excluded on purpose, so goldens survive changes to the
// identity scheme and stay hand-checkable.
func traceSnapshot(name string, result *Result) ir.Object {
	trace := make(ir.Array, len(result.Trace))
	for i, token := range result.Trace {
		trace[i] = ir.String(token)
	}
	obj := ir.Object{
		"scenario_name": ir.String(name),
		"trace":         trace,
		"final_mode":    ir.String(result.FinalMode),
	}
	if result.InvalidRun != "" {
		obj["invalid_run"] = ir.String(result.InvalidRun)
	}
	return obj
}

// RunWithGolden executes a scenario, checks its assertions, and
// compares the trace snapshot against testdata/golden/<name>.golden.
//
// Regenerate goldens with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, err := range CheckAssertions(scenario, result) {
		t.Errorf("scenario %s: %v", scenario.Name, err)
	}

	snapshot, err := ir.MarshalCanonical(traceSnapshot(scenario.Name, result))
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshot)
}
