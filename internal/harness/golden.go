package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// snapshot is the canonical golden form of a run: scenario name plus the
// full trace. Final state stays out of the snapshot; it is covered by
// expectations, and including store listings would couple goldens to
// listing order.
type snapshot struct {
	Scenario string     `json:"scenario"`
	Trace    []TraceRow `json:"trace"`
}

// Canonical renders the result's trace as indented JSON with a trailing
// newline, byte-stable across runs of the same scenario.
func Canonical(res *Result) ([]byte, error) {
	snap := snapshot{Scenario: res.Scenario, Trace: res.Trace}
	if snap.Trace == nil {
		snap.Trace = []TraceRow{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// AssertGolden compares the result's canonical trace against the golden
// file named after the scenario, under testdata/golden. Regenerate with
// `go test -update`.
func AssertGolden(t *testing.T, res *Result) {
	t.Helper()

	data, err := Canonical(res)
	if err != nil {
		t.Fatalf("canonical trace: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, res.Scenario, data)
}
