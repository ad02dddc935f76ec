package harness

import (
	"bytes"
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/bizflow/internal/model"
)

// MarshalTrail renders the trail as one canonical JSON object per line.
// Empty optional fields are omitted so golden files stay readable.
func MarshalTrail(trail []TrailEntry) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range trail {
		obj := map[string]any{
			"seq":         e.Seq,
			"operation":   string(e.Operation),
			"target":      e.Target,
			"description": e.Description,
			"flow_token":  e.FlowToken,
		}
		optional := map[string]string{
			"actor":   e.Actor,
			"ip":      e.IPAddress,
			"session": e.SessionID,
			"rule":    e.Rule,
		}
		for k, v := range optional {
			if v != "" {
				obj[k] = v
			}
		}
		if len(e.Changes) > 0 {
			obj["changes"] = e.Changes
		}

		line, err := model.MarshalCanonical(obj)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its audit trail against
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

// AssertGolden compares an existing result's trail against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalTrail(result.Trail)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
