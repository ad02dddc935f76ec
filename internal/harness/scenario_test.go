package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../../testdata/scenarios"

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	specs, err := filepath.Abs("../../testdata/specs")
	require.NoError(t, err)
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("specs: "+specs+"\n"+body), 0644))
	return path
}

// =============================================================================
// Loading
// =============================================================================

func TestLoadScenario_ResolvesSpecsRelativeToFile(t *testing.T) {
	s, err := LoadScenario(filepath.Join(scenariosDir, "close_won.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "close_won", s.Name)
	assert.Equal(t, filepath.Join(scenariosDir, "../specs"), s.Specs)
	assert.Equal(t, "req", s.FlowToken)
	require.Len(t, s.Setup, 1)
	require.Len(t, s.Flow, 2)
	assert.Equal(t, OpUpdate, s.Flow[1].Op)
	assert.Equal(t, "10.0.0.5", s.Flow[1].IP)
	require.NotNil(t, s.Flow[1].Expect)
	assert.Equal(t, "WON", s.Flow[1].Expect.Values["stage"])
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: unknown key
flow:
  - op: create
    type: User
assertion:
  - type: alert_count
    count: 0
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "description: d\nflow: [{op: create, type: User}]\nassertions: [{type: alert_count, count: 0}]\n",
			want: "name is required",
		},
		{
			name: "empty flow",
			body: "name: n\ndescription: d\nflow: []\nassertions: [{type: alert_count, count: 0}]\n",
			want: "flow list is required",
		},
		{
			name: "unknown op",
			body: "name: n\ndescription: d\nflow: [{op: upsert, type: User}]\nassertions: [{type: alert_count, count: 0}]\n",
			want: `unknown op "upsert"`,
		},
		{
			name: "update without pk",
			body: "name: n\ndescription: d\nflow: [{op: update, type: User}]\nassertions: [{type: alert_count, count: 0}]\n",
			want: "update requires type and pk",
		},
		{
			name: "trigger without rule",
			body: "name: n\ndescription: d\nflow: [{op: trigger, type: User, pk: u1}]\nassertions: [{type: alert_count, count: 0}]\n",
			want: "trigger requires rule",
		},
		{
			name: "bad sender channel",
			body: "name: n\ndescription: d\nflow: [{op: sender, owner: u1, identifier: x, channel: fax}]\nassertions: [{type: alert_count, count: 0}]\n",
			want: "sender channel",
		},
		{
			name: "expect in setup",
			body: "name: n\ndescription: d\nsetup: [{op: create, type: User, expect: {error: x}}]\nflow: [{op: create, type: User}]\nassertions: [{type: alert_count, count: 0}]\n",
			want: "expect is only allowed in flow steps",
		},
		{
			name: "count missing",
			body: "name: n\ndescription: d\nflow: [{op: create, type: User}]\nassertions: [{type: audit_count}]\n",
			want: "non-negative count is required",
		},
		{
			name: "unknown assertion",
			body: "name: n\ndescription: d\nflow: [{op: create, type: User}]\nassertions: [{type: trace_contains}]\n",
			want: `unknown assertion type "trace_contains"`,
		},
		{
			name: "final state without expect",
			body: "name: n\ndescription: d\nflow: [{op: create, type: User}]\nassertions: [{type: final_state, entity: \"User:u1\"}]\n",
			want: "final_state needs expect or absent",
		},
		{
			name: "malformed entity",
			body: "name: n\ndescription: d\nflow: [{op: create, type: User}]\nassertions: [{type: final_state, entity: User, absent: true}]\n",
			want: "malformed entity reference",
		},
		{
			name: "bad operation filter",
			body: "name: n\ndescription: d\nflow: [{op: create, type: User}]\nassertions: [{type: audit_contains, operation: UPSERT}]\n",
			want: `unknown operation "UPSERT"`,
		},
		{
			name: "short order",
			body: "name: n\ndescription: d\nflow: [{op: create, type: User}]\nassertions: [{type: audit_order, entries: [\"CREATE User:u1\"]}]\n",
			want: "at least two entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_SpecsDirMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	body := "name: n\ndescription: d\nspecs: nowhere\nflow: [{op: create, type: User}]\nassertions: [{type: alert_count, count: 0}]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "specs directory not found")
}

// =============================================================================
// Discovery
// =============================================================================

func TestFindScenarios(t *testing.T) {
	files, err := FindScenarios(scenariosDir)
	require.NoError(t, err)
	require.Len(t, files, 4)
	assert.Equal(t, "big_deal_alert.yaml", filepath.Base(files[0]))
	assert.Equal(t, "sessions.yaml", filepath.Base(files[3]))

	single, err := FindScenarios(files[0])
	require.NoError(t, err)
	assert.Equal(t, []string{files[0]}, single)

	_, err = FindScenarios(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
