package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const fungibleContract = "../compiler/testdata/fungible.cue"

// writeScenario writes a scenario file pointing at the fungible contract.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	contract, err := filepath.Abs(fungibleContract)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	content = "contract: " + contract + "\n" + content
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/transfer.yaml")
	require.NoError(t, err)

	assert.Equal(t, "transfer", scenario.Name)
	assert.Equal(t, filepath.FromSlash(fungibleContract), scenario.Contract,
		"contract path is resolved relative to the scenario file")

	require.Len(t, scenario.Steps, 1)
	step := scenario.Steps[0]
	assert.Equal(t, "transfer", step.Call)
	assert.Equal(t, "pay", step.Label)
	assert.Equal(t, []UsingRef{{Cell: "genesis.0"}}, step.Using)
	require.Len(t, step.Assign, 2)
	assert.Equal(t, "alice", step.Assign[0].Owner)
	assert.Equal(t, 400, step.Assign[0].Value)
	assert.Len(t, scenario.Assertions, 7)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "misspelled assertions key"
steps:
  - call: transfer
assertion:
  - type: valid
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: x
description: "d"
contract: missing.cue
steps:
  - call: transfer
`), 0644))
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract file not found")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing name",
			content: "description: d\nsteps:\n  - call: transfer\n",
			want:    "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nsteps:\n  - call: transfer\n",
			want:    "description is required",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\n",
			want:    "steps list is required",
		},
		{
			name:    "two actions in one step",
			content: "name: n\ndescription: d\nsteps:\n  - call: transfer\n    rollback: [x]\n",
			want:    "exactly one of",
		},
		{
			name:    "empty step",
			content: "name: n\ndescription: d\nsteps:\n  - label: x\n",
			want:    "exactly one of",
		},
		{
			name:    "duplicate label",
			content: "name: n\ndescription: d\nsteps:\n  - call: issue\n    label: a\n  - call: issue\n    label: a\n",
			want:    "duplicate label",
		},
		{
			name:    "genesis label is reserved",
			content: "name: n\ndescription: d\nsteps:\n  - call: issue\n    label: genesis\n",
			want:    "duplicate label",
		},
		{
			name:    "witness too long",
			content: "name: n\ndescription: d\nsteps:\n  - call: transfer\n    using:\n      - {cell: genesis.1, witness: [1, 2, 3, 4, 5]}\n",
			want:    "witness holds at most",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nsteps:\n  - call: issue\nassertions:\n  - type: bogus\n",
			want:    "unknown assertion type",
		},
		{
			name:    "owned without totals",
			content: "name: n\ndescription: d\nsteps:\n  - call: issue\nassertions:\n  - type: owned\n    state: amount\n",
			want:    "count or sum is required",
		},
		{
			name:    "valid without ops",
			content: "name: n\ndescription: d\nsteps:\n  - call: issue\nassertions:\n  - type: valid\n",
			want:    "ops list is required",
		},
		{
			name:    "reader without name",
			content: "name: n\ndescription: d\nsteps:\n  - call: issue\nassertions:\n  - type: reader\n",
			want:    "name is required for reader",
		},
		{
			name:    "spent without cell",
			content: "name: n\ndescription: d\nsteps:\n  - call: issue\nassertions:\n  - type: spent\n",
			want:    "cell is required for spent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUsingRef_UnmarshalYAML(t *testing.T) {
	var refs []UsingRef
	err := yaml.Unmarshal([]byte(`[alice, {cell: bob, witness: [7, 8]}]`), &refs)
	require.NoError(t, err)
	assert.Equal(t, []UsingRef{
		{Cell: "alice"},
		{Cell: "bob", Witness: []uint64{7, 8}},
	}, refs)
}
