package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDir_AllScenariosPass(t *testing.T) {
	result, err := RunDir(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	for _, f := range result.Failures {
		t.Logf("%s (%s): %s", f.Scenario, f.Path, f.Error)
	}
	assert.Equal(t, 4, result.TotalScenarios)
	assert.Equal(t, 4, result.Passed)
	assert.Zero(t, result.Failed)
}

func TestRunDir_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	contract, err := filepath.Abs(fungibleContract)
	require.NoError(t, err)

	failing := `
name: failing
description: "asserts the wrong supply"
contract: ` + contract + `
steps:
  - call: issue
assertions:
  - type: reader
    name: supply
    expect: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(failing), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: [unterminated"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	result, err := RunDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalScenarios)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "failing", result.Failures[0].Scenario)
	assert.Contains(t, result.Failures[0].Error, "reader assertion failed")
	assert.Equal(t, "b.yml", result.Failures[1].Scenario)
}

func TestRunDir_MissingDirectory(t *testing.T) {
	_, err := RunDir(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestScenarioFiles_Sorted(t *testing.T) {
	paths, err := ScenarioFiles(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	assert.Equal(t, []string{"overspend.yaml", "replicate.yaml", "rollback_forward.yaml", "transfer.yaml"}, names)
}
