package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/deeds/internal/ledger"
)

// ValidationResult summarizes a directory of scenarios.
type ValidationResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a scenario that did not pass.
type ScenarioFailure struct {
	Scenario string `json:"scenario"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

// RunDir loads and runs every *.yaml scenario in dir in file name order.
// A scenario that fails to load or run is reported as a failure, not as an
// error; only an unreadable directory is an error.
func RunDir(dir string) (*ValidationResult, error) {
	return RunDirWith(dir, ledger.NewMemStock)
}

// RunDirWith is RunDir with an explicit stock factory. create is called
// once per scenario.
func RunDirWith(dir string, create ledger.CreateFunc) (*ValidationResult, error) {
	paths, err := ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{}
	for _, path := range paths {
		result.TotalScenarios++
		name, err := runFile(path, create)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Scenario: name,
				Path:     path,
				Error:    err.Error(),
			})
			continue
		}
		result.Passed++
	}
	return result, nil
}

// ScenarioFiles lists the scenario files of dir, sorted.
func ScenarioFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("scenario directory: %w", err)
	}
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)
	return paths, nil
}

func runFile(path string, create ledger.CreateFunc) (string, error) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return filepath.Base(path), err
	}
	result, err := RunWith(scenario, create)
	if err != nil {
		return scenario.Name, err
	}
	if !result.Pass {
		return scenario.Name, fmt.Errorf("%d failure(s), first: %w", len(result.Errors), result.Errors[0])
	}
	return scenario.Name, nil
}
