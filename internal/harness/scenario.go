package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/deeds/internal/ir"
)

// Scenario defines a ledger scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Contract is the path of the CUE contract definition, relative to the
	// scenario file.
	Contract string `yaml:"contract"`

	// Seed seeds the auth token generator. Defaults to Name.
	Seed string `yaml:"seed,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action against the ledger. Exactly one of Call, Rollback,
// Forward and Replicate is set.
type Step struct {
	// Label names the operation a call creates. Defaults to "step<N>".
	Label string `yaml:"label,omitempty"`

	// Call is the method of the default api to call.
	Call    string       `yaml:"call,omitempty"`
	Using   []UsingRef   `yaml:"using,omitempty"`
	Reading []string     `yaml:"reading,omitempty"`
	Assign  []OwnedCell  `yaml:"assign,omitempty"`
	Append  []GlobalCell `yaml:"append,omitempty"`

	// Expect is "applied" (the default) or the error code the call must
	// fail with, e.g. "CALL_ERROR". "error" matches failures without a code.
	Expect string `yaml:"expect,omitempty"`

	Rollback  []string `yaml:"rollback,omitempty"`
	Forward   []string `yaml:"forward,omitempty"`
	Replicate bool     `yaml:"replicate,omitempty"`
}

// UsingRef names an owned cell to destroy. In YAML it is either the cell
// name or {cell: name, witness: [..]}.
type UsingRef struct {
	Cell    string   `yaml:"cell"`
	Witness []uint64 `yaml:"witness,omitempty"`
}

// UnmarshalYAML accepts the scalar short form.
func (u *UsingRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		u.Cell = node.Value
		return nil
	}
	type plain UsingRef
	return node.Decode((*plain)(u))
}

// OwnedCell is a destructible output.
type OwnedCell struct {
	State string `yaml:"state"`
	Value any    `yaml:"value"`
	Owner string `yaml:"owner,omitempty"`
	Lock  string `yaml:"lock,omitempty"`
}

// GlobalCell is an immutable output.
type GlobalCell struct {
	State string `yaml:"state"`
	Value any    `yaml:"value"`
	Raw   any    `yaml:"raw,omitempty"`
}

// Assertion validates the final ledger.
type Assertion struct {
	Type string `yaml:"type"`

	// Ops lists operation labels (valid, invalid).
	Ops []string `yaml:"ops,omitempty"`

	// Name and View select a reader (reader).
	Name string `yaml:"name,omitempty"`
	View string `yaml:"view,omitempty"`

	// Expect is the expected reader result (reader).
	Expect any `yaml:"expect,omitempty"`

	// State, Count and Sum describe owned totals (owned).
	State string `yaml:"state,omitempty"`
	Count *int   `yaml:"count,omitempty"`
	Sum   *int64 `yaml:"sum,omitempty"`

	// Cell and By describe a spent-by entry (spent). Empty By means unspent.
	Cell string `yaml:"cell,omitempty"`
	By   string `yaml:"by,omitempty"`
}

// Assertion type constants.
const (
	AssertValid   = "valid"
	AssertInvalid = "invalid"
	AssertReader  = "reader"
	AssertOwned   = "owned"
	AssertSpent   = "spent"
	AssertReplica = "replica"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// contract path relative to the file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Contract != "" && !filepath.IsAbs(scenario.Contract) {
		scenario.Contract = filepath.Join(filepath.Dir(path), scenario.Contract)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if _, err := os.Stat(s.Contract); os.IsNotExist(err) {
		return fmt.Errorf("contract file not found: %s", s.Contract)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	labels := map[string]bool{"genesis": true}
	for i, step := range s.Steps {
		kinds := 0
		for _, set := range []bool{step.Call != "", step.Rollback != nil, step.Forward != nil, step.Replicate} {
			if set {
				kinds++
			}
		}
		if kinds != 1 {
			return fmt.Errorf("steps[%d]: exactly one of call, rollback, forward or replicate is required", i)
		}
		if step.Label != "" {
			if labels[step.Label] {
				return fmt.Errorf("steps[%d]: duplicate label %q", i, step.Label)
			}
			labels[step.Label] = true
		}
		for j, u := range step.Using {
			if u.Cell == "" {
				return fmt.Errorf("steps[%d].using[%d]: cell is required", i, j)
			}
			if len(u.Witness) > ir.StateValueMax {
				return fmt.Errorf("steps[%d].using[%d]: witness holds at most %d elements", i, j, ir.StateValueMax)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertValid, AssertInvalid:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for %s", index, a.Type)
		}
	case AssertReader:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for reader", index)
		}
	case AssertOwned:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for owned", index)
		}
		if a.Count == nil && a.Sum == nil {
			return fmt.Errorf("assertions[%d]: count or sum is required for owned", index)
		}
	case AssertSpent:
		if a.Cell == "" {
			return fmt.Errorf("assertions[%d]: cell is required for spent", index)
		}
	case AssertReplica:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
