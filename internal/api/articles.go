package api

import (
	"errors"
	"fmt"

	"github.com/roach88/deeds/internal/codex"
	"github.com/roach88/deeds/internal/ir"
)

// Schema is the versioned interpretation layer of a contract: the default
// Api, any named custom Apis, the type system and the verifier libraries.
type Schema struct {
	Version uint64         `json:"version"`
	Default Api            `json:"default"`
	Custom  map[string]Api `json:"custom,omitempty"`
	Types   TypeSystem     `json:"types"`
	Libs    codex.Libs     `json:"libs"`
}

// CustomNames returns the custom Api names in sorted order.
func (s Schema) CustomNames() []string { return sortedKeys(s.Custom) }

// Validate checks every Api of the schema.
func (s Schema) Validate() error {
	if err := s.Default.Validate(s.Types); err != nil {
		return fmt.Errorf("default api: %w", err)
	}
	for _, name := range s.CustomNames() {
		if err := s.Custom[name].Validate(s.Types); err != nil {
			return fmt.Errorf("api %q: %w", name, err)
		}
	}
	return nil
}

// Meta is descriptive issue metadata. It takes part in the contract id.
type Meta struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// Issue is the immutable part of a contract: everything hashed into its id.
type Issue struct {
	Version uint16      `json:"version"`
	Meta    Meta        `json:"meta"`
	Codex   codex.Codex `json:"codex"`
	Genesis ir.Genesis  `json:"genesis"`
}

// ContractID computes the id of the contract this issue creates.
func (i Issue) ContractID() (ir.ContractID, error) {
	meta := ir.IRObject{
		"version":   ir.IRInt(i.Version),
		"name":      ir.IRString(i.Meta.Name),
		"timestamp": ir.IRInt(i.Meta.Timestamp),
	}
	return ir.ContractIDOf(meta, i.Codex.Canonical(), i.Genesis)
}

// Articles bind a schema to an issue. Signature is opaque: a signed set of
// articles takes precedence over an unsigned one when merging.
type Articles struct {
	ContractID ir.ContractID `json:"contract_id"`
	Schema     Schema        `json:"schema"`
	Issue      Issue         `json:"issue"`
	Signature  []byte        `json:"signature,omitempty"`
}

// NewArticles binds schema to issue and computes the contract id.
func NewArticles(schema Schema, issue Issue) (Articles, error) {
	id, err := issue.ContractID()
	if err != nil {
		return Articles{}, err
	}
	return Articles{ContractID: id, Schema: schema, Issue: issue}, nil
}

// IsSigned reports whether the articles carry a signature.
func (a Articles) IsSigned() bool { return len(a.Signature) > 0 }

// Validate recomputes the contract id and checks the schema.
func (a Articles) Validate() error {
	id, err := a.Issue.ContractID()
	if err != nil {
		return err
	}
	if id != a.ContractID {
		return fmt.Errorf("articles claim contract %s but issue hashes to %s", a.ContractID, id)
	}
	return a.Schema.Validate()
}

// GenesisOperation returns the genesis as an operation of this contract.
func (a Articles) GenesisOperation() ir.Operation {
	return a.Issue.Genesis.Operation(a.ContractID)
}

// Merge upgrades a with other. Both must describe the same contract.
// other replaces a when it is signed and a is not, or when both have the
// same signedness and other carries a newer schema version. Returns whether
// a changed.
func (a *Articles) Merge(other Articles) (bool, error) {
	if other.ContractID != a.ContractID {
		return false, &MergeError{Message: fmt.Sprintf("contract mismatch: have %s, got %s", a.ContractID, other.ContractID)}
	}
	if err := other.Validate(); err != nil {
		return false, &MergeError{Message: "invalid articles", Err: err}
	}
	switch {
	case other.IsSigned() && !a.IsSigned():
	case other.IsSigned() == a.IsSigned() && other.Schema.Version > a.Schema.Version:
	default:
		return false, nil
	}
	*a = other
	return true, nil
}

// MergeError reports articles that cannot be merged.
type MergeError struct {
	Message string
	Err     error
}

func (e *MergeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge articles: %s: %v", e.Message, e.Err)
	}
	return "merge articles: " + e.Message
}

func (e *MergeError) Unwrap() error { return e.Err }

// IsMergeError reports whether err is a MergeError.
func IsMergeError(err error) bool {
	var me *MergeError
	return errors.As(err, &me)
}
