package state

import (
	"errors"
	"fmt"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/codex"
	"github.com/roach88/deeds/internal/ir"
)

// EffectiveState is the raw memory of a contract together with its default
// structured view and one view per custom Api.
type EffectiveState struct {
	Raw  *RawState
	Main *AdaptedState
	Aux  map[string]*AdaptedState
}

// IssueError reports a genesis that the contract's own codex rejects.
type IssueError struct {
	ContractID ir.ContractID
	Err        error
}

func (e *IssueError) Error() string {
	return fmt.Sprintf("issue %s: genesis rejected: %v", e.ContractID, e.Err)
}

func (e *IssueError) Unwrap() error { return e.Err }

// IsIssueError reports whether err is an IssueError.
func IsIssueError(err error) bool {
	var ie *IssueError
	return errors.As(err, &ie)
}

// FromGenesis verifies the genesis of articles and applies it to an empty
// state. The genesis outputs live under the contract id; no transition is
// kept because genesis can never be rolled back.
func FromGenesis(articles api.Articles, v codex.Verifier) (*EffectiveState, error) {
	raw := NewRawState()
	genesis := articles.GenesisOperation()
	verified, err := v.Verify(articles.ContractID, articles.Issue.Codex, genesis, raw, articles.Schema.Libs)
	if err != nil {
		return nil, &IssueError{ContractID: articles.ContractID, Err: err}
	}
	sealed := ir.NewVerifiedOperationUnchecked(articles.ContractID.GenesisOpid(), verified.Operation())
	raw.Apply(sealed)

	s := NewEffectiveState(raw, articles.Schema)
	s.Recompute(articles.Schema)
	return s, nil
}

// NewEffectiveState builds every view of raw. Readers are left empty until
// Recompute is called.
func NewEffectiveState(raw *RawState, schema api.Schema) *EffectiveState {
	s := &EffectiveState{
		Raw:  raw,
		Main: NewAdaptedState(raw, schema.Default, schema.Types),
		Aux:  make(map[string]*AdaptedState, len(schema.Custom)),
	}
	for name, a := range schema.Custom {
		s.Aux[name] = NewAdaptedState(raw, a, schema.Types)
	}
	return s
}

// Apply applies a verified operation to every view and to the raw state.
// Panics if the custom views do not match the schema.
func (s *EffectiveState) Apply(op ir.VerifiedOperation, schema api.Schema) Transition {
	s.checkViews(schema)
	s.Main.Apply(op, schema.Default, schema.Types)
	for name, view := range s.Aux {
		view.Apply(op, schema.Custom[name], schema.Types)
	}
	return s.Raw.Apply(op)
}

// Rollback undoes a transition in every view and in the raw state.
func (s *EffectiveState) Rollback(tr Transition, schema api.Schema) {
	s.checkViews(schema)
	s.Main.Rollback(tr, schema.Default, schema.Types)
	for name, view := range s.Aux {
		view.Rollback(tr, schema.Custom[name], schema.Types)
	}
	s.Raw.Rollback(tr)
}

func (s *EffectiveState) checkViews(schema api.Schema) {
	if len(s.Aux) != len(schema.Custom) {
		panic(fmt.Sprintf("state has %d custom views, schema declares %d", len(s.Aux), len(schema.Custom)))
	}
	for name := range s.Aux {
		if _, ok := schema.Custom[name]; !ok {
			panic(fmt.Sprintf("state has custom view %q the schema does not declare", name))
		}
	}
}

// Recompute refreshes the readers of every view.
func (s *EffectiveState) Recompute(schema api.Schema) {
	s.Main.Compute(schema.Default)
	for name, view := range s.Aux {
		view.Compute(schema.Custom[name])
	}
}

// Read returns a reader result of the default view.
// Panics on an unknown reader name.
func (s *EffectiveState) Read(name string) ir.IRValue {
	return s.Main.Read(name)
}

// ReadView returns a reader result of a custom view.
func (s *EffectiveState) ReadView(view, name string) ir.IRValue {
	v, ok := s.Aux[view]
	if !ok {
		panic(fmt.Sprintf("unknown view %q", view))
	}
	return v.Read(name)
}

// Addr returns the address of the live cell owned by token.
// Panics if the token is not live.
func (s *EffectiveState) Addr(token ir.AuthToken) ir.CellAddr {
	return s.Raw.Addr(token)
}

// Clone returns a deep copy.
func (s *EffectiveState) Clone() *EffectiveState {
	c := &EffectiveState{
		Raw:  s.Raw.Clone(),
		Main: s.Main.Clone(),
		Aux:  make(map[string]*AdaptedState, len(s.Aux)),
	}
	for name, view := range s.Aux {
		c.Aux[name] = view.Clone()
	}
	return c
}
