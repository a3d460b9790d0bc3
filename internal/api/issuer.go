package api

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/deeds/internal/codex"
	"github.com/roach88/deeds/internal/ir"
)

// Issuer creates new contracts from a codex and a schema.
type Issuer struct {
	Codex  codex.Codex
	Schema Schema
}

// OwnedParam is one destructible genesis cell.
type OwnedParam struct {
	State string
	Value ir.IRValue
	Auth  ir.AuthToken
	Lock  string
}

// GlobalParam is one immutable genesis cell. Raw is optional.
type GlobalParam struct {
	State string
	Value ir.IRValue
	Raw   ir.IRValue
}

// IssueParams describe the genesis of a new contract.
type IssueParams struct {
	Name      string
	Timestamp int64
	Method    string
	Nonce     uint64
	Owned     []OwnedParam
	Global    []GlobalParam
}

// Issue builds the genesis with the default Api and returns the articles
// of the new contract.
func (iss Issuer) Issue(p IssueParams) (Articles, error) {
	if err := iss.Schema.Validate(); err != nil {
		return Articles{}, fmt.Errorf("issue %q: %w", p.Name, err)
	}
	api := iss.Schema.Default
	callID, ok := api.CallID(p.Method)
	if !ok {
		return Articles{}, fmt.Errorf("issue %q: unknown method %q", p.Name, p.Method)
	}
	genesis := ir.Genesis{CallID: callID, Nonce: p.Nonce}
	for i, o := range p.Owned {
		cell, err := api.BuildDestructible(o.State, o.Value, o.Auth, o.Lock, iss.Schema.Types)
		if err != nil {
			return Articles{}, fmt.Errorf("issue %q: owned[%d]: %w", p.Name, i, err)
		}
		genesis.DestructibleOut = append(genesis.DestructibleOut, cell)
	}
	for i, g := range p.Global {
		data, err := api.BuildImmutable(g.State, g.Value, g.Raw, iss.Schema.Types)
		if err != nil {
			return Articles{}, fmt.Errorf("issue %q: global[%d]: %w", p.Name, i, err)
		}
		genesis.ImmutableOut = append(genesis.ImmutableOut, data)
	}
	return NewArticles(iss.Schema, Issue{
		Version: 1,
		Meta:    Meta{Name: p.Name, Timestamp: p.Timestamp},
		Codex:   iss.Codex,
		Genesis: genesis,
	})
}

// NewAuthToken returns a random token built from two v4 UUIDs.
func NewAuthToken() ir.AuthToken {
	a, b := uuid.New(), uuid.New()
	buf := append(a[:], b[:]...)
	tok, _ := ir.AuthTokenFromBytes(buf)
	return tok
}
