package state

import (
	"fmt"
	"maps"

	"github.com/roach88/deeds/internal/ir"
)

// Transition is the undo record of one applied operation: the cells it
// destroyed. It is the only state history that is persisted.
type Transition struct {
	Opid      ir.Opid                      `json:"opid"`
	Destroyed map[ir.CellAddr]ir.StateCell `json:"destroyed"`
}

// Equal reports whether two transitions record the same destruction.
func (t Transition) Equal(other Transition) bool {
	return t.Opid == other.Opid && maps.EqualFunc(t.Destroyed, other.Destroyed, ir.StateCell.Equal)
}

// RawState is the memory of a contract: live destructible cells with their
// tokens, and all immutable cells.
//
// Invariant: Auth and Owned describe the same set of cells, and
// Auth[c.Auth] == addr for every Owned[addr] == c.
type RawState struct {
	Auth   map[ir.AuthToken]ir.CellAddr `json:"auth"`
	Global map[ir.CellAddr]ir.StateData `json:"immutable"`
	Owned  map[ir.CellAddr]ir.StateCell `json:"destructible"`
}

// NewRawState returns an empty state.
func NewRawState() *RawState {
	return &RawState{
		Auth:   make(map[ir.AuthToken]ir.CellAddr),
		Global: make(map[ir.CellAddr]ir.StateData),
		Owned:  make(map[ir.CellAddr]ir.StateCell),
	}
}

// Apply destroys the operation's inputs and inserts its outputs.
// Panics if an input is not live or an output token is already live: both
// conditions are excluded by verification.
func (s *RawState) Apply(op ir.VerifiedOperation) Transition {
	opid := op.Opid()
	o := op.Operation()
	tr := Transition{Opid: opid, Destroyed: make(map[ir.CellAddr]ir.StateCell, len(o.DestructibleIn))}
	for _, in := range o.DestructibleIn {
		cell, ok := s.Owned[in.Addr]
		if !ok {
			panic(fmt.Sprintf("operation %s destroys unknown or already destroyed cell %s", opid, in.Addr))
		}
		delete(s.Owned, in.Addr)
		delete(s.Auth, cell.Auth)
		tr.Destroyed[in.Addr] = cell
	}
	for i, cell := range o.DestructibleOut {
		addr := ir.NewCellAddr(opid, uint16(i))
		if prev, ok := s.Auth[cell.Auth]; ok {
			panic(fmt.Sprintf("operation %s reuses auth token %s of live cell %s", opid, cell.Auth, prev))
		}
		s.Auth[cell.Auth] = addr
		s.Owned[addr] = cell
	}
	for i, data := range o.ImmutableOut {
		s.Global[ir.NewCellAddr(opid, uint16(i))] = data
	}
	return tr
}

// Rollback undoes an applied operation: removes every output it created
// and reinserts the cells it destroyed.
func (s *RawState) Rollback(tr Transition) {
	for addr, cell := range s.Owned {
		if addr.Opid == tr.Opid {
			delete(s.Owned, addr)
			delete(s.Auth, cell.Auth)
		}
	}
	for addr := range s.Global {
		if addr.Opid == tr.Opid {
			delete(s.Global, addr)
		}
	}
	for addr, cell := range tr.Destroyed {
		s.Owned[addr] = cell
		s.Auth[cell.Auth] = addr
	}
}

// Addr returns the address of the live cell owned by token.
// Panics if the token is not live.
func (s *RawState) Addr(token ir.AuthToken) ir.CellAddr {
	addr, ok := s.Auth[token]
	if !ok {
		panic(fmt.Sprintf("auth token %s is not live", token))
	}
	return addr
}

// LookupAddr is the non-panicking form of Addr.
func (s *RawState) LookupAddr(token ir.AuthToken) (ir.CellAddr, bool) {
	addr, ok := s.Auth[token]
	return addr, ok
}

// Destructible implements codex.Memory.
func (s *RawState) Destructible(addr ir.CellAddr) (ir.StateCell, bool) {
	c, ok := s.Owned[addr]
	return c, ok
}

// Immutable implements codex.Memory.
func (s *RawState) Immutable(addr ir.CellAddr) (ir.StateData, bool) {
	d, ok := s.Global[addr]
	return d, ok
}

// Clone returns a deep copy.
func (s *RawState) Clone() *RawState {
	c := NewRawState()
	maps.Copy(c.Auth, s.Auth)
	maps.Copy(c.Global, s.Global)
	maps.Copy(c.Owned, s.Owned)
	return c
}
