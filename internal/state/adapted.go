package state

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
)

// AdaptedState is the structured projection of a RawState through one Api.
// It is a pure function of (RawState, Api, TypeSystem) and is never persisted.
type AdaptedState struct {
	// Immutable holds converted immutable cells per state name.
	Immutable map[string]map[ir.CellAddr]api.StateAtom

	// Destructible holds converted live owned cells per state name.
	Destructible map[string]map[ir.CellAddr]ir.IRValue

	// Readers caches reader results; refreshed by Compute.
	Readers map[string]ir.IRValue

	// InvalidImmutable and InvalidDestructible hold cells the Api refused.
	InvalidImmutable    map[ir.CellAddr]ir.StateData
	InvalidDestructible map[ir.CellAddr]ir.StateCell
}

func newAdaptedState() *AdaptedState {
	return &AdaptedState{
		Immutable:           make(map[string]map[ir.CellAddr]api.StateAtom),
		Destructible:        make(map[string]map[ir.CellAddr]ir.IRValue),
		Readers:             make(map[string]ir.IRValue),
		InvalidImmutable:    make(map[ir.CellAddr]ir.StateData),
		InvalidDestructible: make(map[ir.CellAddr]ir.StateCell),
	}
}

// NewAdaptedState converts every cell of raw. Readers are not computed.
func NewAdaptedState(raw *RawState, a api.Api, types api.TypeSystem) *AdaptedState {
	s := newAdaptedState()
	for addr, data := range raw.Global {
		s.addImmutable(addr, data, a, types)
	}
	for addr, cell := range raw.Owned {
		s.addDestructible(addr, cell, a, types)
	}
	return s
}

func (s *AdaptedState) addImmutable(addr ir.CellAddr, data ir.StateData, a api.Api, types api.TypeSystem) {
	name, atom, ok := a.ConvertImmutable(data, types)
	if !ok {
		s.InvalidImmutable[addr] = data
		return
	}
	bucket, ok := s.Immutable[name]
	if !ok {
		bucket = make(map[ir.CellAddr]api.StateAtom)
		s.Immutable[name] = bucket
	}
	bucket[addr] = atom
}

func (s *AdaptedState) addDestructible(addr ir.CellAddr, cell ir.StateCell, a api.Api, types api.TypeSystem) {
	name, v, ok := a.ConvertDestructible(cell.Data, types)
	if !ok {
		s.InvalidDestructible[addr] = cell
		return
	}
	bucket, ok := s.Destructible[name]
	if !ok {
		bucket = make(map[ir.CellAddr]ir.IRValue)
		s.Destructible[name] = bucket
	}
	bucket[addr] = v
}

func (s *AdaptedState) removeDestructible(addr ir.CellAddr) {
	for _, bucket := range s.Destructible {
		delete(bucket, addr)
	}
	delete(s.InvalidDestructible, addr)
}

// Apply converts the operation's outputs and drops the cells it destroys.
func (s *AdaptedState) Apply(op ir.VerifiedOperation, a api.Api, types api.TypeSystem) {
	opid := op.Opid()
	o := op.Operation()
	for _, in := range o.DestructibleIn {
		s.removeDestructible(in.Addr)
	}
	for i, cell := range o.DestructibleOut {
		s.addDestructible(ir.NewCellAddr(opid, uint16(i)), cell, a, types)
	}
	for i, data := range o.ImmutableOut {
		s.addImmutable(ir.NewCellAddr(opid, uint16(i)), data, a, types)
	}
}

// Rollback drops the outputs of the transition's operation and reconverts
// the cells it destroyed.
func (s *AdaptedState) Rollback(tr Transition, a api.Api, types api.TypeSystem) {
	for _, bucket := range s.Immutable {
		maps.DeleteFunc(bucket, func(addr ir.CellAddr, _ api.StateAtom) bool { return addr.Opid == tr.Opid })
	}
	maps.DeleteFunc(s.InvalidImmutable, func(addr ir.CellAddr, _ ir.StateData) bool { return addr.Opid == tr.Opid })
	for _, bucket := range s.Destructible {
		maps.DeleteFunc(bucket, func(addr ir.CellAddr, _ ir.IRValue) bool { return addr.Opid == tr.Opid })
	}
	maps.DeleteFunc(s.InvalidDestructible, func(addr ir.CellAddr, _ ir.StateCell) bool { return addr.Opid == tr.Opid })
	for addr, cell := range tr.Destroyed {
		s.addDestructible(addr, cell, a, types)
	}
}

// Compute refreshes every reader of a from the immutable buckets.
func (s *AdaptedState) Compute(a api.Api) {
	s.Readers = a.ComputeReaders(s.ImmutableAtoms())
}

// ImmutableAtoms returns each immutable bucket in address order.
func (s *AdaptedState) ImmutableAtoms() map[string][]api.StateAtom {
	out := make(map[string][]api.StateAtom, len(s.Immutable))
	for name, bucket := range s.Immutable {
		addrs := slices.SortedFunc(maps.Keys(bucket), ir.CellAddr.Compare)
		atoms := make([]api.StateAtom, len(addrs))
		for i, addr := range addrs {
			atoms[i] = bucket[addr]
		}
		out[name] = atoms
	}
	return out
}

// ImmutableValues returns the verified values of each immutable bucket in
// address order.
func (s *AdaptedState) ImmutableValues() map[string][]ir.IRValue {
	out := make(map[string][]ir.IRValue, len(s.Immutable))
	for name, atoms := range s.ImmutableAtoms() {
		values := make([]ir.IRValue, len(atoms))
		for i, atom := range atoms {
			values[i] = atom.Verified
		}
		out[name] = values
	}
	return out
}

// Read returns a cached reader result. Panics on an unknown reader name.
func (s *AdaptedState) Read(name string) ir.IRValue {
	v, ok := s.Readers[name]
	if !ok {
		panic(fmt.Sprintf("unknown reader %q", name))
	}
	return v
}

// Owned returns the live cells of a destructible state name in address order.
func (s *AdaptedState) Owned(name string) []OwnedValue {
	bucket := s.Destructible[name]
	addrs := slices.SortedFunc(maps.Keys(bucket), ir.CellAddr.Compare)
	out := make([]OwnedValue, len(addrs))
	for i, addr := range addrs {
		out[i] = OwnedValue{Addr: addr, Value: bucket[addr]}
	}
	return out
}

// OwnedValue is one converted live cell.
type OwnedValue struct {
	Addr  ir.CellAddr
	Value ir.IRValue
}

// Clone returns a copy that shares no mutable maps with s.
func (s *AdaptedState) Clone() *AdaptedState {
	c := newAdaptedState()
	for name, bucket := range s.Immutable {
		c.Immutable[name] = maps.Clone(bucket)
	}
	for name, bucket := range s.Destructible {
		c.Destructible[name] = maps.Clone(bucket)
	}
	maps.Copy(c.Readers, s.Readers)
	maps.Copy(c.InvalidImmutable, s.InvalidImmutable)
	maps.Copy(c.InvalidDestructible, s.InvalidDestructible)
	return c
}
