package ledger

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/state"
)

// MemStock is a Stock kept entirely in memory. It backs tests, dry runs and
// the harness. Writes cannot fail.
type MemStock struct {
	articles api.Articles
	state    *state.EffectiveState

	order    []ir.Opid
	stash    map[ir.Opid]ir.Operation
	trace    map[ir.Opid]state.Transition
	spent    map[ir.CellAddr]ir.Opid
	reading  map[ir.CellAddr]map[ir.Opid]struct{}
	validity map[ir.Opid]bool

	commits int
}

// NewMemStock creates an in-memory stock. It has the CreateFunc signature.
func NewMemStock(articles api.Articles, st *state.EffectiveState) (Stock, error) {
	return &MemStock{
		articles: articles,
		state:    st,
		stash:    make(map[ir.Opid]ir.Operation),
		trace:    make(map[ir.Opid]state.Transition),
		spent:    make(map[ir.CellAddr]ir.Opid),
		reading:  make(map[ir.CellAddr]map[ir.Opid]struct{}),
		validity: make(map[ir.Opid]bool),
	}, nil
}

// Commits returns how many times CommitTransaction ran.
func (m *MemStock) Commits() int { return m.commits }

func (m *MemStock) Config() StockConfig { return StockConfig{Backend: "memory"} }

func (m *MemStock) Articles() api.Articles { return m.articles }

func (m *MemStock) State() *state.EffectiveState { return m.state }

func (m *MemStock) IsValid(opid ir.Opid) bool { return m.validity[opid] }

func (m *MemStock) MarkValid(opid ir.Opid) { m.validity[opid] = true }

func (m *MemStock) MarkInvalid(opid ir.Opid) { m.validity[opid] = false }

func (m *MemStock) HasOperation(opid ir.Opid) (bool, error) {
	_, ok := m.stash[opid]
	return ok, nil
}

func (m *MemStock) Operation(opid ir.Opid) (ir.Operation, error) {
	op, ok := m.stash[opid]
	if !ok {
		panic(fmt.Sprintf("operation %s is not stashed", opid))
	}
	return op, nil
}

func (m *MemStock) Operations() ([]StashEntry, error) {
	out := make([]StashEntry, len(m.order))
	for i, opid := range m.order {
		out[i] = StashEntry{Opid: opid, Operation: m.stash[opid]}
	}
	return out, nil
}

func (m *MemStock) Transition(opid ir.Opid) (state.Transition, error) {
	tr, ok := m.trace[opid]
	if !ok {
		panic(fmt.Sprintf("no transition for operation %s", opid))
	}
	return tr, nil
}

func (m *MemStock) Trace() ([]state.Transition, error) {
	out := make([]state.Transition, 0, len(m.trace))
	for _, opid := range m.order {
		if tr, ok := m.trace[opid]; ok {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *MemStock) SpentBy(addr ir.CellAddr) (ir.Opid, bool, error) {
	opid, ok := m.spent[addr]
	return opid, ok, nil
}

func (m *MemStock) ReadBy(addr ir.CellAddr) ([]ir.Opid, error) {
	return slices.SortedFunc(maps.Keys(m.reading[addr]), ir.Opid.Compare), nil
}

func (m *MemStock) UpdateArticles(f func(*api.Articles) error) error {
	next := m.articles
	if err := f(&next); err != nil {
		return err
	}
	m.articles = next
	m.state = state.NewEffectiveState(m.state.Raw, next.Schema)
	m.state.Recompute(next.Schema)
	return nil
}

func (m *MemStock) UpdateState(f func(*state.EffectiveState, api.Schema) error) error {
	backup := m.state.Clone()
	if err := f(m.state, m.articles.Schema); err != nil {
		m.state = backup
		return err
	}
	return nil
}

func (m *MemStock) AddOperation(opid ir.Opid, op ir.Operation) error {
	CheckStashEntry(opid, op)
	if _, ok := m.stash[opid]; ok {
		return nil
	}
	m.stash[opid] = op
	m.order = append(m.order, opid)
	return nil
}

func (m *MemStock) AddTransition(tr state.Transition) error {
	if prev, ok := m.trace[tr.Opid]; ok && !prev.Equal(tr) {
		panic(fmt.Sprintf("conflicting transition for operation %s", tr.Opid))
	}
	m.trace[tr.Opid] = tr
	return nil
}

func (m *MemStock) AddReading(addr ir.CellAddr, reader ir.Opid) error {
	set, ok := m.reading[addr]
	if !ok {
		set = make(map[ir.Opid]struct{})
		m.reading[addr] = set
	}
	set[reader] = struct{}{}
	return nil
}

func (m *MemStock) AddSpending(addr ir.CellAddr, spender ir.Opid) error {
	m.spent[addr] = spender
	return nil
}

func (m *MemStock) CommitTransaction() error {
	m.commits++
	return nil
}

func (m *MemStock) Close() error { return nil }

// CheckStashEntry panics if op does not hash to opid. Stash content is
// addressed by its hash, so a mismatch means two different operations are
// being stored under one id.
func CheckStashEntry(opid ir.Opid, op ir.Operation) {
	got, err := op.Opid()
	if err != nil {
		panic(fmt.Sprintf("stash entry %s does not encode: %v", opid, err))
	}
	if got != opid {
		panic(fmt.Sprintf("conflicting stash content for %s: operation hashes to %s", opid, got))
	}
}
