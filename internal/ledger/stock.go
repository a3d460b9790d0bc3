package ledger

import (
	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/state"
)

// Stock persists one contract: its articles, the effective state, every
// known operation (stash), every transition (trace), the spent-by and
// read-by indices and the validity flags.
//
// Stash and trace writes are durable when the call returns. Validity marks
// and the spending index may lag until CommitTransaction; reads always see
// the latest in-memory value.
//
// Operation and Transition panic on unknown ids: callers check
// HasOperation first.
type Stock interface {
	// Config describes the backend.
	Config() StockConfig

	// Articles returns the current articles.
	Articles() api.Articles

	// State returns the live effective state. Callers must not mutate it
	// outside UpdateState.
	State() *state.EffectiveState

	IsValid(opid ir.Opid) bool
	MarkValid(opid ir.Opid)
	MarkInvalid(opid ir.Opid)

	HasOperation(opid ir.Opid) (bool, error)
	Operation(opid ir.Opid) (ir.Operation, error)
	// Operations lists the stash in insertion order.
	Operations() ([]StashEntry, error)

	Transition(opid ir.Opid) (state.Transition, error)
	Trace() ([]state.Transition, error)

	// SpentBy returns the operation that last destroyed addr.
	SpentBy(addr ir.CellAddr) (ir.Opid, bool, error)
	// ReadBy returns every operation that read addr, in id order.
	ReadBy(addr ir.CellAddr) ([]ir.Opid, error)

	// UpdateArticles mutates the articles, rebuilds every state view under
	// the new schema and persists both. On failure the previous in-memory
	// values are restored.
	UpdateArticles(f func(*api.Articles) error) error

	// UpdateState mutates the effective state and persists its raw memory.
	// On failure the previous in-memory state is restored.
	UpdateState(f func(*state.EffectiveState, api.Schema) error) error

	// AddOperation stashes an operation. Re-adding identical content is a
	// no-op; different content under the same opid panics.
	AddOperation(opid ir.Opid, op ir.Operation) error
	// AddTransition records the transition of an application, replacing
	// any earlier record of the same opid. A differing record panics.
	AddTransition(tr state.Transition) error
	AddReading(addr ir.CellAddr, reader ir.Opid) error
	// AddSpending records the spender of addr. A later spender replaces an
	// earlier one once the earlier one has been rolled back.
	AddSpending(addr ir.CellAddr, spender ir.Opid) error

	// CommitTransaction flushes lagging validity marks and spending entries.
	// Calling it with nothing pending is a no-op.
	CommitTransaction() error

	Close() error
}

// StockConfig describes where a stock lives.
type StockConfig struct {
	Backend  string `json:"backend"`
	Location string `json:"location"`
}

// StashEntry is one stashed operation.
type StashEntry struct {
	Opid      ir.Opid      `json:"opid"`
	Operation ir.Operation `json:"operation"`
}

// CreateFunc creates a fresh stock seeded with articles and the state
// produced by their genesis.
type CreateFunc func(articles api.Articles, st *state.EffectiveState) (Stock, error)
