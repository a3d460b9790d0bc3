package ledger

import (
	"fmt"
	"log/slog"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/codex"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/state"
)

// Ledger drives one contract over a Stock.
//
// Thread-safety model: a Ledger is single-writer. It holds no locks; callers
// serialize every call on the same Ledger and never share its Stock.
//
// INVARIANTS:
//   - every valid operation has its transition in the trace
//   - an operation is rolled back only after all of its valid dependents
//   - the stash only grows; validity is the only thing that toggles
type Ledger struct {
	stock    Stock
	verifier codex.Verifier
	logger   *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithVerifier replaces the CEL engine as the codex verifier.
func WithVerifier(v codex.Verifier) Option {
	return func(l *Ledger) {
		l.verifier = v
	}
}

func newLedger(opts []Option) (*Ledger, error) {
	l := &Ledger{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.verifier == nil {
		engine, err := codex.NewEngine()
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		l.verifier = engine
	}
	return l, nil
}

// Issue creates a new contract: it validates the articles, verifies and
// applies the genesis, and hands both to create for persistence.
func Issue(articles api.Articles, create CreateFunc, opts ...Option) (*Ledger, error) {
	l, err := newLedger(opts)
	if err != nil {
		return nil, err
	}
	if err := articles.Validate(); err != nil {
		return nil, fmt.Errorf("issue: %w", err)
	}
	st, err := state.FromGenesis(articles, l.verifier)
	if err != nil {
		return nil, err
	}
	stock, err := create(articles, st)
	if err != nil {
		return nil, fmt.Errorf("issue: create stock: %w", err)
	}
	l.stock = stock
	l.logger.Info("contract issued",
		"contract", articles.ContractID.String(),
		"name", articles.Issue.Meta.Name,
		"backend", stock.Config().Backend)
	return l, nil
}

// Load wraps an existing stock.
func Load(stock Stock, opts ...Option) (*Ledger, error) {
	l, err := newLedger(opts)
	if err != nil {
		return nil, err
	}
	l.stock = stock
	return l, nil
}

// Stock returns the underlying stock.
func (l *Ledger) Stock() Stock { return l.stock }

// ContractID returns the id of the contract.
func (l *Ledger) ContractID() ir.ContractID { return l.stock.Articles().ContractID }

// Articles returns the current articles.
func (l *Ledger) Articles() api.Articles { return l.stock.Articles() }

// State returns the current effective state.
func (l *Ledger) State() *state.EffectiveState { return l.stock.State() }

// Close flushes pending indices and closes the stock.
func (l *Ledger) Close() error {
	if err := l.stock.CommitTransaction(); err != nil {
		l.stock.Close()
		return err
	}
	return l.stock.Close()
}

// IsValid reports whether opid is applied and not rolled back. The genesis
// is always valid.
func (l *Ledger) IsValid(opid ir.Opid) bool {
	return opid == l.ContractID().GenesisOpid() || l.stock.IsValid(opid)
}

// HasOperation reports whether opid is stashed.
func (l *Ledger) HasOperation(opid ir.Opid) (bool, error) { return l.stock.HasOperation(opid) }

// Operation returns a stashed operation. Panics on unknown ids.
func (l *Ledger) Operation(opid ir.Opid) (ir.Operation, error) { return l.stock.Operation(opid) }

// Operations lists the stash in insertion order.
func (l *Ledger) Operations() ([]StashEntry, error) { return l.stock.Operations() }

// Trace lists every recorded transition.
func (l *Ledger) Trace() ([]state.Transition, error) { return l.stock.Trace() }

// SpentBy returns the last operation that destroyed addr.
func (l *Ledger) SpentBy(addr ir.CellAddr) (ir.Opid, bool, error) { return l.stock.SpentBy(addr) }

// ReadBy returns the operations that read addr.
func (l *Ledger) ReadBy(addr ir.CellAddr) ([]ir.Opid, error) { return l.stock.ReadBy(addr) }

// CommitTransaction flushes lagging indices.
func (l *Ledger) CommitTransaction() error {
	if err := l.stock.CommitTransaction(); err != nil {
		return persistenceError(ir.Opid{}, "commit transaction", err)
	}
	return nil
}

// ApplyVerify verifies op with the codex and applies it. It returns true,
// without side effects, when op is already applied and valid.
//
// ApplyVerify does not commit; batch callers commit once at the end.
func (l *Ledger) ApplyVerify(op ir.Operation) (bool, error) {
	articles := l.stock.Articles()
	if op.ContractID != articles.ContractID {
		return false, &AcceptError{
			Code:    ErrCodeContractMismatch,
			Message: fmt.Sprintf("operation belongs to contract %s, ledger holds %s", op.ContractID, articles.ContractID),
		}
	}
	opid, err := op.Opid()
	if err != nil {
		return false, &AcceptError{Code: ErrCodeDecode, Message: "operation does not encode", Err: err}
	}
	if l.stock.IsValid(opid) {
		l.logger.Debug("operation already applied", "opid", opid.String())
		return true, nil
	}
	verified, err := l.verify(op)
	if err != nil {
		return false, &AcceptError{Code: ErrCodeCall, Message: "codex rejected operation", Opid: opid, Err: err}
	}
	if _, err := l.applyInternal(verified); err != nil {
		return false, err
	}
	return false, nil
}

func (l *Ledger) verify(op ir.Operation) (ir.VerifiedOperation, error) {
	articles := l.stock.Articles()
	return l.verifier.Verify(articles.ContractID, articles.Issue.Codex, op, l.stock.State().Raw, articles.Schema.Libs)
}

// Apply records an operation that was verified elsewhere. If it is already
// valid the recorded transition is returned unchanged.
func (l *Ledger) Apply(op ir.VerifiedOperation) (state.Transition, error) {
	if l.stock.IsValid(op.Opid()) {
		return l.stock.Transition(op.Opid())
	}
	return l.applyInternal(op)
}

func (l *Ledger) applyInternal(op ir.VerifiedOperation) (state.Transition, error) {
	opid := op.Opid()
	o := op.Operation()

	if err := l.stock.AddOperation(opid, o); err != nil {
		return state.Transition{}, persistenceError(opid, "stash operation", err)
	}
	for _, addr := range o.ImmutableIn {
		if err := l.stock.AddReading(addr, opid); err != nil {
			return state.Transition{}, persistenceError(opid, "record reading", err)
		}
	}
	for _, in := range o.DestructibleIn {
		if err := l.stock.AddSpending(in.Addr, opid); err != nil {
			return state.Transition{}, persistenceError(opid, "record spending", err)
		}
	}

	var tr state.Transition
	err := l.stock.UpdateState(func(st *state.EffectiveState, schema api.Schema) error {
		tr = st.Apply(op, schema)
		st.Recompute(schema)
		return nil
	})
	if err != nil {
		return state.Transition{}, &AcceptError{Code: ErrCodeSerialize, Message: "persist state", Opid: opid, Err: err}
	}
	if err := l.stock.AddTransition(tr); err != nil {
		return state.Transition{}, persistenceError(opid, "record transition", err)
	}
	l.stock.MarkValid(opid)

	l.logger.Info("operation applied",
		"opid", opid.String(),
		"call", o.CallID,
		"destroyed", len(tr.Destroyed),
		"created", len(o.DestructibleOut)+len(o.ImmutableOut))
	return tr, nil
}

// Rollback invalidates the given operations and every valid operation that
// depends on them through spent or read outputs. Dependents are rolled back
// before the operations they depend on. Unknown or already invalid seeds
// are ignored. Returns the rolled back opids in rollback order.
func (l *Ledger) Rollback(opids []ir.Opid) ([]ir.Opid, error) {
	var seeds []ir.Opid
	for _, opid := range opids {
		if l.stock.IsValid(opid) {
			seeds = append(seeds, opid)
		}
	}
	closure, err := l.descendants(seeds, true)
	if err != nil {
		return nil, err
	}
	order, err := l.dependentsFirst(seeds, closure)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, nil
	}

	transitions := make([]state.Transition, len(order))
	for i, opid := range order {
		tr, err := l.stock.Transition(opid)
		if err != nil {
			return nil, persistenceError(opid, "load transition", err)
		}
		transitions[i] = tr
	}
	err = l.stock.UpdateState(func(st *state.EffectiveState, schema api.Schema) error {
		for _, tr := range transitions {
			st.Rollback(tr, schema)
		}
		st.Recompute(schema)
		return nil
	})
	if err != nil {
		return nil, &AcceptError{Code: ErrCodeSerialize, Message: "persist state after rollback", Err: err}
	}
	for _, opid := range order {
		l.stock.MarkInvalid(opid)
		l.logger.Info("operation rolled back", "opid", opid.String())
	}
	if err := l.CommitTransaction(); err != nil {
		return nil, err
	}
	return order, nil
}

// Forward re-applies the given operations together with every rolled back
// ancestor they need, parents first. An operation whose parents are not
// valid, or which no longer verifies against the current state, is skipped.
// Returns the re-applied opids in application order.
func (l *Ledger) Forward(opids []ir.Opid) ([]ir.Opid, error) {
	ancestors, err := l.Ancestors(opids)
	if err != nil {
		return nil, err
	}
	pending := make(map[ir.Opid]struct{})
	for _, opid := range ancestors {
		if !l.stock.IsValid(opid) {
			pending[opid] = struct{}{}
		}
	}
	order, err := l.parentsFirst(pending)
	if err != nil {
		return nil, err
	}

	var applied []ir.Opid
	for _, opid := range order {
		op, err := l.stock.Operation(opid)
		if err != nil {
			return applied, persistenceError(opid, "load operation", err)
		}
		if missing := l.invalidParent(op); missing != nil {
			l.logger.Warn("forward skipped operation with invalid parent",
				"opid", opid.String(), "parent", missing.String())
			continue
		}
		verified, err := l.verify(op)
		if err != nil {
			l.logger.Warn("forward skipped operation that no longer verifies",
				"opid", opid.String(), "error", err)
			continue
		}
		if _, err := l.applyInternal(verified); err != nil {
			return applied, err
		}
		applied = append(applied, opid)
	}
	if err := l.CommitTransaction(); err != nil {
		return applied, err
	}
	return applied, nil
}

func (l *Ledger) invalidParent(op ir.Operation) *ir.Opid {
	for _, parent := range op.Parents() {
		if !l.IsValid(parent) {
			return &parent
		}
	}
	return nil
}

// UpgradeApis merges other into the current articles and rebuilds the
// state views when the merge changes them.
func (l *Ledger) UpgradeApis(other api.Articles) (bool, error) {
	next := l.stock.Articles()
	changed, err := next.Merge(other)
	if err != nil {
		return false, &AcceptError{Code: ErrCodeMerge, Message: "merge articles", Err: err}
	}
	if !changed {
		return false, nil
	}
	err = l.stock.UpdateArticles(func(a *api.Articles) error {
		*a = next
		return nil
	})
	if err != nil {
		return false, &AcceptError{Code: ErrCodeSerialize, Message: "persist articles", Err: err}
	}
	l.logger.Info("articles upgraded",
		"version", next.Schema.Version,
		"signed", next.IsSigned())
	return true, nil
}

// HistoryEntry is one stashed operation with its current validity.
type HistoryEntry struct {
	Seq    int     `json:"seq"`
	Opid   ir.Opid `json:"opid"`
	CallID uint16  `json:"call_id"`
	Nonce  uint64  `json:"nonce"`
	Valid  bool    `json:"valid"`
}

// History lists the stash in insertion order with validity flags.
func (l *Ledger) History() ([]HistoryEntry, error) {
	ops, err := l.stock.Operations()
	if err != nil {
		return nil, persistenceError(ir.Opid{}, "list operations", err)
	}
	out := make([]HistoryEntry, len(ops))
	for i, e := range ops {
		out[i] = HistoryEntry{
			Seq:    i + 1,
			Opid:   e.Opid,
			CallID: e.Operation.CallID,
			Nonce:  e.Operation.Nonce,
			Valid:  l.stock.IsValid(e.Opid),
		}
	}
	return out, nil
}
