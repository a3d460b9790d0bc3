package harness

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/deeds/internal/compiler"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/state"
	"github.com/roach88/deeds/internal/testutil"
)

// genesisLabel names the genesis operation in scenarios.
const genesisLabel = "genesis"

// cellRef locates a named owned cell.
type cellRef struct {
	token ir.AuthToken
	addr  ir.CellAddr
}

// runner holds the state of one scenario execution.
type runner struct {
	scenario *Scenario
	ledger   *ledger.Ledger
	tokens   *testutil.DeterministicTokens
	logger   *slog.Logger

	ops    map[string]ir.Opid
	labels map[ir.Opid]string
	cells  map[string]cellRef

	result *Result
}

// Run executes a scenario against an in-memory ledger.
func Run(scenario *Scenario) (*Result, error) {
	return RunWith(scenario, ledger.NewMemStock)
}

// RunWith executes a scenario against a ledger persisted by create.
// Returns an error if the contract cannot be compiled or issued; step and
// assertion failures are reported in the Result.
func RunWith(scenario *Scenario, create ledger.CreateFunc) (*Result, error) {
	contract, err := compiler.CompileFile(scenario.Contract)
	if err != nil {
		return nil, fmt.Errorf("compile contract: %w", err)
	}

	seed := scenario.Seed
	if seed == "" {
		seed = scenario.Name
	}
	r := &runner{
		scenario: scenario,
		tokens:   testutil.NewDeterministicTokens(seed),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ops:      make(map[string]ir.Opid),
		labels:   make(map[ir.Opid]string),
		cells:    make(map[string]cellRef),
		result:   NewResult(),
	}

	articles, genesisTokens, err := contract.Issue(r.tokens.Next)
	if err != nil {
		return nil, fmt.Errorf("issue contract: %w", err)
	}
	l, err := ledger.Issue(articles, create, ledger.WithLogger(r.logger))
	if err != nil {
		return nil, fmt.Errorf("issue contract: %w", err)
	}
	defer l.Close()
	r.ledger = l

	genesis := articles.ContractID.GenesisOpid()
	r.nameOp(genesisLabel, genesis)
	for i, tok := range genesisTokens {
		r.cells[fmt.Sprintf("%s.%d", genesisLabel, i)] = cellRef{token: tok, addr: ir.NewCellAddr(genesis, uint16(i))}
	}

	for i, step := range scenario.Steps {
		if err := r.runStep(i+1, step); err != nil {
			return nil, err
		}
	}

	snap := snapshot(l.State())
	r.result.State = snap
	for _, a := range scenario.Assertions {
		if err := r.checkAssertion(a); err != nil {
			r.result.AddError(err)
		}
	}
	return r.result, nil
}

func (r *runner) nameOp(label string, opid ir.Opid) {
	r.ops[label] = opid
	r.labels[opid] = label
}

// runStep executes one step. Only infrastructure failures are returned;
// unexpected outcomes are recorded in the result.
func (r *runner) runStep(seq int, step Step) error {
	switch {
	case step.Call != "":
		r.call(seq, step)
	case step.Rollback != nil:
		opids, err := r.resolveOps(step.Rollback)
		if err != nil {
			r.result.AddError(fmt.Errorf("step %d: %w", seq, err))
			return nil
		}
		done, err := r.ledger.Rollback(opids)
		if err != nil {
			return fmt.Errorf("step %d: rollback: %w", seq, err)
		}
		r.record(seq, EventRollback, done)
	case step.Forward != nil:
		opids, err := r.resolveOps(step.Forward)
		if err != nil {
			r.result.AddError(fmt.Errorf("step %d: %w", seq, err))
			return nil
		}
		done, err := r.ledger.Forward(opids)
		if err != nil {
			return fmt.Errorf("step %d: forward: %w", seq, err)
		}
		r.record(seq, EventForward, done)
	case step.Replicate:
		return r.replicate(seq)
	}
	return nil
}

func (r *runner) call(seq int, step Step) {
	label := step.Label
	if label == "" {
		label = "step" + strconv.Itoa(seq)
	}
	expect := step.Expect
	if expect == "" {
		expect = OutcomeApplied
	}

	d := r.ledger.StartDeed(step.Call)
	for _, u := range step.Using {
		ref, ok := r.cells[u.Cell]
		if !ok {
			r.result.AddError(fmt.Errorf("step %d: unknown cell %q", seq, u.Cell))
			return
		}
		d.Using(ref.token)
		if len(u.Witness) > 0 {
			d.Satisfying(ir.NewStateValue(u.Witness...))
		}
	}
	for _, ref := range step.Reading {
		addr, err := r.resolveAddr(ref)
		if err != nil {
			r.result.AddError(fmt.Errorf("step %d: %w", seq, err))
			return
		}
		d.Reading(addr)
	}
	for i, g := range step.Append {
		value, err := ir.FromNative(g.Value)
		if err != nil {
			r.result.AddError(fmt.Errorf("step %d: append[%d]: %w", seq, i, err))
			return
		}
		var raw ir.IRValue
		if g.Raw != nil {
			if raw, err = ir.FromNative(g.Raw); err != nil {
				r.result.AddError(fmt.Errorf("step %d: append[%d] raw: %w", seq, i, err))
				return
			}
		}
		d.Append(g.State, value, raw)
	}
	names := make([]string, len(step.Assign))
	tokens := make([]ir.AuthToken, len(step.Assign))
	for i, o := range step.Assign {
		value, err := ir.FromNative(o.Value)
		if err != nil {
			r.result.AddError(fmt.Errorf("step %d: assign[%d]: %w", seq, i, err))
			return
		}
		names[i] = o.Owner
		if names[i] == "" {
			names[i] = fmt.Sprintf("%s.%d", label, i)
		}
		tokens[i] = r.tokens.Next()
		d.Assign(o.State, value, tokens[i], o.Lock)
	}

	opid, err := d.Commit()
	outcome := outcomeOf(err)
	r.result.Trace = append(r.result.Trace, TraceEvent{
		Seq:     seq,
		Type:    EventCall,
		Label:   label,
		Method:  step.Call,
		Outcome: outcome,
	})
	if outcome != expect {
		r.result.AddError(&AssertionError{
			Type:     EventCall,
			Expected: expect,
			Actual:   outcome,
			Message:  fmt.Sprintf("step %d (%s): %v", seq, label, err),
		})
	}
	if !opid.IsZero() {
		r.nameOp(label, opid)
	}
	if err != nil {
		return
	}
	for i, name := range names {
		r.cells[name] = cellRef{token: tokens[i], addr: ir.NewCellAddr(opid, uint16(i))}
	}
}

// outcomeOf maps a call error to its trace outcome.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeApplied
	}
	if code := ledger.ErrorCode(err); code != "" {
		return string(code)
	}
	return OutcomeError
}

func (r *runner) record(seq int, typ string, opids []ir.Opid) {
	labels := make([]string, len(opids))
	for i, opid := range opids {
		labels[i] = r.labelOf(opid)
	}
	slices.Sort(labels)
	r.result.Trace = append(r.result.Trace, TraceEvent{
		Seq:    seq,
		Type:   typ,
		Labels: labels,
		Count:  len(opids),
	})
}

// replicate exports the whole ledger into a fresh in-memory replica.
func (r *runner) replicate(seq int) error {
	var buf bytes.Buffer
	if err := r.ledger.ExportAll(&buf); err != nil {
		return fmt.Errorf("step %d: export: %w", seq, err)
	}
	replica, err := ledger.Issue(r.ledger.Articles(), ledger.NewMemStock, ledger.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("step %d: issue replica: %w", seq, err)
	}
	defer replica.Close()
	report, err := replica.Accept(&buf)
	if err != nil {
		return fmt.Errorf("step %d: accept: %w", seq, err)
	}
	snap := snapshot(replica.State())
	r.result.Replica = &snap
	r.result.Trace = append(r.result.Trace, TraceEvent{
		Seq:   seq,
		Type:  EventReplicate,
		Count: report.Applied,
	})
	return nil
}

func (r *runner) labelOf(opid ir.Opid) string {
	if label, ok := r.labels[opid]; ok {
		return label
	}
	return opid.String()
}

func (r *runner) resolveOps(labels []string) ([]ir.Opid, error) {
	opids := make([]ir.Opid, len(labels))
	for i, label := range labels {
		opid, ok := r.ops[label]
		if !ok {
			return nil, fmt.Errorf("unknown operation %q", label)
		}
		opids[i] = opid
	}
	return opids, nil
}

// resolveAddr parses an immutable cell reference of the form "label:pos".
func (r *runner) resolveAddr(ref string) (ir.CellAddr, error) {
	label, pos, ok := strings.Cut(ref, ":")
	if !ok {
		return ir.CellAddr{}, fmt.Errorf("cell reference %q: expected label:pos", ref)
	}
	opid, known := r.ops[label]
	if !known {
		return ir.CellAddr{}, fmt.Errorf("cell reference %q: unknown operation %q", ref, label)
	}
	n, err := strconv.ParseUint(pos, 10, 16)
	if err != nil {
		return ir.CellAddr{}, fmt.Errorf("cell reference %q: %w", ref, err)
	}
	return ir.NewCellAddr(opid, uint16(n)), nil
}

// snapshot captures the default readers and the owned totals of st.
func snapshot(st *state.EffectiveState) Snapshot {
	snap := Snapshot{
		Readers: make(map[string]ir.IRValue, len(st.Main.Readers)),
		Owned:   make(map[string]OwnedTotal, len(st.Main.Destructible)),
	}
	for name, v := range st.Main.Readers {
		snap.Readers[name] = v
	}
	for name := range st.Main.Destructible {
		var total OwnedTotal
		for _, cell := range st.Main.Owned(name) {
			total.Count++
			if n, ok := cell.Value.(ir.IRInt); ok {
				total.Sum += int64(n)
			}
		}
		if total.Count == 0 {
			continue
		}
		snap.Owned[name] = total
	}
	return snap
}
