// Package stocktest is a behaviour suite every Stock backend must pass.
//
// Each backend's tests call Run with a Backend describing how to create
// (and optionally reopen) a stock. The suite drives a Ledger over the
// fungible test contract and checks idempotence, the rollback inverse law,
// rollback/forward round trips, dependency closure, live-set consistency,
// export minimality and import.
package stocktest

import (
	"bytes"
	"io"
	"log/slog"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/state"
	"github.com/roach88/deeds/internal/testutil"
)

// Backend tells the suite how to make stocks.
type Backend struct {
	Name string

	// Create returns a CreateFunc for a fresh, empty location.
	Create func(t *testing.T) ledger.CreateFunc

	// Reopen closes s and opens the same location again. Nil when the
	// backend does not persist.
	Reopen func(t *testing.T, s ledger.Stock) ledger.Stock
}

// Run executes the whole suite against b.
func Run(t *testing.T, b Backend) {
	t.Run("Idempotence", func(t *testing.T) { testIdempotence(t, b) })
	t.Run("RollbackInverse", func(t *testing.T) { testRollbackInverse(t, b) })
	t.Run("RollbackForwardRoundTrip", func(t *testing.T) { testRoundTrip(t, b) })
	t.Run("PairingScenario", func(t *testing.T) { testPairingScenario(t, b) })
	t.Run("ReadEdges", func(t *testing.T) { testReadEdges(t, b) })
	t.Run("ExportMinimality", func(t *testing.T) { testExportMinimality(t, b) })
	t.Run("ExportFollowsReadEdges", func(t *testing.T) { testExportReadEdges(t, b) })
	t.Run("ExportAccept", func(t *testing.T) { testExportAccept(t, b) })
	t.Run("ExportAllKeepsSpentHistory", func(t *testing.T) { testExportAllHistory(t, b) })
	t.Run("AcceptRejectsBadStreams", func(t *testing.T) { testAcceptRejects(t, b) })
	t.Run("ConflictingStashPanics", func(t *testing.T) { testConflictingStash(t, b) })
	t.Run("UpdateStateRestoresOnError", func(t *testing.T) { testUpdateStateRestores(t, b) })
	t.Run("UpgradeApis", func(t *testing.T) { testUpgradeApis(t, b) })
	if b.Reopen != nil {
		t.Run("Reopen", func(t *testing.T) { testReopen(t, b) })
	}
}

// Quiet returns a logger that discards everything.
func Quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Fixture is a ledger over the fungible contract.
type Fixture struct {
	Ledger   *ledger.Ledger
	Articles api.Articles
	Tokens   *testutil.DeterministicTokens
	Genesis  []ir.AuthToken
}

// NewFixture issues a fungible contract with one owned cell per amount.
func NewFixture(t *testing.T, create ledger.CreateFunc, amounts ...int64) *Fixture {
	t.Helper()
	tokens := testutil.NewDeterministicTokens(t.Name())
	articles, genesis := testutil.FungibleArticles(tokens, amounts...)
	l, err := ledger.Issue(articles, create, ledger.WithLogger(Quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return &Fixture{Ledger: l, Articles: articles, Tokens: tokens, Genesis: genesis}
}

// Transfer destroys the cells owned by from and creates one amount cell
// per value. It returns the opid and the new tokens.
func (f *Fixture) Transfer(t *testing.T, from []ir.AuthToken, values ...uint64) (ir.Opid, []ir.AuthToken) {
	t.Helper()
	d := f.Ledger.StartDeed("transfer")
	for _, tok := range from {
		d.Using(tok)
	}
	out := make([]ir.AuthToken, len(values))
	for i, v := range values {
		out[i] = f.Tokens.Next()
		d.Assign("amount", ir.IRInt(v), out[i], "")
	}
	opid, err := d.Commit()
	require.NoError(t, err)
	return opid, out
}

// Snapshot is a comparable summary of an effective state: the raw memory,
// the non-empty default-view buckets and every reader.
type Snapshot struct {
	Raw       *state.RawState
	Owned     map[string][]state.OwnedValue
	Immutable map[string][]ir.IRValue
	Readers   map[string]ir.IRValue
	Views     map[string]map[string]ir.IRValue
}

// Take snapshots st.
func Take(st *state.EffectiveState) Snapshot {
	s := Snapshot{
		Raw:       st.Raw.Clone(),
		Owned:     map[string][]state.OwnedValue{},
		Immutable: map[string][]ir.IRValue{},
		Readers:   maps.Clone(st.Main.Readers),
		Views:     map[string]map[string]ir.IRValue{},
	}
	for name := range st.Main.Destructible {
		if owned := st.Main.Owned(name); len(owned) > 0 {
			s.Owned[name] = owned
		}
	}
	for name, values := range st.Main.ImmutableValues() {
		if len(values) > 0 {
			s.Immutable[name] = values
		}
	}
	for name, view := range st.Aux {
		s.Views[name] = maps.Clone(view.Readers)
	}
	return s
}

func testIdempotence(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10, 20)
	l := f.Ledger

	op, err := l.StartDeed("transfer").Using(f.Genesis[0]).Assign("amount", ir.IRInt(10), f.Tokens.Next(), "").Finish()
	require.NoError(t, err)

	present, err := l.ApplyVerify(op)
	require.NoError(t, err)
	assert.False(t, present)
	after := Take(l.State())

	present, err = l.ApplyVerify(op)
	require.NoError(t, err)
	assert.True(t, present, "second application reports already present")
	assert.Equal(t, after, Take(l.State()))

	ops, err := l.Operations()
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func testRollbackInverse(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10, 20)
	l := f.Ledger
	before := Take(l.State())

	d := l.StartDeed("transfer").Using(f.Genesis[1]).
		Assign("amount", ir.IRInt(5), f.Tokens.Next(), "").
		Assign("amount", ir.IRInt(15), f.Tokens.Next(), "").
		Append("memo", ir.IRString("split"), nil)
	opid, err := d.Commit()
	require.NoError(t, err)
	assert.Equal(t, ir.IRArray{ir.IRString("split")}, l.State().Read("memos"))

	rolled, err := l.Rollback([]ir.Opid{opid})
	require.NoError(t, err)
	assert.Equal(t, []ir.Opid{opid}, rolled)
	assert.False(t, l.IsValid(opid))
	assert.Equal(t, before, Take(l.State()))

	has, err := l.HasOperation(opid)
	require.NoError(t, err)
	assert.True(t, has, "rolled back operations stay stashed")
}

func testRoundTrip(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10, 20, 30)
	l := f.Ledger

	a, outA := f.Transfer(t, []ir.AuthToken{f.Genesis[0], f.Genesis[1]}, 30)
	b2, outB := f.Transfer(t, []ir.AuthToken{outA[0]}, 12, 18)
	c, _ := f.Transfer(t, []ir.AuthToken{outB[1], f.Genesis[2]}, 48)
	full := Take(l.State())

	rolled, err := l.Rollback([]ir.Opid{a})
	require.NoError(t, err)
	assert.ElementsMatch(t, []ir.Opid{a, b2, c}, rolled)
	assert.Equal(t, a, rolled[len(rolled)-1], "seed is rolled back last")
	assert.Equal(t, c, rolled[0], "deepest dependent is rolled back first")

	applied, err := l.Forward([]ir.Opid{c})
	require.NoError(t, err)
	assert.Equal(t, []ir.Opid{a, b2, c}, applied)
	assert.Equal(t, full, Take(l.State()))
	for _, opid := range applied {
		assert.True(t, l.IsValid(opid))
	}

	// Forwarding valid operations changes nothing.
	applied, err = l.Forward([]ir.Opid{c})
	require.NoError(t, err)
	assert.Empty(t, applied)
}

// pairing runs the reference scenario: 20 cells of 100, rounds 0 to 9 where
// the live cells are paired in address order and each pair becomes two
// cells of 100-round. It returns the applied opids in order and, for each,
// the opids whose outputs it destroyed.
func pairing(t *testing.T, f *Fixture) ([]ir.Opid, map[ir.Opid][]ir.Opid) {
	t.Helper()
	l := f.Ledger
	var applied []ir.Opid
	parents := make(map[ir.Opid][]ir.Opid)
	for round := uint64(0); round < 10; round++ {
		live := l.State().Main.Owned("amount")
		require.Len(t, live, 20)
		for i := 0; i < len(live); i += 2 {
			left := l.State().Raw.Owned[live[i].Addr]
			right := l.State().Raw.Owned[live[i+1].Addr]
			opid, _ := f.Transfer(t, []ir.AuthToken{left.Auth, right.Auth}, 100-round, 100-round)
			applied = append(applied, opid)
			parents[opid] = []ir.Opid{live[i].Addr.Opid, live[i+1].Addr.Opid}
		}
	}
	return applied, parents
}

func testPairingScenario(t *testing.T, b Backend) {
	amounts := make([]int64, 20)
	for i := range amounts {
		amounts[i] = 100
	}
	f := NewFixture(t, b.Create(t), amounts...)
	l := f.Ledger

	applied, parents := pairing(t, f)
	require.Len(t, applied, 100)
	live := l.State().Main.Owned("amount")
	require.Len(t, live, 20)
	for _, cell := range live {
		assert.Equal(t, ir.IRInt(91), cell.Value)
	}
	full := Take(l.State())

	// Expected closure from the recorded parent edges.
	target := applied[49]
	expected := map[ir.Opid]bool{target: true}
	for _, opid := range applied {
		for _, p := range parents[opid] {
			if expected[p] {
				expected[opid] = true
			}
		}
	}

	rolled, err := l.Rollback([]ir.Opid{target})
	require.NoError(t, err)
	assert.Len(t, rolled, len(expected))
	for _, opid := range applied {
		assert.Equal(t, !expected[opid], l.IsValid(opid), "validity of %s", opid)
	}
	for i, opid := range rolled {
		for _, p := range parents[opid] {
			pos := slices.Index(rolled, p)
			if pos >= 0 {
				assert.Greater(t, pos, i, "%s rolled back before its dependent %s", p, opid)
			}
		}
	}

	// Live set: outputs of valid operations that no valid operation spent.
	for addr := range l.State().Raw.Owned {
		assert.True(t, l.IsValid(addr.Opid), "live cell %s comes from a rolled back operation", addr)
		assert.False(t, expected[addr.Opid])
	}
	for _, opid := range applied {
		if !l.IsValid(opid) {
			continue
		}
		for pos := uint16(0); pos < 2; pos++ {
			addr := ir.NewCellAddr(opid, pos)
			spender, ok, err := l.SpentBy(addr)
			require.NoError(t, err)
			_, live := l.State().Raw.Owned[addr]
			assert.Equal(t, !(ok && l.IsValid(spender)), live, "liveness of %s", addr)
		}
	}

	_, err = l.Forward(rolled)
	require.NoError(t, err)
	assert.Equal(t, full, Take(l.State()))
}

func testReadEdges(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10, 20)
	l := f.Ledger

	memo, err := l.StartDeed("transfer").Using(f.Genesis[0]).
		Assign("amount", ir.IRInt(10), f.Tokens.Next(), "").
		Append("memo", ir.IRString("note"), nil).Commit()
	require.NoError(t, err)
	memoAddr := ir.NewCellAddr(memo, 0)

	reader, err := l.StartDeed("transfer").Using(f.Genesis[1]).Reading(memoAddr).
		Assign("amount", ir.IRInt(20), f.Tokens.Next(), "").Commit()
	require.NoError(t, err)

	readers, err := l.ReadBy(memoAddr)
	require.NoError(t, err)
	assert.Equal(t, []ir.Opid{reader}, readers)

	desc, err := l.Descendants([]ir.Opid{memo})
	require.NoError(t, err)
	assert.ElementsMatch(t, []ir.Opid{memo, reader}, desc)

	anc, err := l.Ancestors([]ir.Opid{reader})
	require.NoError(t, err)
	assert.ElementsMatch(t, []ir.Opid{memo, reader}, anc)

	rolled, err := l.Rollback([]ir.Opid{memo})
	require.NoError(t, err)
	assert.Equal(t, []ir.Opid{reader, memo}, rolled)
	assert.Equal(t, ir.IRArray{}, l.State().Read("memos"))
}

func testExportMinimality(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10, 20, 30)
	l := f.Ledger

	a, outA := f.Transfer(t, []ir.AuthToken{f.Genesis[0]}, 4, 6)
	b2, outB := f.Transfer(t, []ir.AuthToken{outA[1]}, 6)
	unrelated, _ := f.Transfer(t, []ir.AuthToken{f.Genesis[2]}, 30)

	var buf bytes.Buffer
	require.NoError(t, l.Export([]ir.AuthToken{outB[0]}, &buf))

	other := NewFixture(t, b.Create(t), 10, 20, 30)
	// Same seed: the second fixture issues the identical contract.
	require.Equal(t, l.ContractID(), other.Ledger.ContractID())

	report, err := other.Ledger.Accept(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)

	ops, err := other.Ledger.Operations()
	require.NoError(t, err)
	var got []ir.Opid
	for _, e := range ops {
		got = append(got, e.Opid)
	}
	assert.Equal(t, []ir.Opid{a, b2}, got)
	assert.NotContains(t, got, unrelated)
	_, ok := other.Ledger.State().Raw.LookupAddr(outB[0])
	assert.True(t, ok)
	_, ok = other.Ledger.State().Raw.LookupAddr(outA[0])
	assert.True(t, ok, "siblings created by exported operations come along")

	require.Error(t, l.Export([]ir.AuthToken{f.Genesis[0]}, io.Discard), "spent token cannot be exported")
}

func testExportReadEdges(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10, 20)
	l := f.Ledger

	// Burns its input: the memo is its only output.
	memo, err := l.StartDeed("transfer").Using(f.Genesis[0]).
		Append("memo", ir.IRString("note"), nil).Commit()
	require.NoError(t, err)
	tok := f.Tokens.Next()
	reader, err := l.StartDeed("transfer").Using(f.Genesis[1]).Reading(ir.NewCellAddr(memo, 0)).
		Assign("amount", ir.IRInt(20), tok, "").Commit()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, l.Export([]ir.AuthToken{tok}, &buf))

	other := NewFixture(t, b.Create(t), 10, 20)
	report, err := other.Ledger.Accept(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	ops, err := other.Ledger.Operations()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, memo, ops[0].Opid, "the producer of a read cell is exported")
	assert.Equal(t, reader, ops[1].Opid)
	assert.Equal(t, ir.IRArray{ir.IRString("note")}, other.Ledger.State().Read("memos"))
}

func testExportAllHistory(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10, 20)
	l := f.Ledger

	burn, err := l.StartDeed("transfer").Using(f.Genesis[0]).
		Append("memo", ir.IRString("burnt"), nil).Commit()
	require.NoError(t, err)
	kept, out := f.Transfer(t, f.Genesis[1:], 20)
	rolled, _ := f.Transfer(t, out, 20)
	_, err = l.Rollback([]ir.Opid{rolled})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, l.ExportAll(&buf))

	other := NewFixture(t, b.Create(t), 10, 20)
	report, err := other.Ledger.Accept(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	ops, err := other.Ledger.Operations()
	require.NoError(t, err)
	var got []ir.Opid
	for _, e := range ops {
		got = append(got, e.Opid)
	}
	assert.Equal(t, []ir.Opid{burn, kept}, got, "operations without live outputs are exported, rolled back ones are not")
	assert.Equal(t, Take(l.State()), Take(other.Ledger.State()))
}

func testExportAccept(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10, 20)
	l := f.Ledger
	_, out := f.Transfer(t, []ir.AuthToken{f.Genesis[0], f.Genesis[1]}, 25)
	f.Transfer(t, out, 5, 20)

	var buf bytes.Buffer
	require.NoError(t, l.ExportAll(&buf))

	other := NewFixture(t, b.Create(t), 10, 20)
	report, err := other.Ledger.Accept(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, Take(l.State()), Take(other.Ledger.State()))

	// Accepting again applies nothing new.
	report, err = other.Ledger.Accept(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied)
	assert.Equal(t, 2, report.Present)
}

func testAcceptRejects(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10)
	l := f.Ledger
	f.Transfer(t, f.Genesis, 10)
	var stream bytes.Buffer
	require.NoError(t, l.ExportAll(&stream))
	good := stream.Bytes()

	foreign := NewFixture(t, b.Create(t), 11)
	before := Take(foreign.Ledger.State())
	_, err := foreign.Ledger.Accept(bytes.NewReader(good))
	require.Error(t, err)
	assert.True(t, ledger.IsContractMismatch(err))
	assert.Equal(t, before, Take(foreign.Ledger.State()))

	target := NewFixture(t, b.Create(t), 10)
	badMagic := slices.Clone(good)
	badMagic[0] = 'X'
	_, err = target.Ledger.Accept(bytes.NewReader(badMagic))
	assert.True(t, ledger.IsDecodeError(err))

	badVersion := slices.Clone(good)
	badVersion[len(ledger.WireMagic)+1] = 9
	_, err = target.Ledger.Accept(bytes.NewReader(badVersion))
	assert.True(t, ledger.IsDecodeError(err))

	truncated := good[:len(good)-3]
	report, err := target.Ledger.Accept(bytes.NewReader(truncated))
	assert.True(t, ledger.IsDecodeError(err))
	assert.Equal(t, 0, report.Applied)
	ops, err := target.Ledger.Operations()
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func testConflictingStash(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10)
	stock := f.Ledger.Stock()
	op := testutil.Transfer(f.Articles.ContractID, 7, nil, testutil.AmountCell(1, f.Tokens.Next()))
	opid := op.MustOpid()
	require.NoError(t, stock.AddOperation(opid, op))
	require.NoError(t, stock.AddOperation(opid, op), "identical re-add is a no-op")

	other := op
	other.Nonce = 8
	assert.Panics(t, func() { _ = stock.AddOperation(opid, other) })
	assert.Panics(t, func() { _, _ = stock.Operation(ir.Opid{0xee}) })
	assert.Panics(t, func() { _, _ = stock.Transition(ir.Opid{0xee}) })
}

func testUpdateStateRestores(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10)
	stock := f.Ledger.Stock()
	before := Take(stock.State())

	err := stock.UpdateState(func(st *state.EffectiveState, schema api.Schema) error {
		st.Raw.Rollback(state.Transition{Opid: f.Articles.ContractID.GenesisOpid()})
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, before, Take(stock.State()))
}

func testUpgradeApis(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10)
	l := f.Ledger

	upgraded := f.Articles
	upgraded.Schema = testutil.FungibleSchema()
	upgraded.Schema.Version = 2
	upgraded.Schema.Custom["audit"] = api.Api{
		Immutable: map[string]api.ImmutableDef{
			"ticker": {Adaptor: api.Embedded(testutil.TagTicker, "Name")},
		},
		Readers: []api.Reader{{Name: "names", Kind: api.ReaderList, State: "ticker"}},
	}
	changed, err := l.UpgradeApis(upgraded)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ir.IRArray{ir.IRString("DEED")}, l.State().ReadView("audit", "names"))

	changed, err = l.UpgradeApis(f.Articles)
	require.NoError(t, err)
	assert.False(t, changed, "older schema is ignored")

	foreign, _ := testutil.FungibleArticles(testutil.NewDeterministicTokens("foreign"), 1)
	_, err = l.UpgradeApis(foreign)
	assert.True(t, ledger.IsMergeError(err))
}

func testReopen(t *testing.T, b Backend) {
	f := NewFixture(t, b.Create(t), 10, 20)
	l := f.Ledger
	a, out := f.Transfer(t, f.Genesis, 30)
	c, _ := f.Transfer(t, out, 30)
	_, err := l.Rollback([]ir.Opid{c})
	require.NoError(t, err)

	before := Take(l.State())
	history, err := l.History()
	require.NoError(t, err)
	trace, err := l.Trace()
	require.NoError(t, err)

	stock := b.Reopen(t, l.Stock())
	reopened, err := ledger.Load(stock, ledger.WithLogger(Quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	assert.Equal(t, before, Take(reopened.State()))
	got, err := reopened.History()
	require.NoError(t, err)
	assert.Equal(t, history, got)
	gotTrace, err := reopened.Trace()
	require.NoError(t, err)
	require.Len(t, gotTrace, len(trace))
	for i := range trace {
		assert.True(t, trace[i].Equal(gotTrace[i]))
	}
	spender, ok, err := reopened.SpentBy(ir.NewCellAddr(a, 0))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c, spender)

	applied, err := reopened.Forward([]ir.Opid{c})
	require.NoError(t, err)
	assert.Equal(t, []ir.Opid{c}, applied)
}
