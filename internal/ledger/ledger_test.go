package ledger_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/codex"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/ledger/stocktest"
	"github.com/roach88/deeds/internal/state"
	"github.com/roach88/deeds/internal/testutil"
)

func TestMemStock(t *testing.T) {
	stocktest.Run(t, stocktest.Backend{
		Name:   "memory",
		Create: func(t *testing.T) ledger.CreateFunc { return ledger.NewMemStock },
	})
}

func newFixture(t *testing.T, amounts ...int64) *stocktest.Fixture {
	return stocktest.NewFixture(t, ledger.NewMemStock, amounts...)
}

func TestIssue_GenesisIsValidAndNotStashed(t *testing.T) {
	f := newFixture(t, 10, 20)
	l := f.Ledger

	assert.True(t, l.IsValid(f.Articles.ContractID.GenesisOpid()))
	ops, err := l.Operations()
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Equal(t, ir.IRInt(30), l.State().Read("supply"))
	assert.Equal(t, "memory", l.Stock().Config().Backend)
}

func TestIssue_RejectsInvalidArticles(t *testing.T) {
	articles, _ := testutil.FungibleArticles(testutil.NewDeterministicTokens("x"), 5)
	articles.ContractID = ir.ContractID{1}
	_, err := ledger.Issue(articles, ledger.NewMemStock, ledger.WithLogger(stocktest.Quiet()))
	require.Error(t, err)
}

func TestIssue_RejectedGenesisIsIssueError(t *testing.T) {
	articles, _ := testutil.FungibleArticles(testutil.NewDeterministicTokens("x"), 5)
	articles.Schema.Libs = codex.Libs{"issue": "false", "transfer": "true"}
	_, err := ledger.Issue(articles, ledger.NewMemStock, ledger.WithLogger(stocktest.Quiet()))
	require.Error(t, err)
	assert.True(t, state.IsIssueError(err))
}

func TestIssue_CreateFailure(t *testing.T) {
	articles, _ := testutil.FungibleArticles(testutil.NewDeterministicTokens("x"), 5)
	boom := errors.New("disk full")
	_, err := ledger.Issue(articles, func(api.Articles, *state.EffectiveState) (ledger.Stock, error) {
		return nil, boom
	}, ledger.WithLogger(stocktest.Quiet()))
	assert.ErrorIs(t, err, boom)
}

func TestApplyVerify_ContractMismatch(t *testing.T) {
	f := newFixture(t, 10)
	op := testutil.Transfer(ir.ContractID{9}, 1, nil, testutil.AmountCell(1, f.Tokens.Next()))
	_, err := f.Ledger.ApplyVerify(op)
	require.Error(t, err)
	assert.True(t, ledger.IsContractMismatch(err))
	assert.Equal(t, ledger.ErrCodeContractMismatch, ledger.ErrorCode(err))
}

func TestApplyVerify_CallErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, 10)
	l := f.Ledger
	before := stocktest.Take(l.State())

	addr := l.State().Addr(f.Genesis[0])
	op := testutil.Transfer(f.Articles.ContractID, 1, []ir.CellAddr{addr}, testutil.AmountCell(11, f.Tokens.Next()))
	_, err := l.ApplyVerify(op)
	require.Error(t, err)
	assert.True(t, ledger.IsCallError(err))
	assert.Equal(t, codex.ErrCodeRejected, codex.ErrorCode(err), "codex error is wrapped")
	assert.Equal(t, op.MustOpid(), errOpid(err))

	assert.Equal(t, before, stocktest.Take(l.State()))
	ops, err := l.Operations()
	require.NoError(t, err)
	assert.Empty(t, ops, "rejected operations are not stashed")
}

func errOpid(err error) ir.Opid {
	var ae *ledger.AcceptError
	if errors.As(err, &ae) {
		return ae.Opid
	}
	return ir.Opid{}
}

func TestApplyVerify_DoesNotCommit(t *testing.T) {
	f := newFixture(t, 10)
	mem := f.Ledger.Stock().(*ledger.MemStock)
	op, err := f.Ledger.StartDeed("transfer").Using(f.Genesis[0]).
		Assign("amount", ir.IRInt(10), f.Tokens.Next(), "").Finish()
	require.NoError(t, err)

	_, err = f.Ledger.ApplyVerify(op)
	require.NoError(t, err)
	assert.Equal(t, 0, mem.Commits())

	_, err = f.Ledger.Rollback([]ir.Opid{op.MustOpid()})
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Commits())
}

func TestApplyVerify_VerifiesOncePerApplication(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := codex.NewMockVerifier(ctrl)
	engine, err := codex.NewEngine()
	require.NoError(t, err)
	verifier.EXPECT().
		Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(engine.Verify).
		Times(3)

	tokens := testutil.NewDeterministicTokens(t.Name())
	articles, genesis := testutil.FungibleArticles(tokens, 10)
	l, err := ledger.Issue(articles, ledger.NewMemStock,
		ledger.WithVerifier(verifier), ledger.WithLogger(stocktest.Quiet()))
	require.NoError(t, err)

	op, err := l.StartDeed("transfer").Using(genesis[0]).
		Assign("amount", ir.IRInt(10), tokens.Next(), "").Finish()
	require.NoError(t, err)

	present, err := l.ApplyVerify(op)
	require.NoError(t, err)
	assert.False(t, present)
	present, err = l.ApplyVerify(op)
	require.NoError(t, err)
	assert.True(t, present, "known valid operations skip the codex")

	// A rolled back operation is verified again when re-applied.
	_, err = l.Rollback([]ir.Opid{op.MustOpid()})
	require.NoError(t, err)
	present, err = l.ApplyVerify(op)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestApply_ReturnsRecordedTransition(t *testing.T) {
	f := newFixture(t, 10)
	l := f.Ledger
	addr := l.State().Addr(f.Genesis[0])
	op := testutil.Transfer(f.Articles.ContractID, 1, []ir.CellAddr{addr}, testutil.AmountCell(10, f.Tokens.Next()))
	verified := ir.NewVerifiedOperationUnchecked(op.MustOpid(), op)

	tr, err := l.Apply(verified)
	require.NoError(t, err)
	assert.Equal(t, op.MustOpid(), tr.Opid)
	require.Contains(t, tr.Destroyed, addr)
	assert.Equal(t, testutil.AmountCell(10, f.Genesis[0]), tr.Destroyed[addr])

	again, err := l.Apply(verified)
	require.NoError(t, err)
	assert.True(t, tr.Equal(again))

	spender, ok, err := l.SpentBy(addr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, op.MustOpid(), spender)
}

func TestRollback_IgnoresUnknownAndInvalidSeeds(t *testing.T) {
	f := newFixture(t, 10)
	rolled, err := f.Ledger.Rollback([]ir.Opid{{0xaa}, f.Articles.ContractID.GenesisOpid()})
	require.NoError(t, err)
	assert.Empty(t, rolled)
}

func TestForward_SkipsOperationWhoseInputWasRespent(t *testing.T) {
	f := newFixture(t, 10)
	l := f.Ledger
	first, _ := f.Transfer(t, f.Genesis, 10)
	_, err := l.Rollback([]ir.Opid{first})
	require.NoError(t, err)

	// A competing spend of the same cell wins.
	second, _ := f.Transfer(t, f.Genesis, 9)

	applied, err := l.Forward([]ir.Opid{first})
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.False(t, l.IsValid(first))
	assert.True(t, l.IsValid(second))

	// Once the competitor is gone the original comes back.
	_, err = l.Rollback([]ir.Opid{second})
	require.NoError(t, err)
	applied, err = l.Forward([]ir.Opid{first})
	require.NoError(t, err)
	assert.Equal(t, []ir.Opid{first}, applied)
	spender, ok, err := l.SpentBy(ir.NewCellAddr(f.Articles.ContractID.GenesisOpid(), 0))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, spender, "latest spender replaces the rolled back one")
}

func TestHistory(t *testing.T) {
	f := newFixture(t, 10, 20)
	l := f.Ledger
	a, _ := f.Transfer(t, f.Genesis[:1], 10)
	b, _ := f.Transfer(t, f.Genesis[1:], 20)
	_, err := l.Rollback([]ir.Opid{a})
	require.NoError(t, err)

	history, err := l.History()
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ledger.HistoryEntry{Seq: 1, Opid: a, CallID: testutil.CallTransfer, Nonce: 0, Valid: false}, history[0])
	assert.Equal(t, ledger.HistoryEntry{Seq: 2, Opid: b, CallID: testutil.CallTransfer, Nonce: 1, Valid: true}, history[1])
}

func TestDeedBuilder_Errors(t *testing.T) {
	f := newFixture(t, 10)
	l := f.Ledger

	_, err := l.StartDeed("mint").Commit()
	assert.ErrorContains(t, err, "unknown method")

	_, err = l.StartDeed("transfer").Using(ir.AuthToken{1}).Commit()
	assert.ErrorContains(t, err, "not live")

	_, err = l.StartDeed("transfer").Satisfying(ir.NewStateValue(1)).Commit()
	assert.ErrorContains(t, err, "before any input")

	_, err = l.StartDeed("transfer").Reading(ir.CellAddr{Pos: 4}).Commit()
	assert.ErrorContains(t, err, "does not exist")

	_, err = l.StartDeed("transfer").Using(f.Genesis[0]).Assign("nope", ir.IRInt(1), f.Tokens.Next(), "").Commit()
	assert.ErrorContains(t, err, "assign \"nope\"")

	_, err = l.StartDeed("transfer").Using(f.Genesis[0]).Append("memo", ir.IRInt(1), nil).Commit()
	assert.ErrorContains(t, err, "append \"memo\"")
}

func TestCall_LockedCell(t *testing.T) {
	f := newFixture(t, 10)
	l := f.Ledger
	locked := f.Tokens.Next()

	_, err := l.Call(ledger.CallParams{
		Method: "transfer",
		Using:  []ledger.UsingParam{{Token: f.Genesis[0]}},
		Owned:  []api.OwnedParam{{State: "amount", Value: ir.IRInt(10), Auth: locked, Lock: "size(witness) == 1 && witness[0] == 42u"}},
		Global: []api.GlobalParam{{State: "memo", Value: ir.IRString("locked")}},
	})
	require.NoError(t, err)

	_, err = l.Call(ledger.CallParams{
		Method: "transfer",
		Using:  []ledger.UsingParam{{Token: locked, Witness: ir.NewStateValue(7)}},
		Owned:  []api.OwnedParam{{State: "amount", Value: ir.IRInt(10), Auth: f.Tokens.Next()}},
	})
	require.Error(t, err)
	assert.Equal(t, codex.ErrCodeLockFailed, codex.ErrorCode(err))

	_, err = l.Call(ledger.CallParams{
		Method: "transfer",
		Using:  []ledger.UsingParam{{Token: locked, Witness: ir.NewStateValue(42)}},
		Owned:  []api.OwnedParam{{State: "amount", Value: ir.IRInt(10), Auth: f.Tokens.Next()}},
	})
	require.NoError(t, err)
}

func TestAccept_StopsAtFirstRejectedOperation(t *testing.T) {
	f := newFixture(t, 10, 20)
	f.Transfer(t, f.Genesis[:1], 10)
	f.Transfer(t, f.Genesis[1:], 20)
	var buf bytes.Buffer
	require.NoError(t, f.Ledger.ExportAll(&buf))

	target := newFixture(t, 10, 20)
	// Same seed as f: skip the tokens f handed out.
	for i := 0; i < 10; i++ {
		target.Tokens.Next()
	}
	// The target already spent the second genesis cell differently.
	target.Transfer(t, target.Genesis[1:], 19)
	mem := target.Ledger.Stock().(*ledger.MemStock)
	commits := mem.Commits()

	report, err := target.Ledger.Accept(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
	assert.True(t, ledger.IsCallError(err))
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, commits+1, mem.Commits(), "applied prefix is committed")
}

func TestAcceptError_Format(t *testing.T) {
	err := &ledger.AcceptError{Code: ledger.ErrCodeDecode, Message: "malformed header", Err: errors.New("short")}
	assert.Equal(t, "DECODE_ERROR: malformed header: short", err.Error())

	err = &ledger.AcceptError{Code: ledger.ErrCodeCall, Message: "rejected", Opid: ir.Opid{1}}
	assert.Contains(t, err.Error(), "(opid=01")
	assert.False(t, ledger.IsDecodeError(err))
	assert.Equal(t, ledger.AcceptErrorCode(""), ledger.ErrorCode(errors.New("plain")))
}

func TestReadArticles(t *testing.T) {
	f := newFixture(t, 10)
	var buf bytes.Buffer
	require.NoError(t, f.Ledger.ExportAll(&buf))

	articles, err := ledger.ReadArticles(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, f.Articles.ContractID, articles.ContractID)

	replica, err := ledger.Issue(articles, ledger.NewMemStock, ledger.WithLogger(stocktest.Quiet()))
	require.NoError(t, err)
	_, err = replica.Accept(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	_, err = ledger.ReadArticles(bytes.NewReader([]byte("NOTDEEDS")))
	assert.True(t, ledger.IsDecodeError(err))

	corrupt := bytes.Clone(buf.Bytes())
	corrupt[len(ledger.WireMagic)+2] ^= 0xff
	_, err = ledger.ReadArticles(bytes.NewReader(corrupt))
	assert.True(t, ledger.IsContractMismatch(err))
}
