package store

import (
	"testing"

	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/testutil"
)

func TestOperations_StashOrder(t *testing.T) {
	f, s := createTestLedger(t, 10, 20)
	a, out := f.Transfer(t, f.Genesis[:1], 10)
	b, out2 := f.Transfer(t, f.Genesis[1:], 20)
	c, _ := f.Transfer(t, append(out, out2...), 30)

	entries, err := s.Operations()
	if err != nil {
		t.Fatalf("Operations() failed: %v", err)
	}
	want := []ir.Opid{a, b, c}
	if len(entries) != len(want) {
		t.Fatalf("Operations() returned %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Opid != want[i] {
			t.Errorf("entry %d = %s, want %s", i, e.Opid, want[i])
		}
		if got := e.Operation.MustOpid(); got != e.Opid {
			t.Errorf("entry %d body hashes to %s", i, got)
		}
	}
}

func TestOperations_EmptyStash(t *testing.T) {
	_, s := createTestLedger(t, 10)

	entries, err := s.Operations()
	if err != nil {
		t.Fatalf("Operations() failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("Operations() = %#v, want empty non-nil slice", entries)
	}
}

func TestOperation_RoundTrip(t *testing.T) {
	f, s := createTestLedger(t, 10)
	opid, _ := f.Transfer(t, f.Genesis, 4, 6)

	op, err := s.Operation(opid)
	if err != nil {
		t.Fatalf("Operation() failed: %v", err)
	}
	if op.MustOpid() != opid {
		t.Errorf("stored operation hashes to %s, want %s", op.MustOpid(), opid)
	}
	if len(op.DestructibleOut) != 2 {
		t.Errorf("outputs = %d, want 2", len(op.DestructibleOut))
	}
}

func TestOperation_UnknownPanics(t *testing.T) {
	_, s := createTestLedger(t, 10)

	defer func() {
		if recover() == nil {
			t.Error("Operation() of unknown opid did not panic")
		}
	}()
	s.Operation(ir.Opid{1})
}

func TestTransition_UnknownPanics(t *testing.T) {
	_, s := createTestLedger(t, 10)

	defer func() {
		if recover() == nil {
			t.Error("Transition() of unknown opid did not panic")
		}
	}()
	s.Transition(ir.Opid{1})
}

func TestTrace_FollowsStashOrder(t *testing.T) {
	f, s := createTestLedger(t, 10)
	a, out := f.Transfer(t, f.Genesis, 10)
	b, _ := f.Transfer(t, out, 10)

	trace, err := s.Trace()
	if err != nil {
		t.Fatalf("Trace() failed: %v", err)
	}
	if len(trace) != 2 || trace[0].Opid != a || trace[1].Opid != b {
		t.Fatalf("Trace() = %v, want [%s %s]", trace, a, b)
	}
	genesis := ir.NewCellAddr(f.Articles.ContractID.GenesisOpid(), 0)
	if _, ok := trace[0].Destroyed[genesis]; !ok {
		t.Errorf("first transition does not record %s", genesis)
	}

	tr, err := s.Transition(b)
	if err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}
	if !tr.Equal(trace[1]) {
		t.Error("Transition() differs from trace entry")
	}
}

func TestSpentBy_Unspent(t *testing.T) {
	_, s := createTestLedger(t, 10)

	_, ok, err := s.SpentBy(ir.NewCellAddr(ir.Opid{9}, 0))
	if err != nil {
		t.Fatalf("SpentBy() failed: %v", err)
	}
	if ok {
		t.Error("SpentBy() of unspent cell reported a spender")
	}
}

func TestReadBy_OrderedByOpid(t *testing.T) {
	f, s := createTestLedger(t, 10)
	addr := ir.NewCellAddr(f.Articles.ContractID.GenesisOpid(), 1)

	var opids []ir.Opid
	for nonce := uint64(0); nonce < 5; nonce++ {
		op := testutil.Transfer(f.Articles.ContractID, nonce, nil, testutil.AmountCell(1, f.Tokens.Next()))
		op.ImmutableIn = []ir.CellAddr{addr}
		opid := op.MustOpid()
		if err := s.AddOperation(opid, op); err != nil {
			t.Fatalf("AddOperation() failed: %v", err)
		}
		if err := s.AddReading(addr, opid); err != nil {
			t.Fatalf("AddReading() failed: %v", err)
		}
		opids = append(opids, opid)
	}

	readers, err := s.ReadBy(addr)
	if err != nil {
		t.Fatalf("ReadBy() failed: %v", err)
	}
	if len(readers) != len(opids) {
		t.Fatalf("ReadBy() returned %d readers, want %d", len(readers), len(opids))
	}
	for i := 1; i < len(readers); i++ {
		if readers[i-1].Compare(readers[i]) >= 0 {
			t.Errorf("readers not ordered at %d: %s >= %s", i, readers[i-1], readers[i])
		}
	}
}
