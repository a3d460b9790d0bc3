package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOperation() Operation {
	var cid ContractID
	cid[0] = 0xAA
	var auth AuthToken
	auth[0] = 0x01
	return Operation{
		ContractID: cid,
		CallID:     1,
		Nonce:      7,
		DestructibleIn: []Input{
			{Addr: NewCellAddr(Opid(cid), 0), Witness: NewStateValue(42)},
		},
		DestructibleOut: []StateCell{
			{Data: NewStateValue(1, 100), Auth: auth},
		},
		ImmutableOut: []StateData{
			{Value: NewStateValue(3, 100), Raw: []byte(`{"note":"x"}`)},
		},
	}
}

func TestOperationIDDeterminism(t *testing.T) {
	op := testOperation()

	id1, err := op.Opid()
	require.NoError(t, err)
	id2, err := op.Opid()
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "Opid must be deterministic")
	assert.False(t, id1.IsZero())
	assert.Len(t, id1.String(), 64, "SHA-256 hex is 64 characters")
}

func TestOperationIDChangesWithContent(t *testing.T) {
	base := testOperation()
	baseID := base.MustOpid()

	nonce := testOperation()
	nonce.Nonce++

	witness := testOperation()
	witness.DestructibleIn[0].Witness = NewStateValue(43)

	lock := testOperation()
	lock.DestructibleOut[0].Lock = "true"

	raw := testOperation()
	raw.ImmutableOut[0].Raw = nil

	call := testOperation()
	call.CallID = 2

	for name, op := range map[string]Operation{
		"nonce": nonce, "witness": witness, "lock": lock, "raw": raw, "call": call,
	} {
		assert.NotEqual(t, baseID, op.MustOpid(), "changing %s must change the opid", name)
	}
}

func TestOperationIDSurvivesJSONRoundTrip(t *testing.T) {
	op := testOperation()
	data, err := jsonMarshal(op)
	require.NoError(t, err)

	var decoded Operation
	require.NoError(t, jsonUnmarshal(data, &decoded))
	assert.Equal(t, op.MustOpid(), decoded.MustOpid())
}

func TestContractIDOf(t *testing.T) {
	genesis := Genesis{CallID: 0, ImmutableOut: []StateData{{Value: NewStateValue(2, 5)}}}
	meta := IRObject{"name": IRString("Fungible")}
	codex := IRObject{"verifiers": IRObject{"0": IRString("issue")}}

	id1, err := ContractIDOf(meta, codex, genesis)
	require.NoError(t, err)
	id2, err := ContractIDOf(IRObject{"name": IRString("Other")}, codex, genesis)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, Opid(id1), id1.GenesisOpid())
}

func TestHashDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t,
		hashWithDomain(DomainOperation, data),
		hashWithDomain(DomainContract, data),
		"different domains must produce different hashes")
}

func TestParents(t *testing.T) {
	a := Opid{1}
	b := Opid{2}
	op := Operation{
		DestructibleIn: []Input{{Addr: NewCellAddr(a, 0)}, {Addr: NewCellAddr(a, 1)}},
		ImmutableIn:    []CellAddr{NewCellAddr(b, 0), NewCellAddr(a, 3)},
	}
	assert.Equal(t, []Opid{a, b}, op.Parents())
}
