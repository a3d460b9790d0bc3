package testutil

import (
	"fmt"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/codex"
	"github.com/roach88/deeds/internal/ir"
)

// Tags and call ids of the fungible test contract.
const (
	TagAmount = 1
	TagTicker = 2
	TagIssued = 3
	TagMemo   = 4

	CallIssue    uint16 = 0
	CallTransfer uint16 = 1
)

// FungibleCodex returns the verifier set of the fungible contract.
func FungibleCodex() codex.Codex {
	return codex.Codex{
		Name:      "fungible",
		Verifiers: map[uint16]string{CallIssue: "issue", CallTransfer: "transfer"},
	}
}

// FungibleSchema returns the schema of the fungible contract: owned amounts,
// a published ticker, issued totals and free-form memos, plus an "audit"
// custom view that only understands issued totals.
func FungibleSchema() api.Schema {
	return api.Schema{
		Version: 1,
		Types:   api.TypeSystem{"Amount": api.KindUint, "Name": api.KindString},
		Libs: codex.Libs{
			"issue":    "true",
			"transfer": "size(inputs) > 0 && in_sum >= out_sum",
		},
		Default: api.Api{
			Destructible: map[string]api.DestructibleDef{
				"amount": {Adaptor: api.Embedded(TagAmount, "Amount")},
			},
			Immutable: map[string]api.ImmutableDef{
				"ticker": {Adaptor: api.Embedded(TagTicker, "Name"), Published: true},
				"issued": {Adaptor: api.Embedded(TagIssued, "Amount")},
				"memo":   {Adaptor: api.Embedded(TagMemo, "Name")},
			},
			Readers: []api.Reader{
				{Name: "supply", Kind: api.ReaderSum, State: "issued"},
				{Name: "tickers", Kind: api.ReaderSet, State: "ticker"},
				{Name: "memos", Kind: api.ReaderList, State: "memo"},
			},
			Verifiers: map[string]uint16{"issue": CallIssue, "transfer": CallTransfer},
		},
		Custom: map[string]api.Api{
			"audit": {
				Immutable: map[string]api.ImmutableDef{
					"issued": {Adaptor: api.Embedded(TagIssued, "Amount")},
				},
				Readers: []api.Reader{
					{Name: "issuances", Kind: api.ReaderCount, State: "issued"},
				},
			},
		},
	}
}

// FungibleIssuer returns an issuer for the fungible contract.
func FungibleIssuer() api.Issuer {
	return api.Issuer{Codex: FungibleCodex(), Schema: FungibleSchema()}
}

// FungibleArticles issues a contract with one owned cell per amount.
// It returns the articles and the genesis tokens in amount order.
// Panics on failure: the fixture is static.
func FungibleArticles(tokens *DeterministicTokens, amounts ...int64) (api.Articles, []ir.AuthToken) {
	params := api.IssueParams{
		Name:      "Fungible",
		Timestamp: 1700000000,
		Method:    "issue",
		Global:    []api.GlobalParam{{State: "ticker", Value: ir.IRString("DEED")}},
	}
	var total int64
	owned := make([]ir.AuthToken, len(amounts))
	for i, amount := range amounts {
		owned[i] = tokens.Next()
		total += amount
		params.Owned = append(params.Owned, api.OwnedParam{State: "amount", Value: ir.IRInt(amount), Auth: owned[i]})
	}
	params.Global = append(params.Global, api.GlobalParam{State: "issued", Value: ir.IRInt(total)})

	articles, err := FungibleIssuer().Issue(params)
	if err != nil {
		panic(fmt.Sprintf("fungible fixture: %v", err))
	}
	return articles, owned
}

// AmountCell builds an owned amount cell.
func AmountCell(amount uint64, auth ir.AuthToken) ir.StateCell {
	return ir.StateCell{Data: ir.NewStateValue(TagAmount, amount), Auth: auth}
}

// MemoData builds an immutable memo cell. Panics if text does not encode.
func MemoData(text string) ir.StateData {
	schema := FungibleSchema()
	d, err := schema.Default.BuildImmutable("memo", ir.IRString(text), nil, schema.Types)
	if err != nil {
		panic(fmt.Sprintf("memo fixture: %v", err))
	}
	return d
}

// Transfer builds a transfer destroying inputs and creating outs.
func Transfer(contractID ir.ContractID, nonce uint64, inputs []ir.CellAddr, outs ...ir.StateCell) ir.Operation {
	op := ir.Operation{
		ContractID:      contractID,
		CallID:          CallTransfer,
		Nonce:           nonce,
		DestructibleOut: outs,
	}
	for _, addr := range inputs {
		op.DestructibleIn = append(op.DestructibleIn, ir.Input{Addr: addr})
	}
	return op
}
