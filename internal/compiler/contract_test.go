package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/testutil"
)

func TestCompileFileFungible(t *testing.T) {
	c, err := CompileFile("testdata/fungible.cue")
	require.NoError(t, err)

	schema := c.Issuer.Schema
	assert.Equal(t, uint64(1), schema.Version)
	assert.Equal(t, api.TypeSystem{"Amount": api.KindUint, "Name": api.KindString}, schema.Types)
	assert.Equal(t, "fungible", c.Issuer.Codex.Name)
	assert.Equal(t, map[uint16]string{0: "issue", 1: "transfer"}, c.Issuer.Codex.Verifiers)

	assert.Equal(t, api.Embedded(1, "Amount"), schema.Default.Destructible["amount"].Adaptor)
	assert.True(t, schema.Default.Immutable["ticker"].Published)
	assert.False(t, schema.Default.Immutable["memo"].Published)

	// Readers keep declaration order.
	var names []string
	for _, r := range schema.Default.Readers {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"supply", "tickers", "memos", "decimals"}, names)
	assert.JSONEq(t, `0`, string(schema.Default.Readers[3].Value))

	require.Contains(t, schema.Custom, "audit")
	assert.Equal(t, "audit", schema.Custom["audit"].Name)

	assert.Equal(t, "Fungible", c.Params.Name)
	assert.Equal(t, int64(1700000000), c.Params.Timestamp)
	assert.Equal(t, "issue", c.Params.Method)
	require.Len(t, c.Params.Owned, 2)
	assert.Equal(t, ir.IRInt(400), c.Params.Owned[1].Value)
	assert.Equal(t, "size(witness) == 1", c.Params.Owned[1].Lock)
	require.Len(t, c.Params.Global, 2)
	assert.Equal(t, ir.IRInt(1000), c.Params.Global[1].Value)

	assert.Empty(t, Validate(c))
}

func TestContractIssueMatchesHandwrittenFixture(t *testing.T) {
	src := `
		contract: {
			name: "Fungible"
			timestamp: 1700000000
			types: { Amount: "uint", Name: "string" }
			libs: { issue: "true", transfer: "size(inputs) > 0 && in_sum >= out_sum" }
			codex: { name: "fungible", verifiers: { "0": "issue", "1": "transfer" } }
			api: {
				verifiers: { issue: 0, transfer: 1 }
				destructible: amount: { type: "Amount", tag: 1 }
				immutable: {
					ticker: { type: "Name", tag: 2, published: true }
					issued: { type: "Amount", tag: 3 }
					memo: { type: "Name", tag: 4 }
				}
				readers: {
					supply: { kind: "sum", state: "issued" }
					tickers: { kind: "set", state: "ticker" }
					memos: { kind: "list", state: "memo" }
				}
			}
			views: audit: {
				immutable: issued: { type: "Amount", tag: 3 }
				readers: issuances: { kind: "count", state: "issued" }
			}
			genesis: {
				method: "issue"
				owned: [{ state: "amount", value: 10 }, { state: "amount", value: 20 }]
				global: [{ state: "ticker", value: "DEED" }, { state: "issued", value: 30 }]
			}
		}
	`
	c, err := CompileSource("fungible.cue", []byte(src))
	require.NoError(t, err)

	compiledTokens := testutil.NewDeterministicTokens("issue")
	articles, tokens, err := c.Issue(compiledTokens.Next)
	require.NoError(t, err)

	fixtureTokens := testutil.NewDeterministicTokens("issue")
	want, wantTokens := testutil.FungibleArticles(fixtureTokens, 10, 20)

	assert.Equal(t, want.ContractID, articles.ContractID)
	assert.Equal(t, wantTokens, tokens)
}

func TestContractIssueKeepsExplicitAuth(t *testing.T) {
	auth := testutil.NewDeterministicTokens("explicit").Next()
	src := `
		contract: {
			name: "Token"
			types: Amount: "uint"
			libs: issue: "true"
			codex: verifiers: "0": "issue"
			api: {
				verifiers: issue: 0
				destructible: amount: { type: "Amount", tag: 1 }
			}
			genesis: {
				method: "issue"
				owned: [{ state: "amount", value: 5, auth: "` + auth.String() + `" }, { state: "amount", value: 6 }]
			}
		}
	`
	c, err := CompileSource("token.cue", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, "Token", c.Issuer.Codex.Name, "codex name defaults to the contract name")

	calls := 0
	gen := testutil.NewDeterministicTokens("generated")
	_, tokens, err := c.Issue(func() ir.AuthToken {
		calls++
		return gen.Next()
	})
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, auth, tokens[0])
	assert.Equal(t, 1, calls)
	assert.Equal(t, ir.AuthToken{}, c.Params.Owned[1].Auth, "Issue must not mutate the contract")
}

func TestContractIssueRejectsInvalid(t *testing.T) {
	src := `
		contract: {
			name: "Broken"
			libs: issue: "true"
			codex: verifiers: "0": "issue"
			api: verifiers: issue: 0
			genesis: method: "mint"
		}
	`
	c, err := CompileSource("broken.cue", []byte(src))
	require.NoError(t, err)

	_, _, err = c.Issue(testutil.NewDeterministicTokens("x").Next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrUnknownMethod)
}

func TestCompileContractMissingName(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		contract: {
			api: {}
			genesis: method: "issue"
		}
	`)
	require.NoError(t, v.Err())

	_, err := CompileContract(v.LookupPath(cue.ParsePath("contract")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "required")
}

func TestCompileSourceMissingContract(t *testing.T) {
	_, err := CompileSource("empty.cue", []byte(`other: 1`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract is required")
}

func TestCompileSourceSyntaxError(t *testing.T) {
	_, err := CompileSource("bad.cue", []byte(`contract: {`))
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, err.Error(), "bad.cue")
}

func TestCompileContractForbidsFloats(t *testing.T) {
	src := `
		contract: {
			name: "Floaty"
			api: destructible: amount: { type: "Amount", tag: 1 }
			genesis: {
				method: "issue"
				owned: [{ state: "amount", value: 1.5 }]
			}
		}
	`
	_, err := CompileSource("floaty.cue", []byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")
}

func TestCompileContractBadCallID(t *testing.T) {
	src := `
		contract: {
			name: "Ids"
			codex: verifiers: "seven": "issue"
			api: {}
			genesis: method: "issue"
		}
	`
	_, err := CompileSource("ids.cue", []byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codex.verifiers.seven")
}

func TestParseAdaptorScripted(t *testing.T) {
	src := `
		contract: {
			name: "Scripted"
			api: immutable: note: { script: "tag == 9 ? raw : nil" }
			genesis: method: "issue"
		}
	`
	c, err := CompileSource("scripted.cue", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, api.Scripted("tag == 9 ? raw : nil"), c.Issuer.Schema.Default.Immutable["note"].Adaptor)
}

func TestParseAdaptorRequiresTypeOrScript(t *testing.T) {
	src := `
		contract: {
			name: "Bare"
			api: immutable: note: { tag: 1 }
			genesis: method: "issue"
		}
	`
	_, err := CompileSource("bare.cue", []byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.immutable.note")
}
