package api

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deeds/internal/codex"
	"github.com/roach88/deeds/internal/ir"
)

var testTypes = TypeSystem{
	"Amount": KindUint,
	"Flag":   KindBool,
	"Name":   KindString,
}

func testApi() Api {
	return Api{
		Immutable: map[string]ImmutableDef{
			"ticker": {Adaptor: Embedded(2, "Name"), Published: true},
			"issued": {Adaptor: Embedded(3, "Amount")},
			"label":  {Adaptor: Scripted(`tag == 9 ? "label-" + string(value[1]) : nil`)},
		},
		Destructible: map[string]DestructibleDef{
			"amount": {Adaptor: Embedded(1, "Amount")},
			"frozen": {Adaptor: Embedded(4, "Flag")},
		},
		Readers: []Reader{
			{Name: "supply", Kind: ReaderSum, State: "issued"},
			{Name: "issues", Kind: ReaderCount, State: "issued"},
			{Name: "tickers", Kind: ReaderSet, State: "ticker"},
			{Name: "labels", Kind: ReaderCountPrefixed, State: "label", Prefix: "label-"},
			{Name: "version", Kind: ReaderConst, Value: json.RawMessage(`"v1"`)},
			{Name: "double", Kind: ReaderScripted, Script: `readers.supply * 2`},
		},
		Verifiers: map[string]uint16{"issue": 0, "transfer": 1},
	}
}

func TestTypeSystemRoundTrip(t *testing.T) {
	tests := []struct {
		typeName string
		value    ir.IRValue
	}{
		{"Amount", ir.IRInt(0)},
		{"Amount", ir.IRInt(1 << 40)},
		{"Flag", ir.IRBool(true)},
		{"Flag", ir.IRBool(false)},
		{"Name", ir.IRString("")},
		{"Name", ir.IRString("DEED")},
		{"Name", ir.IRString("a string that spans more than thirty-two bytes of payload")},
	}
	for _, tt := range tests {
		payload, err := testTypes.Encode(tt.typeName, tt.value)
		require.NoError(t, err)

		elems := make([]uint256.Int, len(payload))
		for i, p := range payload {
			elems[i] = *p
		}
		decoded, err := testTypes.Decode(tt.typeName, elems)
		require.NoError(t, err)
		assert.Equal(t, tt.value, decoded)
	}
}

func TestTypeSystemRejects(t *testing.T) {
	_, err := testTypes.Encode("Amount", ir.IRInt(-1))
	assert.Error(t, err)
	_, err = testTypes.Encode("Amount", ir.IRString("1"))
	assert.Error(t, err)
	_, err = testTypes.Encode("Name", ir.IRString(string(make([]byte, 97))))
	assert.Error(t, err)
	_, err = testTypes.Encode("Missing", ir.IRInt(1))
	assert.Error(t, err)
	_, err = testTypes.Decode("Flag", []uint256.Int{*uint256.NewInt(2)})
	assert.Error(t, err)
}

func TestConvertDispatch(t *testing.T) {
	a := testApi()

	name, v, ok := a.ConvertDestructible(ir.NewStateValue(1, 50), testTypes)
	require.True(t, ok)
	assert.Equal(t, "amount", name)
	assert.Equal(t, ir.IRInt(50), v)

	name, v, ok = a.ConvertDestructible(ir.NewStateValue(4, 1), testTypes)
	require.True(t, ok)
	assert.Equal(t, "frozen", name)
	assert.Equal(t, ir.IRBool(true), v)

	_, _, ok = a.ConvertDestructible(ir.NewStateValue(7, 1), testTypes)
	assert.False(t, ok, "unknown tag is not converted")

	name, atom, ok := a.ConvertImmutable(ir.StateData{Value: ir.NewStateValue(9, 3)}, testTypes)
	require.True(t, ok)
	assert.Equal(t, "label", name)
	assert.Equal(t, ir.IRString("label-3"), atom.Verified)
}

func TestBuildImmutableWithRaw(t *testing.T) {
	a := testApi()
	d, err := a.BuildImmutable("issued", ir.IRInt(10), ir.IRObject{"memo": ir.IRString("hi")}, testTypes)
	require.NoError(t, err)
	assert.Equal(t, ir.NewStateValue(3, 10), d.Value)

	name, atom, ok := a.ConvertImmutable(d, testTypes)
	require.True(t, ok)
	assert.Equal(t, "issued", name)
	assert.Equal(t, ir.IRInt(10), atom.Verified)
	assert.Equal(t, ir.IRObject{"memo": ir.IRString("hi")}, atom.Unverified)

	_, err = a.BuildImmutable("label", ir.IRString("x"), nil, testTypes)
	assert.Error(t, err, "scripted adaptors cannot build")
	_, err = a.BuildImmutable("nope", ir.IRInt(1), nil, testTypes)
	assert.Error(t, err)
}

func TestComputeReaders(t *testing.T) {
	a := testApi()
	out := a.ComputeReaders(map[string][]StateAtom{
		"issued": atoms(ir.IRInt(100), ir.IRInt(20)),
		"ticker": atoms(ir.IRString("DEED"), ir.IRString("ABC"), ir.IRString("DEED")),
		"label":  atoms(ir.IRString("label-1"), ir.IRString("other")),
	})

	assert.Equal(t, ir.IRInt(120), out["supply"])
	assert.Equal(t, ir.IRInt(2), out["issues"])
	assert.Equal(t, ir.IRArray{ir.IRString("ABC"), ir.IRString("DEED")}, out["tickers"])
	assert.Equal(t, ir.IRInt(1), out["labels"])
	assert.Equal(t, ir.IRString("v1"), out["version"])
	assert.Equal(t, ir.IRInt(240), out["double"])
}

func atoms(values ...ir.IRValue) []StateAtom {
	out := make([]StateAtom, len(values))
	for i, v := range values {
		out[i] = StateAtom{Verified: v}
	}
	return out
}

func TestMapAndListReaders(t *testing.T) {
	a := Api{Readers: []Reader{
		{Name: "m", Kind: ReaderMap, State: "rates"},
		{Name: "l", Kind: ReaderList, State: "rates"},
		{Name: "bad", Kind: ReaderScripted, Script: `1 / nothing.field`},
	}}
	rates := []StateAtom{
		{Verified: ir.IRString("a"), Unverified: ir.IRInt(1)},
		{Verified: ir.IRInt(2), Unverified: ir.IRObject{"note": ir.IRString("two")}},
		{Verified: ir.IRString("a"), Unverified: ir.IRInt(3)},
		{Verified: ir.IRString("bare")},
	}
	out := a.ComputeReaders(map[string][]StateAtom{"rates": rates})

	assert.Equal(t, ir.IRObject{
		"a": ir.IRInt(1),
		"2": ir.IRObject{"note": ir.IRString("two")},
	}, out["m"], "first cell wins and cells without a payload are skipped")
	assert.Equal(t, ir.IRArray{ir.IRString("a"), ir.IRInt(2), ir.IRString("a"), ir.IRString("bare")}, out["l"])
	assert.Equal(t, ir.IRNull{}, out["bad"])
}

func TestScriptedAdaptorElements(t *testing.T) {
	a := Scripted(`tag == 9 ? (type(value[1]) == "string" ? value[1] : string(value[1])) : nil`)

	v, ok := a.Convert(ir.NewStateValue(9, math.MaxUint64), nil, testTypes)
	require.True(t, ok)
	assert.Equal(t, ir.IRString("18446744073709551615"), v, "values past int64 are carried as uint64")

	name, err := testTypes.Encode("Name", ir.IRString("a name that needs more than thirty-two bytes"))
	require.NoError(t, err)
	wide := ir.StateValueOf(append([]*uint256.Int{uint256.NewInt(9)}, name...)...)
	v, ok = a.Convert(wide, nil, testTypes)
	require.True(t, ok)
	s, isString := v.(ir.IRString)
	require.True(t, isString, "wide elements are passed as 32-byte strings")
	assert.Len(t, string(s), 32)

	_, ok = Scripted(`value[1] + 1`).Convert(wide, nil, testTypes)
	assert.False(t, ok, "arithmetic on a wide element declines the cell")
}

func TestCompileScriptCaches(t *testing.T) {
	source := `tag == 11 ? "cached" : nil`
	first, err := compileScript(source)
	require.NoError(t, err)
	second, err := compileScript(source)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = compileScript(`tag ==`)
	assert.Error(t, err)
	_, ok := programs.Load(`tag ==`)
	assert.False(t, ok, "failed compilations are not cached")
}

func TestApiValidate(t *testing.T) {
	require.NoError(t, testApi().Validate(testTypes))

	bad := testApi()
	bad.Destructible["broken"] = DestructibleDef{Adaptor: Embedded(5, "Unknown")}
	assert.Error(t, bad.Validate(testTypes))

	dup := testApi()
	dup.Readers = append(dup.Readers, Reader{Name: "supply", Kind: ReaderCount, State: "issued"})
	assert.Error(t, dup.Validate(testTypes))
}

func testIssuer() Issuer {
	return Issuer{
		Codex: codex.Codex{Name: "fungible", Verifiers: map[uint16]string{0: "issue", 1: "transfer"}},
		Schema: Schema{
			Version: 1,
			Default: testApi(),
			Types:   testTypes,
			Libs:    codex.Libs{"issue": "true", "transfer": "in_sum == out_sum"},
		},
	}
}

func TestIssue(t *testing.T) {
	articles, err := testIssuer().Issue(IssueParams{
		Name:   "Deed",
		Method: "issue",
		Owned:  []OwnedParam{{State: "amount", Value: ir.IRInt(100), Auth: ir.AuthToken{1}}},
		Global: []GlobalParam{{State: "ticker", Value: ir.IRString("DEED")}},
	})
	require.NoError(t, err)
	require.NoError(t, articles.Validate())

	genesis := articles.GenesisOperation()
	assert.Equal(t, articles.ContractID, genesis.ContractID)
	assert.Equal(t, uint16(0), genesis.CallID)
	require.Len(t, genesis.DestructibleOut, 1)
	assert.Equal(t, ir.NewStateValue(1, 100), genesis.DestructibleOut[0].Data)

	_, err = testIssuer().Issue(IssueParams{Name: "Deed", Method: "mint"})
	assert.Error(t, err)
}

func TestArticlesJSONRoundTrip(t *testing.T) {
	articles, err := testIssuer().Issue(IssueParams{Name: "Deed", Method: "issue"})
	require.NoError(t, err)

	data, err := json.Marshal(articles)
	require.NoError(t, err)
	var decoded Articles
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NoError(t, decoded.Validate())
	assert.Equal(t, articles.ContractID, decoded.ContractID)
	assert.Equal(t, articles.Schema.Default.Verifiers, decoded.Schema.Default.Verifiers)
}

func TestMerge(t *testing.T) {
	base, err := testIssuer().Issue(IssueParams{Name: "Deed", Method: "issue"})
	require.NoError(t, err)

	newer := base
	newer.Schema.Version = 2

	signed := base
	signed.Signature = []byte("sig")

	t.Run("newer version replaces", func(t *testing.T) {
		a := base
		changed, err := a.Merge(newer)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, uint64(2), a.Schema.Version)
	})

	t.Run("older version ignored", func(t *testing.T) {
		a := newer
		changed, err := a.Merge(base)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, uint64(2), a.Schema.Version)
	})

	t.Run("signed replaces unsigned", func(t *testing.T) {
		a := newer
		changed, err := a.Merge(signed)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, a.IsSigned())
	})

	t.Run("unsigned never replaces signed", func(t *testing.T) {
		a := signed
		changed, err := a.Merge(newer)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("other contract rejected", func(t *testing.T) {
		other, err := testIssuer().Issue(IssueParams{Name: "Other", Method: "issue"})
		require.NoError(t, err)
		a := base
		_, err = a.Merge(other)
		require.Error(t, err)
		assert.True(t, IsMergeError(err))
	})

	t.Run("tampered articles rejected", func(t *testing.T) {
		tampered := newer
		tampered.Issue.Meta.Name = "Forged"
		a := base
		_, err := a.Merge(tampered)
		require.Error(t, err)
		assert.True(t, IsMergeError(err))
	})
}

func TestNewAuthTokenIsRandom(t *testing.T) {
	assert.NotEqual(t, NewAuthToken(), NewAuthToken())
}
