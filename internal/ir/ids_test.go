package ir

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonMarshal(v any) ([]byte, error)      { return json.Marshal(v) }
func jsonUnmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func TestCellAddrTextRoundTrip(t *testing.T) {
	addr := NewCellAddr(Opid{0xde, 0xad}, 513)

	text, err := addr.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, addr.Opid.String()+":513", string(text))

	parsed, err := ParseCellAddr(string(text))
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)
}

func TestParseCellAddrErrors(t *testing.T) {
	tests := []string{
		"",
		"nocolon",
		"zz:1",
		Opid{}.String() + ":70000",
		Opid{}.String() + ":-1",
	}
	for _, input := range tests {
		_, err := ParseCellAddr(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestCellAddrAsJSONMapKey(t *testing.T) {
	m := map[CellAddr]int{
		NewCellAddr(Opid{1}, 0): 1,
		NewCellAddr(Opid{1}, 1): 2,
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[CellAddr]int
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
}

func TestCellAddrCompare(t *testing.T) {
	addrs := []CellAddr{
		NewCellAddr(Opid{2}, 0),
		NewCellAddr(Opid{1}, 5),
		NewCellAddr(Opid{1}, 1),
	}
	slices.SortFunc(addrs, CellAddr.Compare)
	assert.Equal(t, []CellAddr{
		NewCellAddr(Opid{1}, 1),
		NewCellAddr(Opid{1}, 5),
		NewCellAddr(Opid{2}, 0),
	}, addrs)
}

func TestAuthTokenText(t *testing.T) {
	var tok AuthToken
	tok[29] = 0xff
	parsed, err := ParseAuthToken(tok.String())
	require.NoError(t, err)
	assert.Equal(t, tok, parsed)

	_, err = ParseAuthToken("abcd")
	assert.Error(t, err)

	_, err = AuthTokenFromBytes(make([]byte, 10))
	assert.Error(t, err)
}

func TestStateValueJSON(t *testing.T) {
	big := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	v := StateValueOf(uint256.NewInt(1), big)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `["1","`+big.Dec()+`"]`, string(data))

	var decoded StateValue
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, v, decoded)
	assert.True(t, v == decoded, "state values are comparable")
}

func TestStateValueAccessors(t *testing.T) {
	v := NewStateValue(3, 10, 20)
	assert.Equal(t, 3, v.Len())

	tag, ok := v.Tag()
	require.True(t, ok)
	assert.Equal(t, uint64(3), tag)

	e, ok := v.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint64(20), e.Uint64())

	_, ok = v.Get(3)
	assert.False(t, ok)

	vals, err := v.Uint64s()
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 10, 20}, vals)
	assert.Equal(t, "[3, 10, 20]", v.String())

	assert.True(t, NewStateValue().IsEmpty())
}

func TestStateValueRejectsOversize(t *testing.T) {
	assert.Panics(t, func() { NewStateValue(1, 2, 3, 4, 5) })

	var v StateValue
	err := json.Unmarshal([]byte(`["1","2","3","4","5"]`), &v)
	assert.Error(t, err)
}
