package ir

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// StateValueMax is the number of field elements a StateValue can hold.
const StateValueMax = 4

// StateValue is a short vector of field elements. Element 0 carries the
// state-type tag used by embedded adaptors.
//
// StateValue is comparable, so cells can be compared with ==.
type StateValue struct {
	elems [StateValueMax]uint256.Int
	n     uint8
}

// NewStateValue builds a StateValue from small integers.
// Panics if more than StateValueMax elements are given.
func NewStateValue(elems ...uint64) StateValue {
	if len(elems) > StateValueMax {
		panic(fmt.Sprintf("state value holds at most %d elements, got %d", StateValueMax, len(elems)))
	}
	var v StateValue
	for i, e := range elems {
		v.elems[i].SetUint64(e)
	}
	v.n = uint8(len(elems))
	return v
}

// StateValueOf builds a StateValue from field elements.
// Panics if more than StateValueMax elements are given.
func StateValueOf(elems ...*uint256.Int) StateValue {
	if len(elems) > StateValueMax {
		panic(fmt.Sprintf("state value holds at most %d elements, got %d", StateValueMax, len(elems)))
	}
	var v StateValue
	for i, e := range elems {
		v.elems[i].Set(e)
	}
	v.n = uint8(len(elems))
	return v
}

// Len returns the number of elements.
func (v StateValue) Len() int { return int(v.n) }

// IsEmpty reports whether the value has no elements.
func (v StateValue) IsEmpty() bool { return v.n == 0 }

// Get returns element i.
func (v StateValue) Get(i int) (uint256.Int, bool) {
	if i < 0 || i >= int(v.n) {
		return uint256.Int{}, false
	}
	return v.elems[i], true
}

// Elements returns a copy of the populated elements.
func (v StateValue) Elements() []uint256.Int {
	out := make([]uint256.Int, v.n)
	copy(out, v.elems[:v.n])
	return out
}

// Tag returns element 0 when it fits into 64 bits.
func (v StateValue) Tag() (uint64, bool) {
	if v.n == 0 || !v.elems[0].IsUint64() {
		return 0, false
	}
	return v.elems[0].Uint64(), true
}

// Uint64s returns the elements as uint64s, failing if any element overflows.
func (v StateValue) Uint64s() ([]uint64, error) {
	out := make([]uint64, v.n)
	for i := 0; i < int(v.n); i++ {
		if !v.elems[i].IsUint64() {
			return nil, fmt.Errorf("element %d exceeds 64 bits", i)
		}
		out[i] = v.elems[i].Uint64()
	}
	return out, nil
}

func (v StateValue) String() string {
	parts := make([]string, v.n)
	for i := 0; i < int(v.n); i++ {
		parts[i] = v.elems[i].Dec()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MarshalJSON encodes the elements as decimal strings.
func (v StateValue) MarshalJSON() ([]byte, error) {
	parts := make([]string, v.n)
	for i := 0; i < int(v.n); i++ {
		parts[i] = v.elems[i].Dec()
	}
	return json.Marshal(parts)
}

// UnmarshalJSON decodes decimal string elements.
func (v *StateValue) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("state value: %w", err)
	}
	if len(parts) > StateValueMax {
		return fmt.Errorf("state value: %d elements exceeds maximum of %d", len(parts), StateValueMax)
	}
	var out StateValue
	for i, p := range parts {
		e, err := uint256.FromDecimal(p)
		if err != nil {
			return fmt.Errorf("state value element %d: %w", i, err)
		}
		out.elems[i] = *e
	}
	out.n = uint8(len(parts))
	*v = out
	return nil
}

// canonical renders the value for identity hashing.
func (v StateValue) canonical() IRArray {
	arr := make(IRArray, v.n)
	for i := 0; i < int(v.n); i++ {
		arr[i] = IRString(v.elems[i].Dec())
	}
	return arr
}
