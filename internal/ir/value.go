package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"unicode/utf16"
)

// IRValue is the structured form of a cell, as produced by adaptors and
// readers. The set of implementations is closed:
//
//	IRNull, IRString, IRInt, IRBool, IRArray, IRObject
//
// There is no float variant, so every value has one canonical encoding.
type IRValue interface {
	irValue()
}

// IRNull is "no value". Readers return it when they cannot evaluate; it is
// never hashed.
type IRNull struct{}

// IRString is a string value.
type IRString string

// IRInt is an integer value.
type IRInt int64

// IRBool is a boolean value.
type IRBool bool

// IRArray is an ordered list of values.
type IRArray []IRValue

// IRObject maps string keys to values. Iterate with SortedKeys.
type IRObject map[string]IRValue

func (IRNull) irValue()   {}
func (IRString) irValue() {}
func (IRInt) irValue()    {}
func (IRBool) irValue()   {}
func (IRArray) irValue()  {}
func (IRObject) irValue() {}

// SortedKeys returns the keys of obj ordered by UTF-16 code units.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 orders strings by UTF-16 code units. This differs from Go's
// byte order for code points above U+FFFF.
func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// MarshalIRValue encodes v as compact JSON with object keys sorted. The
// result is stable but not canonical; hash with MarshalCanonical.
func MarshalIRValue(v IRValue) ([]byte, error) {
	var buf bytes.Buffer
	if err := appendIRValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendIRValue(buf *bytes.Buffer, v IRValue) error {
	switch val := v.(type) {
	case IRNull:
		buf.WriteString("null")
	case IRString:
		b, err := json.Marshal(string(val))
		if err != nil {
			return err
		}
		buf.Write(b)
	case IRInt:
		fmt.Fprintf(buf, "%d", int64(val))
	case IRBool:
		fmt.Fprintf(buf, "%t", bool(val))
	case IRArray:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendIRValue(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case IRObject:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := appendIRValue(buf, val[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown IRValue type: %T", v)
	}
	return nil
}

func (IRNull) MarshalJSON() ([]byte, error)       { return []byte("null"), nil }
func (arr IRArray) MarshalJSON() ([]byte, error)  { return MarshalIRValue(arr) }
func (obj IRObject) MarshalJSON() ([]byte, error) { return MarshalIRValue(obj) }

func (arr *IRArray) UnmarshalJSON(data []byte) error {
	return unmarshalInto(data, arr)
}

func (obj *IRObject) UnmarshalJSON(data []byte) error {
	return unmarshalInto(data, obj)
}

func unmarshalInto[T IRValue](data []byte, dst *T) error {
	v, err := UnmarshalIRValue(data)
	if err != nil {
		return err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return fmt.Errorf("expected %T, got %T", zero, v)
	}
	*dst = typed
	return nil
}

// UnmarshalIRValue decodes exactly one JSON value. null decodes to IRNull;
// numbers must be integers.
func UnmarshalIRValue(data []byte) (IRValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return FromNative(raw)
}

// FromNative converts a plain Go value, as produced by json decoding or a
// script VM, into an IRValue. Floats are accepted only when integral.
func FromNative(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case IRValue:
		return val, nil
	case bool:
		return IRBool(val), nil
	case string:
		return IRString(val), nil
	case int:
		return IRInt(val), nil
	case int32:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case uint16:
		return IRInt(val), nil
	case uint32:
		return IRInt(val), nil
	case uint:
		return fromUnsigned(uint64(val))
	case uint64:
		return fromUnsigned(val)
	case float64:
		if val != math.Trunc(val) || math.Abs(val) > math.MaxInt64 {
			return nil, fmt.Errorf("floats are forbidden in IR: %v", val)
		}
		return IRInt(int64(val)), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are forbidden in IR: %s", val)
		}
		return IRInt(n), nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			x, err := FromNative(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = x
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			x, err := FromNative(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = x
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromUnsigned(n uint64) (IRValue, error) {
	if n > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d out of int64 range", n)
	}
	return IRInt(n), nil
}

// ToNative converts an IRValue into plain Go values for script
// environments. IRNull becomes nil.
func ToNative(v IRValue) any {
	switch val := v.(type) {
	case IRString:
		return string(val)
	case IRInt:
		return int64(val)
	case IRBool:
		return bool(val)
	case IRArray:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToNative(elem)
		}
		return out
	case IRObject:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToNative(elem)
		}
		return out
	default:
		return nil
	}
}
