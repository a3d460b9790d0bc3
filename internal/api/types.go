package api

import (
	"bytes"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/holiman/uint256"

	"github.com/roach88/deeds/internal/ir"
)

// Kind is the structured kind a semantic type decodes to.
type Kind string

const (
	// KindUint is a non-negative integer in one element (at most int64 max).
	KindUint Kind = "uint"

	// KindBool is 0 or 1 in one element.
	KindBool Kind = "bool"

	// KindString is UTF-8 text packed big-endian into up to three elements.
	KindString Kind = "string"
)

// maxStringBytes is the capacity of the three payload elements.
const maxStringBytes = 3 * 32

// TypeSystem maps semantic type names to kinds.
type TypeSystem map[string]Kind

// Decode interprets the payload elements (everything after the tag).
func (ts TypeSystem) Decode(typeName string, payload []uint256.Int) (ir.IRValue, error) {
	kind, ok := ts[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", typeName)
	}
	switch kind {
	case KindUint:
		if len(payload) != 1 {
			return nil, fmt.Errorf("type %q: expected 1 element, got %d", typeName, len(payload))
		}
		if !payload[0].IsUint64() || payload[0].Uint64() > math.MaxInt64 {
			return nil, fmt.Errorf("type %q: value out of range", typeName)
		}
		return ir.IRInt(payload[0].Uint64()), nil
	case KindBool:
		if len(payload) != 1 || !payload[0].IsUint64() || payload[0].Uint64() > 1 {
			return nil, fmt.Errorf("type %q: expected a single 0 or 1", typeName)
		}
		return ir.IRBool(payload[0].Uint64() == 1), nil
	case KindString:
		var buf bytes.Buffer
		for i := range payload {
			b := payload[i].Bytes32()
			buf.Write(b[:])
		}
		text := bytes.TrimRight(buf.Bytes(), "\x00")
		if !utf8.Valid(text) {
			return nil, fmt.Errorf("type %q: invalid UTF-8", typeName)
		}
		return ir.IRString(text), nil
	default:
		return nil, fmt.Errorf("type %q: unsupported kind %q", typeName, kind)
	}
}

// Encode packs a structured value into payload elements.
func (ts TypeSystem) Encode(typeName string, v ir.IRValue) ([]*uint256.Int, error) {
	kind, ok := ts[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", typeName)
	}
	switch kind {
	case KindUint:
		n, ok := v.(ir.IRInt)
		if !ok || n < 0 {
			return nil, fmt.Errorf("type %q: expected non-negative integer, got %v", typeName, v)
		}
		return []*uint256.Int{uint256.NewInt(uint64(n))}, nil
	case KindBool:
		b, ok := v.(ir.IRBool)
		if !ok {
			return nil, fmt.Errorf("type %q: expected bool, got %T", typeName, v)
		}
		if b {
			return []*uint256.Int{uint256.NewInt(1)}, nil
		}
		return []*uint256.Int{uint256.NewInt(0)}, nil
	case KindString:
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("type %q: expected string, got %T", typeName, v)
		}
		text := []byte(s)
		if len(text) > maxStringBytes {
			return nil, fmt.Errorf("type %q: string longer than %d bytes", typeName, maxStringBytes)
		}
		if bytes.IndexByte(text, 0) >= 0 {
			return nil, fmt.Errorf("type %q: string contains NUL", typeName)
		}
		var out []*uint256.Int
		for len(text) > 0 {
			var chunk [32]byte
			n := copy(chunk[:], text)
			text = text[n:]
			out = append(out, new(uint256.Int).SetBytes32(chunk[:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("type %q: unsupported kind %q", typeName, kind)
	}
}
