package api

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/roach88/deeds/internal/ir"
)

// AdaptorKind selects how a state type is converted.
type AdaptorKind string

const (
	// AdaptorEmbedded matches element 0 against Tag and decodes the rest
	// with the type system.
	AdaptorEmbedded AdaptorKind = "embedded"

	// AdaptorScripted runs an expr program over the cell. The program sees
	// tag, value (list of elements) and raw (string) and returns nil to
	// decline the cell. An element is an int below 2^63, a uint64 up to
	// 2^64-1 and its 32-byte big-endian string otherwise. Scripted adaptors
	// cannot build cells.
	AdaptorScripted AdaptorKind = "scripted"
)

// Adaptor converts between raw cells and structured values for one state type.
type Adaptor struct {
	Kind   AdaptorKind `json:"kind"`
	Tag    uint64      `json:"tag,omitempty"`
	Type   string      `json:"type,omitempty"`
	Script string      `json:"script,omitempty"`
}

// Embedded creates an embedded adaptor.
func Embedded(tag uint64, typeName string) Adaptor {
	return Adaptor{Kind: AdaptorEmbedded, Tag: tag, Type: typeName}
}

// Scripted creates a scripted adaptor.
func Scripted(script string) Adaptor {
	return Adaptor{Kind: AdaptorScripted, Script: script}
}

// Convert interprets a cell value. ok is false when the adaptor does not
// apply to the value.
func (a Adaptor) Convert(v ir.StateValue, raw []byte, types TypeSystem) (ir.IRValue, bool) {
	switch a.Kind {
	case AdaptorEmbedded:
		tag, ok := v.Tag()
		if !ok || tag != a.Tag {
			return nil, false
		}
		out, err := types.Decode(a.Type, v.Elements()[1:])
		if err != nil {
			return nil, false
		}
		return out, true
	case AdaptorScripted:
		elems := v.Elements()
		value := make([]any, len(elems))
		var tag any
		for i := range elems {
			value[i] = scriptElement(&elems[i])
		}
		if len(value) > 0 {
			tag = value[0]
		}
		out, ok, err := runScript(a.Script, map[string]any{
			"tag":   tag,
			"value": value,
			"raw":   string(raw),
		})
		if err != nil || !ok {
			return nil, false
		}
		return out, true
	default:
		panic(fmt.Sprintf("unknown adaptor kind %q", a.Kind))
	}
}

func scriptElement(e *uint256.Int) any {
	switch {
	case e.IsUint64() && e.Uint64() <= math.MaxInt64:
		return int(e.Uint64())
	case e.IsUint64():
		return e.Uint64()
	default:
		b := e.Bytes32()
		return string(b[:])
	}
}

// Build encodes a structured value into a cell value.
func (a Adaptor) Build(v ir.IRValue, types TypeSystem) (ir.StateValue, error) {
	switch a.Kind {
	case AdaptorEmbedded:
		payload, err := types.Encode(a.Type, v)
		if err != nil {
			return ir.StateValue{}, err
		}
		if len(payload)+1 > ir.StateValueMax {
			return ir.StateValue{}, fmt.Errorf("value needs %d elements", len(payload)+1)
		}
		elems := append([]*uint256.Int{uint256.NewInt(a.Tag)}, payload...)
		return ir.StateValueOf(elems...), nil
	case AdaptorScripted:
		return ir.StateValue{}, fmt.Errorf("scripted adaptors cannot build values")
	default:
		panic(fmt.Sprintf("unknown adaptor kind %q", a.Kind))
	}
}

// Validate checks the adaptor against a type system.
func (a Adaptor) Validate(types TypeSystem) error {
	switch a.Kind {
	case AdaptorEmbedded:
		if _, ok := types[a.Type]; !ok {
			return fmt.Errorf("unknown type %q", a.Type)
		}
		return nil
	case AdaptorScripted:
		return CheckScript(a.Script)
	default:
		return fmt.Errorf("unknown adaptor kind %q", a.Kind)
	}
}
