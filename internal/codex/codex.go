package codex

import (
	"slices"
	"strconv"

	"github.com/roach88/deeds/internal/ir"
)

// Memory is the view of live cells an operation is verified against.
type Memory interface {
	Destructible(addr ir.CellAddr) (ir.StateCell, bool)
	Immutable(addr ir.CellAddr) (ir.StateData, bool)
}

// Libs maps library names to CEL verifier sources.
type Libs map[string]string

// Codex names the verifier library used for each call id.
type Codex struct {
	Name      string            `json:"name"`
	Verifiers map[uint16]string `json:"verifiers"`
}

// Canonical renders the codex for contract id hashing.
func (c Codex) Canonical() ir.IRObject {
	verifiers := make(ir.IRObject, len(c.Verifiers))
	for id, lib := range c.Verifiers {
		verifiers[strconv.Itoa(int(id))] = ir.IRString(lib)
	}
	return ir.IRObject{
		"name":      ir.IRString(c.Name),
		"verifiers": verifiers,
	}
}

// CallIDs returns the known call ids in ascending order.
func (c Codex) CallIDs() []uint16 {
	ids := make([]uint16, 0, len(c.Verifiers))
	for id := range c.Verifiers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
