package api

import (
	"fmt"
	"slices"

	"github.com/roach88/deeds/internal/ir"
)

// StateAtom is a converted immutable cell. Unverified holds the structured
// raw payload when the cell carried one; it is only committed to, not checked.
type StateAtom struct {
	Verified   ir.IRValue
	Unverified ir.IRValue
}

// ImmutableDef declares an append-only state type.
// Published state is exported together with any history.
type ImmutableDef struct {
	Adaptor   Adaptor `json:"adaptor"`
	Published bool    `json:"published,omitempty"`
}

// DestructibleDef declares an owned state type.
type DestructibleDef struct {
	Adaptor Adaptor `json:"adaptor"`
}

// Api is one interpretation of a contract's raw state.
type Api struct {
	Name         string                     `json:"name,omitempty"`
	Immutable    map[string]ImmutableDef    `json:"immutable,omitempty"`
	Destructible map[string]DestructibleDef `json:"destructible,omitempty"`
	Readers      []Reader                   `json:"readers,omitempty"`
	Verifiers    map[string]uint16          `json:"verifiers,omitempty"`
}

// ImmutableNames returns the immutable state names in adaptor dispatch order.
func (a Api) ImmutableNames() []string { return sortedKeys(a.Immutable) }

// DestructibleNames returns the destructible state names in adaptor dispatch order.
func (a Api) DestructibleNames() []string { return sortedKeys(a.Destructible) }

// ConvertImmutable finds the first state type whose adaptor accepts d.
func (a Api) ConvertImmutable(d ir.StateData, types TypeSystem) (string, StateAtom, bool) {
	for _, name := range a.ImmutableNames() {
		v, ok := a.Immutable[name].Adaptor.Convert(d.Value, d.Raw, types)
		if !ok {
			continue
		}
		atom := StateAtom{Verified: v}
		if len(d.Raw) > 0 {
			if raw, err := ir.UnmarshalIRValue(d.Raw); err == nil {
				atom.Unverified = raw
			}
		}
		return name, atom, true
	}
	return "", StateAtom{}, false
}

// ConvertDestructible finds the first state type whose adaptor accepts v.
func (a Api) ConvertDestructible(v ir.StateValue, types TypeSystem) (string, ir.IRValue, bool) {
	for _, name := range a.DestructibleNames() {
		out, ok := a.Destructible[name].Adaptor.Convert(v, nil, types)
		if ok {
			return name, out, true
		}
	}
	return "", nil, false
}

// BuildImmutable encodes value as an immutable cell of state name.
// raw, when non-nil, is attached as the cell's structured payload.
func (a Api) BuildImmutable(name string, value, raw ir.IRValue, types TypeSystem) (ir.StateData, error) {
	def, ok := a.Immutable[name]
	if !ok {
		return ir.StateData{}, fmt.Errorf("unknown immutable state %q", name)
	}
	v, err := def.Adaptor.Build(value, types)
	if err != nil {
		return ir.StateData{}, fmt.Errorf("build %q: %w", name, err)
	}
	d := ir.StateData{Value: v}
	if raw != nil {
		b, err := ir.MarshalCanonical(raw)
		if err != nil {
			return ir.StateData{}, fmt.Errorf("build %q raw: %w", name, err)
		}
		d.Raw = b
	}
	return d, nil
}

// BuildDestructible encodes value as an owned cell of state name.
func (a Api) BuildDestructible(name string, value ir.IRValue, auth ir.AuthToken, lock string, types TypeSystem) (ir.StateCell, error) {
	def, ok := a.Destructible[name]
	if !ok {
		return ir.StateCell{}, fmt.Errorf("unknown destructible state %q", name)
	}
	v, err := def.Adaptor.Build(value, types)
	if err != nil {
		return ir.StateCell{}, fmt.Errorf("build %q: %w", name, err)
	}
	return ir.StateCell{Data: v, Auth: auth, Lock: lock}, nil
}

// IsPublished reports whether the immutable state name is published.
func (a Api) IsPublished(name string) bool {
	return a.Immutable[name].Published
}

// CallID resolves a method name to its call id.
func (a Api) CallID(method string) (uint16, bool) {
	id, ok := a.Verifiers[method]
	return id, ok
}

// Reader returns the reader definition of the given name.
func (a Api) Reader(name string) (Reader, bool) {
	for _, r := range a.Readers {
		if r.Name == name {
			return r, true
		}
	}
	return Reader{}, false
}

// ComputeReaders evaluates every reader in declaration order.
// state holds the verified immutable values per state name in address order.
// A reader that fails to evaluate yields IRNull.
func (a Api) ComputeReaders(state map[string][]StateAtom) map[string]ir.IRValue {
	out := make(map[string]ir.IRValue, len(a.Readers))
	for _, r := range a.Readers {
		v, err := r.compute(state, out)
		if err != nil {
			v = ir.IRNull{}
		}
		out[r.Name] = v
	}
	return out
}

// Validate checks that every adaptor and reader is well formed.
func (a Api) Validate(types TypeSystem) error {
	for _, name := range a.ImmutableNames() {
		if err := a.Immutable[name].Adaptor.Validate(types); err != nil {
			return fmt.Errorf("immutable %q: %w", name, err)
		}
	}
	for _, name := range a.DestructibleNames() {
		if err := a.Destructible[name].Adaptor.Validate(types); err != nil {
			return fmt.Errorf("destructible %q: %w", name, err)
		}
	}
	seen := map[string]bool{}
	for _, r := range a.Readers {
		if seen[r.Name] {
			return fmt.Errorf("duplicate reader %q", r.Name)
		}
		seen[r.Name] = true
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
