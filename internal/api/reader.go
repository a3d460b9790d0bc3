package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/deeds/internal/ir"
)

// ReaderKind selects how a reader aggregates state.
type ReaderKind string

const (
	ReaderConst         ReaderKind = "const"
	ReaderCount         ReaderKind = "count"
	ReaderSum           ReaderKind = "sum"
	ReaderCountPrefixed ReaderKind = "count_prefixed"
	ReaderList          ReaderKind = "list"
	ReaderSet           ReaderKind = "set"
	ReaderMap           ReaderKind = "map"
	ReaderScripted      ReaderKind = "scripted"
)

// Reader is a named aggregation over one immutable state type.
//
// Map readers key each cell's verified value, by its string form, to the
// cell's unverified payload. Cells without a payload are skipped and the
// first cell wins a key. Scripted readers see state (the verified values of
// every immutable bucket by name) and readers (results computed before them).
type Reader struct {
	Name   string          `json:"name"`
	Kind   ReaderKind      `json:"kind"`
	State  string          `json:"state,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Prefix string          `json:"prefix,omitempty"`
	Script string          `json:"script,omitempty"`
}

// Validate checks the reader definition.
func (r Reader) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("reader name is required")
	}
	switch r.Kind {
	case ReaderConst:
		if len(r.Value) == 0 {
			return nil
		}
		_, err := ir.UnmarshalIRValue(r.Value)
		return err
	case ReaderCount, ReaderSum, ReaderCountPrefixed, ReaderList, ReaderSet, ReaderMap:
		if r.State == "" {
			return fmt.Errorf("reader %q: state is required", r.Name)
		}
		return nil
	case ReaderScripted:
		return CheckScript(r.Script)
	default:
		return fmt.Errorf("reader %q: unknown kind %q", r.Name, r.Kind)
	}
}

// compute evaluates the reader. state holds the atoms of each immutable
// bucket in address order; done holds earlier reader results.
func (r Reader) compute(state map[string][]StateAtom, done map[string]ir.IRValue) (ir.IRValue, error) {
	bucket := verifiedValues(state[r.State])
	switch r.Kind {
	case ReaderConst:
		if len(r.Value) == 0 {
			return ir.IRNull{}, nil
		}
		return ir.UnmarshalIRValue(r.Value)
	case ReaderCount:
		return ir.IRInt(len(bucket)), nil
	case ReaderSum:
		var sum ir.IRInt
		for _, v := range bucket {
			if n, ok := v.(ir.IRInt); ok {
				sum += n
			}
		}
		return sum, nil
	case ReaderCountPrefixed:
		var n ir.IRInt
		for _, v := range bucket {
			if s, ok := v.(ir.IRString); ok && strings.HasPrefix(string(s), r.Prefix) {
				n++
			}
		}
		return n, nil
	case ReaderList:
		return append(ir.IRArray{}, bucket...), nil
	case ReaderSet:
		return uniqueValues(bucket)
	case ReaderMap:
		out := ir.IRObject{}
		for _, atom := range state[r.State] {
			if atom.Unverified == nil {
				continue
			}
			key, err := keyString(atom.Verified)
			if err != nil {
				return nil, err
			}
			if _, ok := out[key]; ok {
				continue
			}
			out[key] = atom.Unverified
		}
		return out, nil
	case ReaderScripted:
		env := map[string]any{}
		nativeState := make(map[string]any, len(state))
		for name, atoms := range state {
			list := make([]any, len(atoms))
			for i, atom := range atoms {
				list[i] = ir.ToNative(atom.Verified)
			}
			nativeState[name] = list
		}
		nativeReaders := make(map[string]any, len(done))
		for name, v := range done {
			nativeReaders[name] = ir.ToNative(v)
		}
		env["state"] = nativeState
		env["readers"] = nativeReaders
		out, ok, err := runScript(r.Script, env)
		if err != nil {
			return nil, err
		}
		if !ok {
			return ir.IRNull{}, nil
		}
		return out, nil
	default:
		panic(fmt.Sprintf("unknown reader kind %q", r.Kind))
	}
}

func verifiedValues(atoms []StateAtom) []ir.IRValue {
	out := make([]ir.IRValue, len(atoms))
	for i, atom := range atoms {
		out[i] = atom.Verified
	}
	return out
}

func keyString(v ir.IRValue) (string, error) {
	if s, ok := v.(ir.IRString); ok {
		return string(s), nil
	}
	b, err := ir.MarshalIRValue(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// uniqueValues deduplicates by JSON encoding and orders by it.
func uniqueValues(values []ir.IRValue) (ir.IRArray, error) {
	type entry struct {
		key []byte
		v   ir.IRValue
	}
	seen := map[string]struct{}{}
	var entries []entry
	for _, v := range values {
		b, err := ir.MarshalIRValue(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[string(b)]; ok {
			continue
		}
		seen[string(b)] = struct{}{}
		entries = append(entries, entry{key: b, v: v})
	}
	slices.SortFunc(entries, func(a, b entry) int { return bytes.Compare(a.key, b.key) })
	out := make(ir.IRArray, len(entries))
	for i, e := range entries {
		out[i] = e.v
	}
	return out, nil
}
