package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/deeds/internal/ir"
)

// irValue converts a concrete CUE value to an IR value.
// Floats are forbidden: state values are integers.
func irValue(v cue.Value, field string) (ir.IRValue, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for i := 0; iter.Next(); i++ {
			elem, err := irValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			label := iter.Selector().Unquoted()
			elem, err := irValue(iter.Value(), field+"."+label)
			if err != nil {
				return nil, err
			}
			obj[label] = elem
		}
		return obj, nil
	case cue.FloatKind:
		return nil, &CompileError{
			Field:   field,
			Message: "float values are forbidden, use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// lookupString returns the string at path, or def when the field is absent.
func lookupString(v cue.Value, path, def string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return def, nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func lookupUint(v cue.Value, path string, def uint64) (uint64, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return def, nil
	}
	n, err := f.Uint64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func lookupBool(v cue.Value, path string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// fields iterates the regular fields of the struct at path, in declaration
// order. An absent path yields nothing.
func fields(v cue.Value, path string, f func(label string, v cue.Value) error) error {
	s := v.LookupPath(cue.ParsePath(path))
	if !s.Exists() {
		return nil
	}
	iter, err := s.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := f(iter.Selector().Unquoted(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// elements iterates the list at path. An absent path yields nothing.
func elements(v cue.Value, path string, f func(i int, v cue.Value) error) error {
	l := v.LookupPath(cue.ParsePath(path))
	if !l.Exists() {
		return nil
	}
	iter, err := l.List()
	if err != nil {
		return formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		if err := f(i, iter.Value()); err != nil {
			return err
		}
	}
	return nil
}
