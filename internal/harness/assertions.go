package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/deeds/internal/ir"
)

// AssertionError describes a failed assertion or an unexpected step outcome.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Message  string
}

func (e *AssertionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s assertion failed", e.Type)
	if e.Message != "" {
		fmt.Fprintf(&sb, ": %s", e.Message)
	}
	fmt.Fprintf(&sb, "\n  expected: %s\n  actual:   %s", e.Expected, e.Actual)
	return sb.String()
}

// checkAssertion evaluates one assertion against the final ledger.
func (r *runner) checkAssertion(a Assertion) error {
	switch a.Type {
	case AssertValid, AssertInvalid:
		return r.assertValidity(a)
	case AssertReader:
		return r.assertReader(a)
	case AssertOwned:
		return assertOwned(a, r.result.State)
	case AssertSpent:
		return r.assertSpent(a)
	case AssertReplica:
		return assertReplica(r.result.State, r.result.Replica)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func (r *runner) assertValidity(a Assertion) error {
	want := a.Type == AssertValid
	for _, label := range a.Ops {
		opid, ok := r.ops[label]
		if !ok {
			return fmt.Errorf("%s assertion: unknown operation %q", a.Type, label)
		}
		if got := r.ledger.IsValid(opid); got != want {
			return &AssertionError{
				Type:     a.Type,
				Expected: validityText(want),
				Actual:   validityText(got),
				Message:  label,
			}
		}
	}
	return nil
}

func validityText(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func (r *runner) assertReader(a Assertion) error {
	expected, err := ir.FromNative(a.Expect)
	if err != nil {
		return fmt.Errorf("reader assertion %q: expect: %w", a.Name, err)
	}
	st := r.ledger.State()
	var actual ir.IRValue
	var ok bool
	if a.View == "" {
		actual, ok = st.Main.Readers[a.Name]
	} else if view, found := st.Aux[a.View]; found {
		actual, ok = view.Readers[a.Name]
	}
	if !ok {
		return fmt.Errorf("reader assertion: unknown reader %q", qualified(a.View, a.Name))
	}
	want, err := valueText(expected)
	if err != nil {
		return fmt.Errorf("reader assertion %q: %w", a.Name, err)
	}
	got, err := valueText(actual)
	if err != nil {
		return fmt.Errorf("reader assertion %q: %w", a.Name, err)
	}
	if want != got {
		return &AssertionError{
			Type:     AssertReader,
			Expected: want,
			Actual:   got,
			Message:  qualified(a.View, a.Name),
		}
	}
	return nil
}

// valueText renders v as canonical JSON. A failed reader (null) renders
// as "null".
func valueText(v ir.IRValue) (string, error) {
	if _, ok := v.(ir.IRNull); ok || v == nil {
		return "null", nil
	}
	b, err := ir.MarshalCanonical(v)
	return string(b), err
}

func qualified(view, name string) string {
	if view == "" {
		return name
	}
	return view + "." + name
}

func assertOwned(a Assertion, snap Snapshot) error {
	total := snap.Owned[a.State]
	if a.Count != nil && total.Count != *a.Count {
		return &AssertionError{
			Type:     AssertOwned,
			Expected: fmt.Sprintf("count %d", *a.Count),
			Actual:   fmt.Sprintf("count %d", total.Count),
			Message:  a.State,
		}
	}
	if a.Sum != nil && total.Sum != *a.Sum {
		return &AssertionError{
			Type:     AssertOwned,
			Expected: fmt.Sprintf("sum %d", *a.Sum),
			Actual:   fmt.Sprintf("sum %d", total.Sum),
			Message:  a.State,
		}
	}
	return nil
}

func (r *runner) assertSpent(a Assertion) error {
	ref, ok := r.cells[a.Cell]
	if !ok {
		return fmt.Errorf("spent assertion: unknown cell %q", a.Cell)
	}
	spender, spent, err := r.ledger.SpentBy(ref.addr)
	if err != nil {
		return fmt.Errorf("spent assertion %q: %w", a.Cell, err)
	}
	actual := "unspent"
	if spent {
		actual = r.labelOf(spender)
	}
	expected := a.By
	if expected == "" {
		expected = "unspent"
	}
	if actual != expected {
		return &AssertionError{
			Type:     AssertSpent,
			Expected: expected,
			Actual:   actual,
			Message:  a.Cell,
		}
	}
	return nil
}

func assertReplica(source Snapshot, replica *Snapshot) error {
	if replica == nil {
		return fmt.Errorf("replica assertion: scenario has no replicate step")
	}
	want, err := ir.MarshalCanonical(snapshotIR(source))
	if err != nil {
		return fmt.Errorf("replica assertion: %w", err)
	}
	got, err := ir.MarshalCanonical(snapshotIR(*replica))
	if err != nil {
		return fmt.Errorf("replica assertion: %w", err)
	}
	if string(want) != string(got) {
		return &AssertionError{
			Type:     AssertReplica,
			Expected: string(want),
			Actual:   string(got),
		}
	}
	return nil
}

// snapshotIR renders a snapshot for comparison and golden files. Readers
// that failed to evaluate are left out.
func snapshotIR(s Snapshot) ir.IRObject {
	readers := make(ir.IRObject, len(s.Readers))
	for name, v := range s.Readers {
		if _, null := v.(ir.IRNull); null || v == nil {
			continue
		}
		readers[name] = v
	}
	owned := make(ir.IRObject, len(s.Owned))
	for name, t := range s.Owned {
		owned[name] = ir.IRObject{
			"count": ir.IRInt(t.Count),
			"sum":   ir.IRInt(t.Sum),
		}
	}
	return ir.IRObject{
		"readers": readers,
		"owned":   owned,
	}
}
