package store

import (
	"testing"

	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/state"
)

func TestMarshalText_NoHTMLEscape(t *testing.T) {
	got, err := marshalText(map[string]string{"k": "<a&b>"})
	if err != nil {
		t.Fatalf("marshalText() failed: %v", err)
	}
	want := `{"k":"<a&b>"}`
	if got != want {
		t.Errorf("marshalText() = %s, want %s", got, want)
	}
}

func TestGetMeta_Missing(t *testing.T) {
	_, s := createTestLedger(t, 10)

	var v map[string]any
	found, err := getMeta(s.db, "nope", &v)
	if err != nil {
		t.Fatalf("getMeta() failed: %v", err)
	}
	if found {
		t.Error("getMeta() found a missing key")
	}
}

func TestPutMeta_Overwrites(t *testing.T) {
	_, s := createTestLedger(t, 10)

	for _, v := range []int{1, 2} {
		if err := putMeta(s.db, "counter", v); err != nil {
			t.Fatalf("putMeta() failed: %v", err)
		}
	}
	var got int
	found, err := getMeta(s.db, "counter", &got)
	if err != nil || !found {
		t.Fatalf("getMeta() = %v, %v", found, err)
	}
	if got != 2 {
		t.Errorf("counter = %d, want 2", got)
	}
}

func TestUnmarshalTransition_EmptyDestroyed(t *testing.T) {
	text, err := marshalText(state.Transition{Opid: ir.Opid{3}})
	if err != nil {
		t.Fatalf("marshalText() failed: %v", err)
	}
	tr, err := unmarshalTransition(text)
	if err != nil {
		t.Fatalf("unmarshalTransition() failed: %v", err)
	}
	if tr.Destroyed == nil {
		t.Error("Destroyed is nil, want empty map")
	}
	if !tr.Equal(state.Transition{Opid: ir.Opid{3}, Destroyed: map[ir.CellAddr]ir.StateCell{}}) {
		t.Errorf("round trip changed transition: %+v", tr)
	}
}
