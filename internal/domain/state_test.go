package domain

import "testing"

func TestMergeIsShallowAndNonMutating(t *testing.T) {
	nested := map[string]any{"a": 1}
	before := State{"revenue": 10, "cost": 4, "nested": nested}
	after := before.Merge(State{"profit": 6, "nested": map[string]any{"b": 2}})

	if _, ok := before["profit"]; ok {
		t.Fatalf("merge mutated its receiver")
	}
	if after["revenue"] != 10 || after["profit"] != 6 {
		t.Fatalf("unexpected merge result %v", after)
	}
	got := after["nested"].(map[string]any)
	if _, ok := got["a"]; ok {
		t.Fatalf("expected nested value replaced, not merged: %v", got)
	}
}

func TestIntermediateSelectsSuffixedKeys(t *testing.T) {
	s := State{"margin_intermediate": 0.4, "profit": 6, "intermediate": 1}
	got := s.Intermediate()
	if len(got) != 1 || got["margin_intermediate"] != 0.4 {
		t.Fatalf("unexpected intermediate selection %v", got)
	}
}

func TestEqualAndKeys(t *testing.T) {
	a := State{"b": 1, "a": []any{1, 2}}
	b := State{"a": []any{1, 2}, "b": 1}
	if !a.Equal(b) {
		t.Fatalf("expected equal states")
	}
	if a.Equal(State{"a": []any{1, 2}, "b": 2}) {
		t.Fatalf("expected unequal states")
	}
	keys := a.Keys()
	if keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("keys not sorted: %v", keys)
	}
}

func TestEqualComparesNumbersByValue(t *testing.T) {
	a := State{"cost": 4, "nested": map[string]any{"n": int64(2)}}
	b := State{"cost": 4.0, "nested": map[string]any{"n": 2.0}}
	if !a.Equal(b) {
		t.Fatalf("expected 4 and 4.0 to compare equal")
	}
	if a.Equal(State{"cost": 4.5, "nested": map[string]any{"n": 2.0}}) {
		t.Fatalf("expected different numbers to differ")
	}
	if ValuesEqual(1, "1") {
		t.Fatalf("number and string compared equal")
	}
}

func TestNewActCopiesPayload(t *testing.T) {
	payload := Payload{"amount": 3}
	act := NewAct("act-1", "update", "desc", payload)
	payload["amount"] = 99
	if act.Payload["amount"] != 3 {
		t.Fatalf("act payload aliased caller map")
	}
}
