package result

import (
	"errors"
	"strings"
	"testing"
)

func TestOkAndErr(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() || ok.IsErr() {
		t.Error("Ok result should report success")
	}
	if ok.Value() != 42 {
		t.Errorf("Value() = %d, want 42", ok.Value())
	}
	if ok.Err() != nil {
		t.Errorf("Err() = %v, want nil", ok.Err())
	}

	boom := errors.New("boom")
	bad := Err[int](boom)
	if bad.IsOk() || !bad.IsErr() {
		t.Error("Err result should report failure")
	}
	if bad.Value() != 0 {
		t.Errorf("failure Value() = %d, want zero value", bad.Value())
	}
	if !errors.Is(bad.Err(), boom) {
		t.Errorf("Err() = %v, want boom", bad.Err())
	}

	v, err := bad.Unpack()
	if v != 0 || !errors.Is(err, boom) {
		t.Errorf("Unpack() = (%d, %v), want (0, boom)", v, err)
	}
}

func TestMap(t *testing.T) {
	doubled := Map(Ok(21), func(v int) int { return v * 2 })
	if doubled.Value() != 42 {
		t.Errorf("Map over success = %d, want 42", doubled.Value())
	}

	boom := errors.New("boom")
	mapped := Map(Err[int](boom), func(v int) int { return v * 2 })
	if !errors.Is(mapped.Err(), boom) {
		t.Errorf("Map over failure should pass the error through, got %v", mapped.Err())
	}
}

func TestCombineAllSuccessPreservesOrder(t *testing.T) {
	combined := Combine([]Result[string]{Ok("a"), Ok("b"), Ok("c")})
	if combined.IsErr() {
		t.Fatalf("Combine over successes failed: %v", combined.Err())
	}
	got := combined.Value()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Combine returned %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value[%d] = %q, want %q (order must be preserved)", i, got[i], want[i])
		}
	}
}

func TestCombineAggregatesEveryFailure(t *testing.T) {
	errA := errors.New("first failure")
	errB := errors.New("second failure")

	combined := Combine([]Result[int]{Ok(1), Err[int](errA), Ok(2), Err[int](errB)})
	if combined.IsOk() {
		t.Fatal("Combine over a mixed batch should fail")
	}

	err := combined.Err()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("combined error should wrap both failures, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "first failure") || !strings.Contains(msg, "second failure") {
		t.Errorf("combined message should mention every failure, got %q", msg)
	}
}

func TestCombineEmpty(t *testing.T) {
	combined := Combine([]Result[int]{})
	if combined.IsErr() {
		t.Errorf("Combine over empty batch should succeed, got %v", combined.Err())
	}
	if len(combined.Value()) != 0 {
		t.Errorf("Combine over empty batch = %v, want empty", combined.Value())
	}
}
