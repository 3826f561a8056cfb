// internal/fault/fault_test.go
package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassOf_Wrapped(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("outer: %w", New(ClassIntegrity, "decode", base))

	if got := ClassOf(err); got != ClassIntegrity {
		t.Fatalf("expected integrity, got %s", got)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected chain to reach base error")
	}
	if !Is(err, ClassIntegrity) || Is(err, ClassWrite) {
		t.Fatalf("Is mismatch")
	}
}

func TestClassOf_Plain(t *testing.T) {
	if ClassOf(errors.New("x")) != ClassUnknown {
		t.Fatalf("plain error must be unknown")
	}
	if Is(nil, ClassUnknown) {
		t.Fatalf("nil error must not match")
	}
}

func TestCode_DistinctPerClass(t *testing.T) {
	seen := map[uint16]Class{}
	for c := ClassUnknown; c <= ClassValidation; c++ {
		code := New(c, "op", nil).Code()
		if code == 0 {
			t.Fatalf("class %s produced reserved code 0", c)
		}
		if prev, ok := seen[code]; ok {
			t.Fatalf("code %d shared by %s and %s", code, prev, c)
		}
		seen[code] = c
	}
}
