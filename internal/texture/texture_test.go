package texture

import "testing"

func TestNewFloatRejectsBadDimensions(t *testing.T) {
	if _, err := NewFloat(0, 10); err == nil {
		t.Fatal("expected error for zero width, got nil")
	}
	if _, err := NewFloat(10, -1); err == nil {
		t.Fatal("expected error for negative height, got nil")
	}
	if _, err := NewFloat(1<<20, 8); err == nil {
		t.Fatal("expected error for oversized width, got nil")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a, err := NewPacked(2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.SetC(1, 1, 3, 42)
	b := a.Clone()
	b.SetC(1, 1, 3, 7)
	if got := a.AtC(1, 1, 3); got != 42 {
		t.Fatalf("expected original untouched at 42, got %g", got)
	}
	if !a.SameShape(b) {
		t.Fatal("expected clone to keep the shape")
	}
}

func TestAccumulatorZeroFilled(t *testing.T) {
	acc, err := NewAccumulator(3, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range acc.Sum.Data {
		if acc.Sum.Data[i] != 0 || acc.Weight.Data[i] != 0 {
			t.Fatalf("sample %d: expected zero-filled accumulator", i)
		}
	}
}
