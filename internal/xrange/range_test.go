package xrange

import "testing"

func TestContainsOverlaps(t *testing.T) {
	outer := Range{Begin: 10, End: 20}
	inner := Range{Begin: 12, End: 18}
	if !outer.Contains(inner) {
		t.Fatalf("expected outer to contain inner")
	}
	disjoint := Range{Begin: 20, End: 30}
	if outer.Overlaps(disjoint) {
		t.Fatalf("half-open ranges sharing only the boundary must not overlap")
	}
	touching := Range{Begin: 15, End: 25}
	if !outer.Overlaps(touching) {
		t.Fatalf("expected overlap")
	}
}

func TestAddCheckedOverflow(t *testing.T) {
	if _, err := AddChecked(^uint64(0), 1); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestMulCheckedOverflow(t *testing.T) {
	if _, err := MulChecked(^uint64(0), 2); err == nil {
		t.Fatalf("expected overflow error")
	}
	if v, err := MulChecked(0, ^uint64(0)); err != nil || v != 0 {
		t.Fatalf("zero multiplicand should never overflow, got v=%d err=%v", v, err)
	}
}

func TestNewRangeOverflow(t *testing.T) {
	if _, err := New(^uint64(0), 10); err == nil {
		t.Fatalf("expected overflow error")
	}
}
