package kernel

import (
	"sync/atomic"
	"testing"
)

func TestWorkgroupSizeDepthConsumesLane(t *testing.T) {
	g := WorkgroupSize(100, 100, 32, 32)
	if g.X != 1 || g.Y != 1 || g.Z != 32 {
		t.Fatalf("expected 1x1x32 group, got %dx%dx%d", g.X, g.Y, g.Z)
	}
}

func TestWorkgroupSizeProductEqualsLane(t *testing.T) {
	for _, lane := range []int{8, 16, 32, 64} {
		g := WorkgroupSize(123, 77, 1, lane)
		if g.X*g.Y != lane {
			t.Fatalf("lane %d: group %dx%d does not fill the lane", lane, g.X, g.Y)
		}
		if g.Z != 1 {
			t.Fatalf("lane %d: expected depth 1, got %d", lane, g.Z)
		}
	}
}

// The chosen split must dispatch no more groups than any divisor split the
// search space contains.
func TestWorkgroupSizeMinimizesGroups(t *testing.T) {
	cases := [][2]int{{8, 1024}, {1024, 8}, {33, 33}, {1, 500}, {500, 1}, {64, 64}}
	const lane = 32
	for _, c := range cases {
		w, h := c[0], c[1]
		g := WorkgroupSize(w, h, 1, lane)
		got := ceilDiv(w, g.X) * ceilDiv(h, g.Y)
		check := func(gw, gh int) {
			if best := ceilDiv(w, gw) * ceilDiv(h, gh); best < got {
				t.Fatalf("grid %dx%d: chose %dx%d (%d groups), but %dx%d needs %d",
					w, h, g.X, g.Y, got, gw, gh, best)
			}
		}
		check(lane, 1)
		for d := 2; d <= lane/4; d++ {
			if lane%d != 0 {
				continue
			}
			check(lane/d, d)
			check(d, lane/d)
		}
	}
}

func TestWorkgroupSizeDeterministic(t *testing.T) {
	a := WorkgroupSize(640, 480, 1, 32)
	b := WorkgroupSize(640, 480, 1, 32)
	if a != b {
		t.Fatalf("expected identical results, got %+v and %+v", a, b)
	}
}

func TestDispatch2DCoversEveryCellOnce(t *testing.T) {
	const w, h = 61, 47
	counts := make([]int32, w*h)
	eng := NewEngine(4, 32)
	eng.Dispatch2D(w, h, func(x, y int) {
		if x < 0 || x >= w || y < 0 || y >= h {
			t.Errorf("dispatch out of bounds: (%d,%d)", x, y)
			return
		}
		atomic.AddInt32(&counts[y*w+x], 1)
	})
	for i, c := range counts {
		if c != 1 {
			t.Fatalf("cell %d visited %d times, expected 1", i, c)
		}
	}
}

func TestDispatch2DSerialFallback(t *testing.T) {
	const w, h = 9, 5
	counts := make([]int32, w*h)
	eng := NewEngine(1, 32)
	eng.Dispatch2D(w, h, func(x, y int) {
		counts[y*w+x]++
	})
	for i, c := range counts {
		if c != 1 {
			t.Fatalf("cell %d visited %d times, expected 1", i, c)
		}
	}
}
