package kernel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Engine executes data-parallel kernels over 2-D index grids. It plays the
// role the pipeline-state cache plays on a GPU: constructed once at startup
// and passed by reference into every processing stage, so there is no
// hidden global state. One logical task exists per output element; tasks of
// the same dispatch carry no ordering guarantee and must not synchronize
// with each other.
type Engine struct {
	workers   int
	laneWidth int
}

// DefaultLaneWidth mirrors the native parallel-lane width of common GPUs
// and sizes work groups for the CPU dispatcher.
const DefaultLaneWidth = 32

// NewEngine builds an Engine with the given worker count and lane width.
// Non-positive values fall back to GOMAXPROCS and DefaultLaneWidth.
func NewEngine(workers, laneWidth int) *Engine {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	if laneWidth < 1 {
		laneWidth = DefaultLaneWidth
	}
	return &Engine{workers: workers, laneWidth: laneWidth}
}

// GroupSize holds 2-D (plus depth) work-group dimensions.
type GroupSize struct {
	X, Y, Z int
}

// WorkgroupSize picks near-optimal work-group dimensions for a grid of
// gridW x gridH x gridD elements and a native lane width. The group
// width*height equals the lane width when possible and the split with the
// fewest dispatched groups wins, ties broken in favor of wider-than-tall
// groups. Pure and deterministic.
func WorkgroupSize(gridW, gridH, gridD, laneWidth int) GroupSize {
	if laneWidth < 1 {
		laneWidth = 1
	}
	if gridD >= laneWidth {
		return GroupSize{X: 1, Y: 1, Z: laneWidth}
	}

	best := GroupSize{X: laneWidth, Y: 1, Z: 1}
	bestGroups := ceilDiv(gridW, best.X) * ceilDiv(gridH, best.Y)

	for d := 2; d <= laneWidth/4; d++ {
		if laneWidth%d != 0 {
			continue
		}
		// Wider split first so that strict comparison keeps it on ties.
		for _, cand := range [2]GroupSize{
			{X: laneWidth / d, Y: d, Z: 1},
			{X: d, Y: laneWidth / d, Z: 1},
		} {
			groups := ceilDiv(gridW, cand.X) * ceilDiv(gridH, cand.Y)
			if groups < bestGroups {
				best = cand
				bestGroups = groups
			}
		}
	}
	return best
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Dispatch2D runs fn once for every element of a gridW x gridH grid. The
// grid is tiled into work groups sized by WorkgroupSize and the groups are
// drained by a bounded pool of goroutines. fn must be safe to call
// concurrently for distinct elements.
func (e *Engine) Dispatch2D(gridW, gridH int, fn func(x, y int)) {
	if gridW <= 0 || gridH <= 0 {
		return
	}
	size := WorkgroupSize(gridW, gridH, 1, e.laneWidth)
	groupsX := ceilDiv(gridW, size.X)
	groupsY := ceilDiv(gridH, size.Y)
	total := groupsX * groupsY

	workers := e.workers
	if workers > total {
		workers = total
	}
	if workers <= 1 {
		for y := 0; y < gridH; y++ {
			for x := 0; x < gridW; x++ {
				fn(x, y)
			}
		}
		return
	}

	var next int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				g := int(atomic.AddInt64(&next, 1)) - 1
				if g >= total {
					return
				}
				x0 := (g % groupsX) * size.X
				y0 := (g / groupsX) * size.Y
				x1 := min(x0+size.X, gridW)
				y1 := min(y0+size.Y, gridH)
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						fn(x, y)
					}
				}
			}
		}()
	}
	wg.Wait()
}
