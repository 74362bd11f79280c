package kernel

import (
	"fmt"

	"burstmerge/internal/texture"
)

// Rect is a pixel rectangle, top/left inclusive, bottom/right exclusive.
// The field order matches the masked-area tuples a raw container reports.
type Rect struct {
	Top, Left, Bottom, Right int
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() int { return r.Bottom - r.Top }

// Pixels returns the number of samples covered.
func (r Rect) Pixels() int { return r.Width() * r.Height() }

// clip bounds the rectangle to a w x h image.
func (r Rect) clip(w, h int) Rect {
	if r.Top < 0 {
		r.Top = 0
	}
	if r.Left < 0 {
		r.Left = 0
	}
	if r.Bottom > h {
		r.Bottom = h
	}
	if r.Right > w {
		r.Right = w
	}
	return r
}

// SubpixelMeans computes the mean sample value per mosaic subpixel
// position inside a rectangle. Phase 1 sums each column stepping by the
// mosaic period vertically into a (width x period) intermediate; phase 2
// sums those rows horizontally, stepping by the period, into one value per
// subpixel position; the final divide scales by the true pixel count of
// each position. Subpixel phases are taken modulo the absolute image
// coordinates so the result lines up with the sensor pattern even when the
// rectangle origin is not pattern aligned.
//
// The two reduction phases run synchronously: callers read the result back
// on the host to parameterize later kernels.
func (e *Engine) SubpixelMeans(in *texture.Float, r Rect, period int) ([]float64, error) {
	r = r.clip(in.Width, in.Height)
	if period < 1 || r.Width() < period || r.Height() < period {
		return nil, fmt.Errorf("reduction rectangle %+v too small for period %d", r, period)
	}

	// Phase 1: column sums per vertical phase.
	colSums := make([]float64, r.Width()*period)
	e.Dispatch2D(r.Width(), period, func(cx, p int) {
		x := r.Left + cx
		var sum float64
		start := r.Top + ((p - r.Top%period + period) % period)
		for y := start; y < r.Bottom; y += period {
			sum += float64(in.At(x, y))
		}
		colSums[p*r.Width()+cx] = sum
	})

	// Phase 2: row sums per horizontal phase, then divide by true counts.
	means := make([]float64, period*period)
	e.Dispatch2D(period, period, func(sx, sy int) {
		var sum float64
		count := 0
		startX := r.Left + ((sx - r.Left%period + period) % period)
		rows := 0
		startY := r.Top + ((sy - r.Top%period + period) % period)
		for y := startY; y < r.Bottom; y += period {
			rows++
		}
		for x := startX; x < r.Right; x += period {
			sum += colSums[sy*r.Width()+(x-r.Left)]
			count += rows
		}
		if count > 0 {
			means[sy*period+sx] = sum / float64(count)
		}
	})

	return means, nil
}

// TextureMean returns the mean over all samples of a mosaic texture.
func (e *Engine) TextureMean(in *texture.Float) float64 {
	means, err := e.SubpixelMeans(in, Rect{0, 0, in.Height, in.Width}, 1)
	if err != nil || len(means) == 0 {
		return 0
	}
	return means[0]
}

// MaskedBlackLevels estimates per-subpixel black levels from the masked
// (optically black) rectangles of a frame. Each rectangle is reduced
// independently and the per-subpixel means are averaged weighted by each
// rectangle's pixel count. Returns nil when no rectangle is usable.
func (e *Engine) MaskedBlackLevels(in *texture.Float, rects []Rect, period int) []float64 {
	sums := make([]float64, period*period)
	var totalWeight float64
	for _, r := range rects {
		means, err := e.SubpixelMeans(in, r, period)
		if err != nil {
			continue
		}
		w := float64(r.clip(in.Width, in.Height).Pixels())
		for i, m := range means {
			sums[i] += m * w
		}
		totalWeight += w
	}
	if totalWeight == 0 {
		return nil
	}
	for i := range sums {
		sums[i] /= totalWeight
	}
	return sums
}
