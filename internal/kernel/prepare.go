package kernel

import (
	"fmt"
	"math"

	"burstmerge/internal/texture"
)

// PrepareParams parameterizes the conversion of one integer raw frame into
// a floating, hot-pixel-corrected, exposure-normalized, zero-padded buffer.
type PrepareParams struct {
	Period      int
	BlackLevels []float64 // period^2 black levels of this frame
	// ExposureDiff equalizes this frame to the processing reference, in
	// hundredths of an EV stop (reference bias minus frame bias).
	ExposureDiff int
	// Correction holds per-site hot-pixel blend weights; nil disables
	// correction.
	Correction *texture.Float
	// Zero-filled padding around the source, accommodating the alignment
	// search radius of later stages.
	PadLeft, PadTop, PadRight, PadBottom int
}

// PrepareTexture converts integer raw samples to floating point, blends in
// hot-pixel correction, applies exposure equalization and writes the frame
// into a larger zero-initialized buffer offset by the requested padding.
func (e *Engine) PrepareTexture(pixels []uint16, width, height int, p PrepareParams) (*texture.Float, error) {
	if len(pixels) != width*height {
		return nil, fmt.Errorf("raw buffer length %d does not match %dx%d", len(pixels), width, height)
	}
	if p.Period < 1 || len(p.BlackLevels) != p.Period*p.Period {
		return nil, fmt.Errorf("black-level array length %d does not match period %d", len(p.BlackLevels), p.Period)
	}

	out, err := texture.NewFloat(width+p.PadLeft+p.PadRight, height+p.PadTop+p.PadBottom)
	if err != nil {
		return nil, err
	}

	gain := math.Exp2(float64(p.ExposureDiff) / 100)

	e.Dispatch2D(width, height, func(x, y int) {
		v := float64(pixels[y*width+x])

		if p.Correction != nil {
			if w := float64(p.Correction.At(x, y)); w > 0 &&
				x >= hotPixelInset && x < width-hotPixelInset &&
				y >= hotPixelInset && y < height-hotPixelInset {
				avg := sameColorNeighborAverage(pixels, width, x, y, p.Period)
				v = w*avg + (1-w)*v
			}
		}

		black := p.BlackLevels[(y%p.Period)*p.Period+(x%p.Period)]
		v = (v-black)*gain + black
		if v < 0 {
			v = 0
		}
		out.Set(x+p.PadLeft, y+p.PadTop, float32(v))
	})

	return out, nil
}

// sameColorNeighborAverage estimates a replacement value for a hot site
// from its nearest same-color neighbors: the four cardinal sites at
// distance 2 for 2x2 mosaics, the position-dependent knight's-move lookup
// for 6x6 mosaics.
func sameColorNeighborAverage(pixels []uint16, width, x, y, period int) float64 {
	if period == 6 {
		sub := (y%6)*6 + (x % 6)
		height := len(pixels) / width
		var sum, wsum float64
		for _, nb := range xtransNeighbors[sub] {
			nx, ny := x+nb.dx, y+nb.dy
			if nx < 0 || nx >= width || ny < 0 || ny >= height {
				continue
			}
			sum += float64(nb.weight) * float64(pixels[ny*width+nx])
			wsum += float64(nb.weight)
		}
		if wsum == 0 {
			return float64(pixels[y*width+x])
		}
		return sum / wsum
	}
	return (float64(pixels[y*width+x-2]) + float64(pixels[y*width+x+2]) +
		float64(pixels[(y-2)*width+x]) + float64(pixels[(y+2)*width+x])) / 4
}
