package kernel

import (
	"fmt"

	"burstmerge/internal/texture"
)

// Binomial coefficient rows for the separable mosaic blur, indexed by the
// requested half-width. Each row is truncated once the residual tap weight
// drops below 0.25% of the full 4^k total, so the stored slice covers
// [-trunc .. +trunc] and its center sits at index trunc.
var binomialTaps = map[int][]float32{
	0:  {1},
	1:  {1, 2, 1},
	2:  {1, 4, 6, 4, 1},
	3:  {1, 6, 15, 20, 15, 6, 1},
	4:  {1, 8, 28, 56, 70, 56, 28, 8, 1},
	5:  {10, 45, 120, 210, 252, 210, 120, 45, 10},
	6:  {12, 66, 220, 495, 792, 924, 792, 495, 220, 66, 12},
	7:  {91, 364, 1001, 2002, 3003, 3432, 3003, 2002, 1001, 364, 91},
	8:  {120, 560, 1820, 4368, 8008, 11440, 12870, 11440, 8008, 4368, 1820, 560, 120},
	16: {10518300, 28048800, 64512240, 129024480, 225792840, 347373600, 471435600, 565722720, 601080390, 565722720, 471435600, 347373600, 225792840, 129024480, 64512240, 28048800, 10518300},
}

// BlurMosaic applies separable two-pass binomial smoothing to a
// mosaic-layout texture. Both passes step by period samples per tap, so a
// half-width of k in the same-color grid spans k*period actual samples and
// never blurs across color channels. Taps falling outside the image are
// omitted and the weight total shrinks accordingly; nothing is zero padded.
func (e *Engine) BlurMosaic(in *texture.Float, period, halfWidth int) (*texture.Float, error) {
	taps, ok := binomialTaps[halfWidth]
	if !ok {
		return nil, fmt.Errorf("unsupported blur half-width %d", halfWidth)
	}
	if period < 1 {
		return nil, fmt.Errorf("invalid mosaic period %d", period)
	}
	trunc := len(taps) / 2

	tmp, err := texture.NewFloat(in.Width, in.Height)
	if err != nil {
		return nil, err
	}
	out, err := texture.NewFloat(in.Width, in.Height)
	if err != nil {
		return nil, err
	}

	// Horizontal pass.
	e.Dispatch2D(in.Width, in.Height, func(x, y int) {
		var sum, weight float64
		for i := -trunc; i <= trunc; i++ {
			tx := x + i*period
			if tx < 0 || tx >= in.Width {
				continue
			}
			w := float64(taps[i+trunc])
			sum += w * float64(in.At(tx, y))
			weight += w
		}
		tmp.Set(x, y, float32(sum/weight))
	})

	// Vertical pass.
	e.Dispatch2D(in.Width, in.Height, func(x, y int) {
		var sum, weight float64
		for i := -trunc; i <= trunc; i++ {
			ty := y + i*period
			if ty < 0 || ty >= in.Height {
				continue
			}
			w := float64(taps[i+trunc])
			sum += w * float64(tmp.At(x, ty))
			weight += w
		}
		out.Set(x, y, float32(sum/weight))
	})

	return out, nil
}
