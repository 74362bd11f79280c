package kernel

import (
	"fmt"
	"math"

	"burstmerge/internal/texture"
)

const (
	// normalizationEpsilon prevents division by zero where highlight
	// suppression collapsed every frame's weight for a pixel.
	normalizationEpsilon = 1e-12

	// luminanceBlurHalfWidth smooths the input before it modulates the
	// exposure weight, so single noisy samples do not flip a pixel
	// between the shadow and highlight weighting regimes.
	luminanceBlurHalfWidth = 2

	// suppressionBlurHalfWidth smooths the highlight-suppression weight
	// map so frame contributions fade instead of switching hard at
	// clipping borders.
	suppressionBlurHalfWidth = 2

	// highlightExtrapolationOnset is the normalized green value above
	// which highlight extrapolation starts blending in.
	highlightExtrapolationOnset = 0.8

	// defaultHighlightHalfWidth is the neighborhood-max radius used to
	// anticipate clipping before it reaches the current pixel.
	defaultHighlightHalfWidth = 4
)

// UniformParams parameterizes uniform-weight accumulation, used for
// averaging equal-exposure frames and for the reference (darkest) frame of
// a bracketed merge.
type UniformParams struct {
	FrameCount   int
	WhiteLevel   float64
	ColorFactors [3]float64 // camera-neutral R/G/B factors
	// ExtrapolateHighlights enables green-channel highlight recovery on
	// 2x2 quads; only meaningful for period-2 mosaics.
	ExtrapolateHighlights bool
}

// AccumulateUniform adds value/frameCount per pixel into the accumulator,
// with an optional highlight-extrapolation pass: a green sample close to
// full range whose neighboring red/blue samples are clipping is replaced by
// a blend with the green value those neighbors imply, recovering detail the
// green channel lost first.
func (e *Engine) AccumulateUniform(acc *texture.Accumulator, frame *texture.Float, p UniformParams) error {
	if !acc.Sum.SameShape(frame) {
		return fmt.Errorf("accumulator %dx%d does not match frame %dx%d",
			acc.Sum.Width, acc.Sum.Height, frame.Width, frame.Height)
	}
	if p.FrameCount < 1 {
		return fmt.Errorf("invalid frame count %d", p.FrameCount)
	}

	inv := 1 / float64(p.FrameCount)

	if !p.ExtrapolateHighlights {
		e.Dispatch2D(frame.Width, frame.Height, func(x, y int) {
			i := acc.Sum.Index(x, y)
			acc.Sum.Data[i] += float32(inv * float64(frame.At(x, y)))
			acc.Weight.Data[i] += float32(inv)
		})
		return nil
	}

	// Quad-oriented pass over 2x2 RGGB cells.
	quadsX := frame.Width / 2
	quadsY := frame.Height / 2
	e.Dispatch2D(quadsX, quadsY, func(qx, qy int) {
		x0, y0 := 2*qx, 2*qy
		r := float64(frame.At(x0, y0))
		g1 := float64(frame.At(x0+1, y0))
		g2 := float64(frame.At(x0, y0+1))
		b := float64(frame.At(x0+1, y0+1))

		g1 = e.extrapolateGreen(frame, g1, p,
			[4][3]int{{x0, y0, 0}, {x0 + 2, y0, 0}, {x0 + 1, y0 + 1, 2}, {x0 + 1, y0 - 1, 2}})
		g2 = e.extrapolateGreen(frame, g2, p,
			[4][3]int{{x0, y0, 0}, {x0, y0 + 2, 0}, {x0 + 1, y0 + 1, 2}, {x0 - 1, y0 + 1, 2}})

		addUniform(acc, x0, y0, r, inv)
		addUniform(acc, x0+1, y0, g1, inv)
		addUniform(acc, x0, y0+1, g2, inv)
		addUniform(acc, x0+1, y0+1, b, inv)
	})
	return nil
}

func addUniform(acc *texture.Accumulator, x, y int, v, inv float64) {
	i := acc.Sum.Index(x, y)
	acc.Sum.Data[i] += float32(inv * v)
	acc.Weight.Data[i] += float32(inv)
}

// extrapolateGreen implements the highlight-recovery blend for one green
// sample. candidates lists red/blue sample positions with their color index
// (0 red, 2 blue): the two samples of the quad's row/column plus up to two
// extra samples fetched from adjacent quads.
func (e *Engine) extrapolateGreen(frame *texture.Float, g float64, p UniformParams, candidates [4][3]int) float64 {
	ratio := g / p.WhiteLevel
	if ratio <= highlightExtrapolationOnset {
		return g
	}

	fG := p.ColorFactors[1]
	var extSum float64
	extCount := 0
	for _, c := range candidates {
		x, y, color := c[0], c[1], c[2]
		if x < 0 || x >= frame.Width || y < 0 || y >= frame.Height {
			continue
		}
		v := float64(frame.At(x, y))
		// A red/blue sample at its color-normalized clipping point
		// implies a green value beyond full range.
		if v < 0.99*p.WhiteLevel {
			continue
		}
		f := p.ColorFactors[color]
		if f <= 0 {
			continue
		}
		extSum += v * fG / f
		extCount++
	}
	if extCount == 0 {
		return g
	}

	extrapolated := extSum / float64(extCount)
	// Blend weight rises linearly from 0 at ratio 0.8 to 0.9 at ratio 1.
	w := 0.9 - 4.5*clampF(1-ratio, 0, 0.2)
	return w*math.Max(extrapolated, g) + (1-w)*g
}

// ExposureParams parameterizes exposure-weighted accumulation for
// bracketed frames other than the darkest.
type ExposureParams struct {
	Period       int
	ExposureBias int // hundredths of an EV stop relative to the reference, >= 0
	WhiteLevel   float64
	BlackLevels  []float64 // period^2 mean black levels
	ColorFactors [3]float64
	// HighlightHalfWidth is the neighborhood-max radius anticipating
	// clipping; zero selects the default of 4.
	HighlightHalfWidth int
}

// AccumulateExposureWeighted adds a bracketed frame's contribution with a
// per-pixel weight: exposure-linear in the shadows, tapering toward the
// square root of the exposure weight above ~25% of white level, and
// multiplied by a blurred highlight-suppression weight that fades the frame
// out where its exposure-adjusted values approach clipping.
func (e *Engine) AccumulateExposureWeighted(acc *texture.Accumulator, frame *texture.Float, p ExposureParams) error {
	if !acc.Sum.SameShape(frame) {
		return fmt.Errorf("accumulator %dx%d does not match frame %dx%d",
			acc.Sum.Width, acc.Sum.Height, frame.Width, frame.Height)
	}
	if p.Period < 1 || len(p.BlackLevels) != p.Period*p.Period {
		return fmt.Errorf("black-level array length %d does not match period %d", len(p.BlackLevels), p.Period)
	}
	if p.WhiteLevel <= 0 {
		return fmt.Errorf("invalid white level %g", p.WhiteLevel)
	}

	w0 := math.Exp2(float64(p.ExposureBias) / 100)
	sqrtW0 := math.Sqrt(w0)

	lum, err := e.BlurMosaic(frame, p.Period, luminanceBlurHalfWidth)
	if err != nil {
		return err
	}
	meanFactor := mosaicMeanColorFactor(p.Period, p.ColorFactors)

	suppression, err := e.highlightSuppression(frame, p, w0)
	if err != nil {
		return err
	}

	e.Dispatch2D(frame.Width, frame.Height, func(x, y int) {
		sub := (y%p.Period)*p.Period + (x % p.Period)
		black := p.BlackLevels[sub]
		blackRatio := black / p.WhiteLevel

		// Shadows keep the full exposure-linear weight; brighter tones
		// transition toward sqrt(w0).
		luminance := float64(lum.At(x, y))/meanFactor/p.WhiteLevel - blackRatio
		if luminance < 0 {
			luminance = 0
		}
		denom := 0.25 - blackRatio
		if denom < 1e-3 {
			denom = 1e-3
		}
		weight := math.Max(sqrtW0, w0*math.Pow(w0, -0.5/denom*luminance))
		weight *= float64(suppression.At(x, y))

		i := acc.Sum.Index(x, y)
		acc.Sum.Data[i] += float32(weight * float64(frame.At(x, y)))
		acc.Weight.Data[i] += float32(weight)
	})
	return nil
}

// highlightSuppression computes the per-pixel clipping roll-off weight:
// the local maximum of the exposure-readjusted value over a small
// neighborhood feeds clamp(0.99/0.74 - (1/0.74)*(max/white), 0, 1), and the
// resulting map is smoothed so suppression ramps in before clipping reaches
// the current pixel.
func (e *Engine) highlightSuppression(frame *texture.Float, p ExposureParams, w0 float64) (*texture.Float, error) {
	hw := p.HighlightHalfWidth
	if hw <= 0 {
		hw = defaultHighlightHalfWidth
	}

	raw, err := texture.NewFloat(frame.Width, frame.Height)
	if err != nil {
		return nil, err
	}
	e.Dispatch2D(frame.Width, frame.Height, func(x, y int) {
		var localMax float64
		for dy := -hw; dy <= hw; dy++ {
			ty := y + dy
			if ty < 0 || ty >= frame.Height {
				continue
			}
			for dx := -hw; dx <= hw; dx++ {
				tx := x + dx
				if tx < 0 || tx >= frame.Width {
					continue
				}
				if v := float64(frame.At(tx, ty)); v > localMax {
					localMax = v
				}
			}
		}
		sub := (y%p.Period)*p.Period + (x % p.Period)
		black := p.BlackLevels[sub]
		adjusted := (localMax-black)*w0 + black
		w := clampF(0.99/0.74-(1/0.74)*(adjusted/p.WhiteLevel), 0, 1)
		raw.Set(x, y, float32(w))
	})

	return e.BlurMosaic(raw, p.Period, suppressionBlurHalfWidth)
}

// mosaicMeanColorFactor weights the camera-neutral factors by how often
// each color occurs in the mosaic pattern.
func mosaicMeanColorFactor(period int, f [3]float64) float64 {
	if period == 6 {
		return (8*f[0] + 20*f[1] + 8*f[2]) / 36
	}
	return (f[0] + 2*f[1] + f[2]) / 4
}

// Normalize resolves an accumulator in place on the sum texture:
// final = sum / (weight + epsilon). Pixels nothing contributed to resolve
// to zero rather than an error.
func (e *Engine) Normalize(acc *texture.Accumulator) {
	e.Dispatch2D(acc.Sum.Width, acc.Sum.Height, func(x, y int) {
		i := acc.Sum.Index(x, y)
		acc.Sum.Data[i] = float32(float64(acc.Sum.Data[i]) / (float64(acc.Weight.Data[i]) + normalizationEpsilon))
	})
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
