package burst

import (
	"errors"
	"fmt"
	"math"

	"burstmerge/internal/kernel"
	"burstmerge/internal/texture"
)

// Mode selects how frame contributions are weighted.
type Mode int

const (
	// ModeUniform averages every frame equally; the mode for
	// equal-exposure bursts.
	ModeUniform Mode = iota
	// ModeExposureWeighted favors better-exposed frames per pixel; the
	// mode for bracketed bursts. The darkest frame is the reference and
	// contributes uniformly.
	ModeExposureWeighted
)

// padMultiple keeps padded dimensions friendly to tile-based consumers
// while preserving the mosaic phase (it is a multiple of both supported
// periods).
const padMultiple = 36

// Options tunes a merge run. The zero value is a sensible uniform merge.
type Options struct {
	Mode Mode
	// HighlightHalfWidth overrides the clipping-anticipation radius of the
	// exposure-weighted mode; zero keeps the kernel default.
	HighlightHalfWidth int
	// ExtrapolateHighlights enables green-channel recovery in uniform
	// mode (period-2 mosaics only).
	ExtrapolateHighlights bool
	// DisableHotPixels skips detection even when the correction strength
	// is above the no-op threshold.
	DisableHotPixels bool
	// Offsets optionally supplies externally computed alignment offsets,
	// one entry per frame (nil entries mean no displacement). Offset maps
	// are tile-resolution and upsampled here.
	Offsets []*OffsetMap
}

// OffsetMap carries per-tile alignment displacements in pixels for one
// frame, X and Y as separate single-channel textures of equal tile grid
// size.
type OffsetMap struct {
	DX *texture.Float
	DY *texture.Float
}

// Result is the merged burst ready for write-back: a mosaic-layout uint16
// buffer at sensor dimensions with its (possibly extended) white level.
type Result struct {
	Pixels     []uint16
	Width      int
	Height     int
	WhiteLevel int
	// HotPixels is the number of sites the detector flagged, zero when
	// detection was skipped or unsupported.
	HotPixels int
}

// Merger runs the merge pipeline on a compute engine.
type Merger struct {
	eng *kernel.Engine
}

// NewMerger wraps an engine; a nil engine gets a default one.
func NewMerger(eng *kernel.Engine) *Merger {
	if eng == nil {
		eng = kernel.NewEngine(0, 0)
	}
	return &Merger{eng: eng}
}

// Merge runs the full per-burst flow: hot-pixel detection on the burst
// average, per-frame preparation and accumulation in index order,
// normalization, crop back to sensor dimensions and quantization.
func (m *Merger) Merge(b *Burst, opts Options) (*Result, error) {
	if b == nil || len(b.Frames) == 0 {
		return nil, ErrEmptyBurst
	}
	if opts.Offsets != nil && len(opts.Offsets) != len(b.Frames) {
		return nil, fmt.Errorf("got %d offset maps for %d frames", len(opts.Offsets), len(b.Frames))
	}
	cal := b.Calibration

	correction, hotCount, err := m.detectHotPixels(b, opts)
	if err != nil {
		return nil, err
	}

	refIdx := referenceFrame(b)
	refBias := b.Frames[refIdx].ExposureBias

	padRight := pad(b.Width)
	padBottom := pad(b.Height)
	paddedW := b.Width + padRight
	paddedH := b.Height + padBottom

	acc, err := texture.NewAccumulator(paddedW, paddedH)
	if err != nil {
		return nil, err
	}

	maxBias := refBias
	for i, f := range b.Frames {
		if f.ExposureBias > maxBias {
			maxBias = f.ExposureBias
		}

		prep := kernel.PrepareParams{
			Period:      b.Period,
			BlackLevels: cal.BlackLevels,
			Correction:  correction,
			PadRight:    padRight,
			PadBottom:   padBottom,
		}
		if opts.Mode == ModeExposureWeighted {
			// Equalize every frame down to the reference exposure; the
			// headroom is restored at quantization time.
			prep.ExposureDiff = refBias - f.ExposureBias
		}
		tex, err := m.eng.PrepareTexture(f.Pixels, f.Width, f.Height, prep)
		if err != nil {
			return nil, err
		}

		if opts.Offsets != nil && opts.Offsets[i] != nil {
			tex, err = m.warp(tex, opts.Offsets[i], b.Period)
			if err != nil {
				return nil, err
			}
		}

		switch {
		case opts.Mode == ModeUniform:
			err = m.eng.AccumulateUniform(acc, tex, kernel.UniformParams{
				FrameCount:            len(b.Frames),
				WhiteLevel:            float64(cal.WhiteLevel),
				ColorFactors:          f.ColorFactors,
				ExtrapolateHighlights: opts.ExtrapolateHighlights && b.Period == 2,
			})
		case i == refIdx:
			// The darkest frame anchors the bracketed merge with a plain
			// uniform contribution.
			err = m.eng.AccumulateUniform(acc, tex, kernel.UniformParams{
				FrameCount:   1,
				WhiteLevel:   float64(cal.WhiteLevel),
				ColorFactors: f.ColorFactors,
			})
		default:
			err = m.eng.AccumulateExposureWeighted(acc, tex, kernel.ExposureParams{
				Period:             b.Period,
				ExposureBias:       f.ExposureBias - refBias,
				WhiteLevel:         float64(cal.WhiteLevel),
				BlackLevels:        cal.BlackLevels,
				ColorFactors:       f.ColorFactors,
				HighlightHalfWidth: opts.HighlightHalfWidth,
			})
		}
		if err != nil {
			return nil, err
		}
	}

	m.eng.Normalize(acc)

	merged := acc.Sum
	if padRight > 0 || padBottom > 0 {
		merged, err = m.eng.Crop(merged, 0, 0, b.Width, b.Height)
		if err != nil {
			return nil, err
		}
	}

	// Bracketed merges extend the write-back range by the reference-
	// relative gain so recovered highlights survive quantization.
	factor := 1.0
	outWhite := cal.WhiteLevel
	if opts.Mode == ModeExposureWeighted && maxBias > refBias {
		factor = math.Exp2(float64(maxBias-refBias) / 100)
		if limit := float64(math.MaxUint16) / float64(cal.WhiteLevel); factor > limit {
			factor = limit
		}
		outWhite = int(math.Round(float64(cal.WhiteLevel) * factor))
	}

	pixels, err := m.eng.QuantizeUint16(merged, factor, cal.BlackLevels, b.Period, outWhite)
	if err != nil {
		return nil, err
	}

	return &Result{
		Pixels:     pixels,
		Width:      b.Width,
		Height:     b.Height,
		WhiteLevel: outWhite,
		HotPixels:  hotCount,
	}, nil
}

// detectHotPixels runs the detector on the burst-averaged raw texture. An
// unsupported mosaic period degrades to no correction instead of failing
// the merge.
func (m *Merger) detectHotPixels(b *Burst, opts Options) (*texture.Float, int, error) {
	if opts.DisableHotPixels {
		return nil, 0, nil
	}
	avg, err := texture.NewFloat(b.Width, b.Height)
	if err != nil {
		return nil, 0, err
	}
	inv := float32(1) / float32(len(b.Frames))
	for _, f := range b.Frames {
		for i, v := range f.Pixels {
			avg.Data[i] += float32(v) * inv
		}
	}
	correction, err := m.eng.DetectHotPixels(avg, kernel.HotPixelParams{
		Period:      b.Period,
		BlackLevels: b.Calibration.BlackLevels,
		Strength:    b.Calibration.Strength,
	})
	if err != nil {
		if errors.Is(err, kernel.ErrUnsupportedMosaic) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	if correction == nil {
		return nil, 0, nil
	}
	count := 0
	for _, w := range correction.Data {
		if w > 0 {
			count++
		}
	}
	return correction, count, nil
}

// warp displaces a prepared frame by its alignment offsets. Tile offsets
// are nearest-neighbor upsampled to full resolution and rounded to mosaic-
// period multiples so the CFA phase is preserved; out-of-range reads fall
// back to zero like the padding border.
func (m *Merger) warp(in *texture.Float, off *OffsetMap, period int) (*texture.Float, error) {
	if off.DX == nil || off.DY == nil || !off.DX.SameShape(off.DY) {
		return nil, fmt.Errorf("offset map requires matching dx/dy textures")
	}
	dx, err := m.eng.UpsampleNearest(off.DX, in.Width, in.Height)
	if err != nil {
		return nil, err
	}
	dy, err := m.eng.UpsampleNearest(off.DY, in.Width, in.Height)
	if err != nil {
		return nil, err
	}
	out, err := texture.NewFloat(in.Width, in.Height)
	if err != nil {
		return nil, err
	}
	m.eng.Dispatch2D(in.Width, in.Height, func(x, y int) {
		sx := x + roundToPeriod(float64(dx.At(x, y)), period)
		sy := y + roundToPeriod(float64(dy.At(x, y)), period)
		if sx < 0 || sx >= in.Width || sy < 0 || sy >= in.Height {
			return
		}
		out.Set(x, y, in.At(sx, sy))
	})
	return out, nil
}

func roundToPeriod(v float64, period int) int {
	return period * int(math.Round(v/float64(period)))
}

// referenceFrame picks the darkest frame, first wins on ties.
func referenceFrame(b *Burst) int {
	ref := 0
	for i, f := range b.Frames {
		if f.ExposureBias < b.Frames[ref].ExposureBias {
			ref = i
		}
	}
	return ref
}

func pad(dim int) int {
	return (padMultiple - dim%padMultiple) % padMultiple
}
