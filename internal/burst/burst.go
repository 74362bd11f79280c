// Package burst loads a group of raw frames, derives the shared
// calibration facts, and drives the merge pipeline over them.
package burst

import (
	"errors"
	"fmt"

	"burstmerge/internal/dng"
	"burstmerge/internal/kernel"
	"burstmerge/internal/texture"
)

// ErrEmptyBurst reports a merge request without any frames.
var ErrEmptyBurst = errors.New("burst contains no frames")

// CalibrationSet is computed once per burst and immutable afterwards:
// every kernel invocation for the burst reads the same values.
type CalibrationSet struct {
	// BlackLevels holds period^2 per-subpixel black levels, measured from
	// masked sensor areas when frames report them, else taken from the
	// container metadata; either way averaged across the burst.
	BlackLevels []float64
	WhiteLevel  int
	// Strength is the burst-wide hot-pixel correction strength in [0,1].
	Strength float64
}

// Burst is a validated group of frames sharing sensor geometry and mosaic
// layout.
type Burst struct {
	Frames      []*dng.Frame
	Width       int
	Height      int
	Period      int
	Calibration *CalibrationSet
}

// LoadBurst reads every path and assembles a validated burst. A frame with
// malformed metadata is fatal for the whole burst.
func LoadBurst(paths []string) (*Burst, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyBurst
	}
	frames := make([]*dng.Frame, 0, len(paths))
	for _, p := range paths {
		f, err := dng.ReadFrame(p)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return NewBurst(frames)
}

// NewBurst validates pre-decoded frames and derives the calibration set.
func NewBurst(frames []*dng.Frame) (*Burst, error) {
	if len(frames) == 0 {
		return nil, ErrEmptyBurst
	}
	first := frames[0]
	for _, f := range frames[1:] {
		if f.Width != first.Width || f.Height != first.Height {
			return nil, fmt.Errorf("frame %s is %dx%d, burst is %dx%d",
				f.Path, f.Width, f.Height, first.Width, first.Height)
		}
		if f.MosaicPeriod != first.MosaicPeriod {
			return nil, fmt.Errorf("frame %s has mosaic period %d, burst has %d",
				f.Path, f.MosaicPeriod, first.MosaicPeriod)
		}
	}

	cal, err := calibrate(frames)
	if err != nil {
		return nil, err
	}
	return &Burst{
		Frames:      frames,
		Width:       first.Width,
		Height:      first.Height,
		Period:      first.MosaicPeriod,
		Calibration: cal,
	}, nil
}

// calibrate measures per-subpixel black levels and the burst-wide
// correction strength. Masked-area measurements take precedence over the
// metadata black levels because they reflect the sensor state of this very
// burst.
func calibrate(frames []*dng.Frame) (*CalibrationSet, error) {
	period := frames[0].MosaicPeriod
	n := period * period

	// The clipping point is shared across a burst in practice; a mixed
	// burst keeps the most conservative value.
	white := frames[0].WhiteLevel
	for _, f := range frames[1:] {
		if f.WhiteLevel < white {
			white = f.WhiteLevel
		}
	}

	eng := kernel.NewEngine(0, 0)
	sums := make([]float64, n)
	counted := 0
	for _, f := range frames {
		levels := measuredBlackLevels(eng, f)
		if levels == nil {
			levels = f.BlackLevels
		}
		if len(levels) != n {
			continue
		}
		for i, v := range levels {
			sums[i] += v
		}
		counted++
	}
	if counted == 0 {
		return nil, fmt.Errorf("%w: no usable black levels in burst", dng.ErrMalformedMetadata)
	}
	levels := make([]float64, n)
	for i := range levels {
		levels[i] = sums[i] / float64(counted)
	}

	products := make([]float32, 0, len(frames))
	for _, f := range frames {
		if f.ISOExposureTime > 0 {
			products = append(products, f.ISOExposureTime)
		}
	}

	return &CalibrationSet{
		BlackLevels: levels,
		WhiteLevel:  white,
		Strength:    kernel.CorrectionStrength(products),
	}, nil
}

// measuredBlackLevels averages the masked (optically black) rectangles of
// one frame per subpixel position. Returns nil when the frame reports no
// usable rectangle.
func measuredBlackLevels(eng *kernel.Engine, f *dng.Frame) []float64 {
	if len(f.MaskedAreas) == 0 {
		return nil
	}
	tex, err := frameTexture(f)
	if err != nil {
		return nil
	}
	rects := make([]kernel.Rect, 0, len(f.MaskedAreas))
	for _, a := range f.MaskedAreas {
		rects = append(rects, kernel.Rect{Top: a.Top, Left: a.Left, Bottom: a.Bottom, Right: a.Right})
	}
	return eng.MaskedBlackLevels(tex, rects, f.MosaicPeriod)
}

// frameTexture converts the raw integer samples into a float texture
// without any calibration applied.
func frameTexture(f *dng.Frame) (*texture.Float, error) {
	tex, err := texture.NewFloat(f.Width, f.Height)
	if err != nil {
		return nil, err
	}
	for i, v := range f.Pixels {
		tex.Data[i] = float32(v)
	}
	return tex, nil
}
