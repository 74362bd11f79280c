// Package dng reads and writes the DNG/TIFF raw containers the merge
// pipeline consumes: the raw sensor mosaic plus the calibration metadata
// needed for black-level subtraction, exposure equalization and hot-pixel
// correction.
package dng

import (
	"errors"
	"fmt"
)

// ErrMalformedMetadata reports a raw container missing the mosaic or
// linearization metadata the pipeline depends on. It aborts ingestion of
// the frame and is fatal for the burst.
var ErrMalformedMetadata = errors.New("malformed raw metadata")

// Area is a masked (optically black) sensor rectangle, top/left inclusive,
// bottom/right exclusive, matching the tag order in the container.
type Area struct {
	Top, Left, Bottom, Right int
}

// MaxMaskedAreas bounds how many masked rectangles a frame reports.
const MaxMaskedAreas = 4

// Frame is one decoded burst frame: the integer pixel buffer plus the
// calibration facts extracted from the container.
type Frame struct {
	Path   string
	Width  int
	Height int
	Pixels []uint16 // one sample per sensor site, row major

	MosaicPeriod int       // side length of the repeating CFA pattern
	WhiteLevel   int       // maximum valid sensor output before clipping
	BlackLevels  []float64 // period^2 values, indexed (row%period)*period + col%period
	MaskedAreas  []Area    // up to MaxMaskedAreas rectangles

	ExposureBias    int        // EV * 100 relative to the burst reference
	ISOExposureTime float32    // ISO speed x exposure time product
	ColorFactors    [3]float64 // camera-neutral R/G/B factors

	// Raw EXIF values retained for write-back.
	ISOSpeed        int
	ExposureTime    [2]uint32 // rational seconds
	ExposureBiasRat [2]int32  // signed rational EV
}

func (f *Frame) validate() error {
	if f.MosaicPeriod < 1 {
		return fmt.Errorf("%w: missing mosaic pattern", ErrMalformedMetadata)
	}
	if len(f.BlackLevels) != f.MosaicPeriod*f.MosaicPeriod {
		return fmt.Errorf("%w: black-level count %d does not match mosaic period %d",
			ErrMalformedMetadata, len(f.BlackLevels), f.MosaicPeriod)
	}
	if f.WhiteLevel <= 0 {
		return fmt.Errorf("%w: missing white level", ErrMalformedMetadata)
	}
	if len(f.Pixels) != f.Width*f.Height {
		return fmt.Errorf("%w: pixel buffer %d does not match %dx%d",
			ErrMalformedMetadata, len(f.Pixels), f.Width, f.Height)
	}
	return nil
}
