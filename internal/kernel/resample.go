package kernel

import (
	"fmt"
	"math"

	"burstmerge/internal/texture"
)

// exactLookupTolerance guards bilinear upsampling against spurious
// blending at integer-multiple scale factors: back-mapped coordinates this
// close to an integer read the source sample directly.
const exactLookupTolerance = 1e-5

// PackQuads converts a mosaic-layout texture into the packed 4-channel
// layout, one sample per 2x2 quad, halving each dimension. cropLeft and
// cropTop shift the read origin.
func (e *Engine) PackQuads(in *texture.Float, cropLeft, cropTop int) (*texture.Float, error) {
	outW := (in.Width - cropLeft) / 2
	outH := (in.Height - cropTop) / 2
	out, err := texture.NewPacked(outW, outH)
	if err != nil {
		return nil, err
	}
	e.Dispatch2D(outW, outH, func(x, y int) {
		sx := cropLeft + 2*x
		sy := cropTop + 2*y
		i := out.Index(x, y)
		out.Data[i+0] = in.At(sx, sy)
		out.Data[i+1] = in.At(sx+1, sy)
		out.Data[i+2] = in.At(sx, sy+1)
		out.Data[i+3] = in.At(sx+1, sy+1)
	})
	return out, nil
}

// UnpackQuads converts a packed 4-channel texture back into mosaic layout,
// doubling each dimension. padLeft and padTop shift the write origin into a
// zero-filled output of the given size; outW/outH of zero default to the
// exact doubled size.
func (e *Engine) UnpackQuads(in *texture.Float, padLeft, padTop, outW, outH int) (*texture.Float, error) {
	if in.Channels != 4 {
		return nil, fmt.Errorf("unpack requires a packed texture, got %d channels", in.Channels)
	}
	if outW == 0 {
		outW = in.Width * 2
	}
	if outH == 0 {
		outH = in.Height * 2
	}
	out, err := texture.NewFloat(outW, outH)
	if err != nil {
		return nil, err
	}
	e.Dispatch2D(in.Width, in.Height, func(x, y int) {
		dx := padLeft + 2*x
		dy := padTop + 2*y
		if dx+1 >= outW || dy+1 >= outH {
			return
		}
		i := in.Index(x, y)
		out.Set(dx, dy, in.Data[i+0])
		out.Set(dx+1, dy, in.Data[i+1])
		out.Set(dx, dy+1, in.Data[i+2])
		out.Set(dx+1, dy+1, in.Data[i+3])
	})
	return out, nil
}

// Crop copies a w x h window starting at (left, top) into a fresh texture.
func (e *Engine) Crop(in *texture.Float, left, top, w, h int) (*texture.Float, error) {
	if left < 0 || top < 0 || left+w > in.Width || top+h > in.Height {
		return nil, fmt.Errorf("crop %dx%d+%d+%d exceeds source %dx%d", w, h, left, top, in.Width, in.Height)
	}
	out, err := texture.NewFloat(w, h)
	if err != nil {
		return nil, err
	}
	e.Dispatch2D(w, h, func(x, y int) {
		out.Set(x, y, in.At(left+x, top+y))
	})
	return out, nil
}

// Pad copies the source into a larger zero-filled texture offset by
// (left, top).
func (e *Engine) Pad(in *texture.Float, left, top, right, bottom int) (*texture.Float, error) {
	out, err := texture.NewFloat(in.Width+left+right, in.Height+top+bottom)
	if err != nil {
		return nil, err
	}
	e.Dispatch2D(in.Width, in.Height, func(x, y int) {
		out.Set(left+x, top+y, in.At(x, y))
	})
	return out, nil
}

// UpsampleBilinear resizes a mosaic texture to outW x outH with 2-D linear
// interpolation. Back-mapped coordinates within the exact-lookup tolerance
// of an integer read the source sample directly, so integer scale factors
// reproduce source samples exactly at their target positions.
func (e *Engine) UpsampleBilinear(in *texture.Float, outW, outH int) (*texture.Float, error) {
	out, err := texture.NewFloat(outW, outH)
	if err != nil {
		return nil, err
	}
	scaleX := float64(outW) / float64(in.Width)
	scaleY := float64(outH) / float64(in.Height)
	e.Dispatch2D(outW, outH, func(x, y int) {
		srcX := float64(x) / scaleX
		srcY := float64(y) / scaleY
		out.Set(x, y, sampleBilinear(in, srcX, srcY))
	})
	return out, nil
}

func sampleBilinear(in *texture.Float, srcX, srcY float64) float32 {
	rx := math.Round(srcX)
	ry := math.Round(srcY)
	exactX := math.Abs(srcX-rx) < exactLookupTolerance
	exactY := math.Abs(srcY-ry) < exactLookupTolerance
	if exactX && exactY {
		return in.At(clampI(int(rx), 0, in.Width-1), clampI(int(ry), 0, in.Height-1))
	}

	x0 := clampI(int(math.Floor(srcX)), 0, in.Width-1)
	y0 := clampI(int(math.Floor(srcY)), 0, in.Height-1)
	x1 := clampI(x0+1, 0, in.Width-1)
	y1 := clampI(y0+1, 0, in.Height-1)
	fx := srcX - float64(x0)
	fy := srcY - float64(y0)
	if exactX {
		fx = 0
		x0 = clampI(int(rx), 0, in.Width-1)
		x1 = x0
	}
	if exactY {
		fy = 0
		y0 = clampI(int(ry), 0, in.Height-1)
		y1 = y0
	}

	top := (1-fx)*float64(in.At(x0, y0)) + fx*float64(in.At(x1, y0))
	bottom := (1-fx)*float64(in.At(x0, y1)) + fx*float64(in.At(x1, y1))
	return float32((1-fy)*top + fy*bottom)
}

// UpsampleNearest resizes by rounding the back-mapped coordinate. Used for
// integer and categorical data such as alignment-offset maps, where
// interpolation would be meaningless.
func (e *Engine) UpsampleNearest(in *texture.Float, outW, outH int) (*texture.Float, error) {
	out, err := texture.NewLike(in, outW, outH)
	if err != nil {
		return nil, err
	}
	scaleX := float64(outW) / float64(in.Width)
	scaleY := float64(outH) / float64(in.Height)
	e.Dispatch2D(outW, outH, func(x, y int) {
		sx := clampI(int(math.Round(float64(x)/scaleX)), 0, in.Width-1)
		sy := clampI(int(math.Round(float64(y)/scaleY)), 0, in.Height-1)
		si := in.Index(sx, sy)
		di := out.Index(x, y)
		for c := 0; c < in.Channels; c++ {
			out.Data[di+c] = in.Data[si+c]
		}
	})
	return out, nil
}

// QuantizeUint16 converts a float texture to 16-bit samples for raw
// write-back: out = round(factor*(v - black) + black), clamped to
// [0, min(whiteLevel, 65535)], with the black level addressed per mosaic
// subpixel position.
func (e *Engine) QuantizeUint16(in *texture.Float, factor float64, blackLevels []float64, period int, whiteLevel int) ([]uint16, error) {
	if period < 1 || len(blackLevels) != period*period {
		return nil, fmt.Errorf("black-level array length %d does not match period %d", len(blackLevels), period)
	}
	limit := float64(whiteLevel)
	if limit > math.MaxUint16 {
		limit = math.MaxUint16
	}
	out := make([]uint16, in.Width*in.Height)
	e.Dispatch2D(in.Width, in.Height, func(x, y int) {
		black := blackLevels[(y%period)*period+(x%period)]
		v := math.Round(factor*(float64(in.At(x, y))-black) + black)
		out[y*in.Width+x] = uint16(clampF(v, 0, limit))
	})
	return out, nil
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
