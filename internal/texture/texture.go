package texture

import (
	"fmt"
)

// Layout describes how samples in a Float texture map to sensor sites.
type Layout int

const (
	// LayoutMosaic is the native sensor layout: one sample per site.
	LayoutMosaic Layout = iota
	// LayoutPacked packs a 2x2 same-period quad into one 4-channel sample,
	// halving each dimension.
	LayoutPacked
)

// maxTextureDim bounds allocations; a full-frame sensor padded for the
// alignment search radius stays well below this.
const maxTextureDim = 1 << 16

// Float is a 2-D buffer of float32 samples, row major, channel interleaved.
// Every processing stage allocates a fresh output Float and treats its
// inputs as read only.
type Float struct {
	Width    int
	Height   int
	Channels int // 1 for mosaic layout, 4 for packed layout
	Layout   Layout
	Data     []float32 // len = Width*Height*Channels
}

// NewFloat allocates a zero-filled mosaic-layout texture.
func NewFloat(w, h int) (*Float, error) {
	return newFloat(w, h, 1, LayoutMosaic)
}

// NewPacked allocates a zero-filled packed-layout texture (4 channels).
func NewPacked(w, h int) (*Float, error) {
	return newFloat(w, h, 4, LayoutPacked)
}

func newFloat(w, h, channels int, layout Layout) (*Float, error) {
	if w <= 0 || h <= 0 || w > maxTextureDim || h > maxTextureDim {
		return nil, fmt.Errorf("texture allocation failed: invalid dimensions %dx%d", w, h)
	}
	return &Float{
		Width:    w,
		Height:   h,
		Channels: channels,
		Layout:   layout,
		Data:     make([]float32, w*h*channels),
	}, nil
}

// NewLike allocates a zero-filled w x h texture with the channel count and
// layout of the prototype.
func NewLike(proto *Float, w, h int) (*Float, error) {
	return newFloat(w, h, proto.Channels, proto.Layout)
}

// Index returns the offset of sample (x, y) channel 0.
func (t *Float) Index(x, y int) int {
	return (y*t.Width + x) * t.Channels
}

// At returns the channel-0 sample at (x, y).
func (t *Float) At(x, y int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels]
}

// AtC returns channel c of the sample at (x, y).
func (t *Float) AtC(x, y, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Set stores v into channel 0 at (x, y).
func (t *Float) Set(x, y int, v float32) {
	t.Data[(y*t.Width+x)*t.Channels] = v
}

// SetC stores v into channel c at (x, y).
func (t *Float) SetC(x, y, c int, v float32) {
	t.Data[(y*t.Width+x)*t.Channels+c] = v
}

// Clone returns a deep copy.
func (t *Float) Clone() *Float {
	out := &Float{
		Width:    t.Width,
		Height:   t.Height,
		Channels: t.Channels,
		Layout:   t.Layout,
		Data:     make([]float32, len(t.Data)),
	}
	copy(out.Data, t.Data)
	return out
}

// SameShape reports whether two textures have identical geometry.
func (t *Float) SameShape(o *Float) bool {
	return t.Width == o.Width && t.Height == o.Height && t.Channels == o.Channels
}

// Accumulator pairs a running sum texture with its per-pixel weight
// texture during a merge. It is created zero-filled, mutated by each
// frame's contribution, resolved exactly once by normalization and then
// discarded.
type Accumulator struct {
	Sum    *Float
	Weight *Float
}

// NewAccumulator allocates a zero-filled sum/weight pair with the given
// mosaic-layout geometry.
func NewAccumulator(w, h int) (*Accumulator, error) {
	sum, err := NewFloat(w, h)
	if err != nil {
		return nil, err
	}
	weight, err := NewFloat(w, h)
	if err != nil {
		return nil, err
	}
	return &Accumulator{Sum: sum, Weight: weight}, nil
}
