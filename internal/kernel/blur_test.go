package kernel

import (
	"math"
	"testing"

	"burstmerge/internal/texture"
)

func constantTexture(t *testing.T, w, h int, v float32) *texture.Float {
	t.Helper()
	tex, err := texture.NewFloat(w, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range tex.Data {
		tex.Data[i] = v
	}
	return tex
}

func TestBlurZeroHalfWidthIsIdentity(t *testing.T) {
	eng := NewEngine(0, 0)
	in, err := texture.NewFloat(6, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in.Data {
		in.Data[i] = float32(i)
	}
	out, err := eng.BlurMosaic(in, 2, 0)
	if err != nil {
		t.Fatalf("blur failed: %v", err)
	}
	for i := range in.Data {
		if out.Data[i] != in.Data[i] {
			t.Fatalf("sample %d: expected %g, got %g", i, in.Data[i], out.Data[i])
		}
	}
}

// Border taps are omitted with the weight total shrinking to match, so a
// constant image must stay constant all the way to the edges.
func TestBlurConstantStaysConstant(t *testing.T) {
	eng := NewEngine(0, 0)
	in := constantTexture(t, 16, 12, 37.5)
	for _, hw := range []int{1, 2, 4, 8, 16} {
		out, err := eng.BlurMosaic(in, 2, hw)
		if err != nil {
			t.Fatalf("half-width %d: blur failed: %v", hw, err)
		}
		for i, v := range out.Data {
			if math.Abs(float64(v)-37.5) > 1e-4 {
				t.Fatalf("half-width %d, sample %d: expected 37.5, got %g", hw, i, v)
			}
		}
	}
}

// Taps step by the mosaic period, so samples of one subpixel phase must
// never bleed into another.
func TestBlurPreservesChannelSeparation(t *testing.T) {
	eng := NewEngine(0, 0)
	in, err := texture.NewFloat(12, 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Light up only the (0,0) phase of a period-2 mosaic.
	for y := 0; y < 12; y += 2 {
		for x := 0; x < 12; x += 2 {
			in.Set(x, y, 100)
		}
	}
	out, err := eng.BlurMosaic(in, 2, 2)
	if err != nil {
		t.Fatalf("blur failed: %v", err)
	}
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			v := float64(out.At(x, y))
			if x%2 == 0 && y%2 == 0 {
				if math.Abs(v-100) > 1e-4 {
					t.Fatalf("(%d,%d): expected 100 on the lit phase, got %g", x, y, v)
				}
			} else if v != 0 {
				t.Fatalf("(%d,%d): expected 0 on unlit phase, got %g", x, y, v)
			}
		}
	}
}

func TestBlurRejectsUnknownHalfWidth(t *testing.T) {
	eng := NewEngine(0, 0)
	in := constantTexture(t, 8, 8, 1)
	if _, err := eng.BlurMosaic(in, 2, 11); err == nil {
		t.Fatal("expected error for unsupported half-width, got nil")
	}
}

func TestBlurSmoothsAnImpulse(t *testing.T) {
	eng := NewEngine(0, 0)
	in, err := texture.NewFloat(18, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in.Set(8, 8, 120)
	out, err := eng.BlurMosaic(in, 2, 2)
	if err != nil {
		t.Fatalf("blur failed: %v", err)
	}
	center := float64(out.At(8, 8))
	if center <= 0 || center >= 120 {
		t.Fatalf("expected attenuated center value in (0,120), got %g", center)
	}
	// Energy spreads to same-phase neighbors within the kernel footprint.
	if v := out.At(10, 8); v <= 0 {
		t.Fatalf("expected positive spread at (10,8), got %g", v)
	}
	if v := out.At(8, 12); v <= 0 {
		t.Fatalf("expected positive spread at (8,12), got %g", v)
	}
}
