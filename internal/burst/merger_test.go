package burst

import (
	"testing"

	"burstmerge/internal/dng"
	"burstmerge/internal/texture"
)

func TestUniformMergeOfIdenticalFramesIsIdentity(t *testing.T) {
	frames := make([]*dng.Frame, 3)
	for i := range frames {
		f := makeFrame(8, 8, 2, 1000, 0, 0)
		for j := range f.Pixels {
			f.Pixels[j] = uint16(100 + j*3)
		}
		frames[i] = f
	}
	burst, err := NewBurst(frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := NewMerger(nil).Merge(burst, Options{Mode: ModeUniform})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if res.Width != 8 || res.Height != 8 {
		t.Fatalf("expected 8x8 result, got %dx%d", res.Width, res.Height)
	}
	if res.WhiteLevel != 1000 {
		t.Fatalf("expected unchanged white level 1000, got %d", res.WhiteLevel)
	}
	for j, want := range frames[0].Pixels {
		if res.Pixels[j] != want {
			t.Fatalf("pixel %d: expected %d, got %d", j, want, res.Pixels[j])
		}
	}
}

func TestBracketedMergeExtendsWhiteLevel(t *testing.T) {
	dark := makeFrame(8, 8, 2, 1000, 0, 200)
	bright := makeFrame(8, 8, 2, 1000, 200, 608)
	burst, err := NewBurst([]*dng.Frame{bright, dark})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := NewMerger(nil).Merge(burst, Options{Mode: ModeExposureWeighted})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	// +200 EV headroom quadruples the write-back range.
	if res.WhiteLevel != 4000 {
		t.Fatalf("expected extended white level 4000, got %d", res.WhiteLevel)
	}
	if len(res.Pixels) != 64 {
		t.Fatalf("expected 64 pixels, got %d", len(res.Pixels))
	}
}

func TestBracketedWhiteLevelCappedAt16Bit(t *testing.T) {
	dark := makeFrame(8, 8, 2, 16383, 0, 200)
	bright := makeFrame(8, 8, 2, 16383, 300, 400)
	burst, err := NewBurst([]*dng.Frame{dark, bright})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := NewMerger(nil).Merge(burst, Options{Mode: ModeExposureWeighted})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if res.WhiteLevel > 65535 {
		t.Fatalf("white level %d exceeds 16-bit range", res.WhiteLevel)
	}
}

func TestReferenceFrameIsDarkest(t *testing.T) {
	frames := []*dng.Frame{
		makeFrame(8, 8, 2, 1000, 100, 100),
		makeFrame(8, 8, 2, 1000, -100, 100),
		makeFrame(8, 8, 2, 1000, -100, 100),
	}
	burst, err := NewBurst(frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := referenceFrame(burst); got != 1 {
		t.Fatalf("expected reference frame 1 (first darkest), got %d", got)
	}
}

func TestMergeRejectsOffsetCountMismatch(t *testing.T) {
	burst, err := NewBurst([]*dng.Frame{
		makeFrame(8, 8, 2, 1000, 0, 100),
		makeFrame(8, 8, 2, 1000, 0, 100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = NewMerger(nil).Merge(burst, Options{Offsets: []*OffsetMap{nil}})
	if err == nil {
		t.Fatal("expected error for offset count mismatch, got nil")
	}
}

func TestMergeAppliesAlignmentOffsets(t *testing.T) {
	// Frame B is frame A shifted right by one mosaic period; the offset
	// map undoes the shift so the merge stays an identity in the interior.
	a := makeFrame(8, 8, 2, 1000, 0, 0)
	b := makeFrame(8, 8, 2, 1000, 0, 0)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			v := uint16(100 + (y*8+x)*2)
			a.Pixels[y*8+x] = v
			if x+2 < 8 {
				b.Pixels[y*8+x+2] = v
			}
		}
	}
	burst, err := NewBurst([]*dng.Frame{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dx, err := texture.NewFloat(1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dy, err := texture.NewFloat(1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dx.Data[0] = 2

	res, err := NewMerger(nil).Merge(burst, Options{
		Mode:    ModeUniform,
		Offsets: []*OffsetMap{nil, {DX: dx, DY: dy}},
	})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	// Interior pixels of both frames agree after warping, so the average
	// reproduces frame A exactly there.
	for y := 0; y < 8; y++ {
		for x := 0; x < 6; x++ {
			want := a.Pixels[y*8+x]
			if got := res.Pixels[y*8+x]; got != want {
				t.Fatalf("pixel (%d,%d): expected %d, got %d", x, y, want, got)
			}
		}
	}
}

func TestMergeEmptyBurst(t *testing.T) {
	if _, err := NewMerger(nil).Merge(nil, Options{}); err != ErrEmptyBurst {
		t.Fatalf("expected ErrEmptyBurst, got %v", err)
	}
}
