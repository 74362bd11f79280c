package burst

import (
	"math"
	"testing"

	"burstmerge/internal/dng"
)

func makeFrame(w, h, period, white int, bias int, fill uint16) *dng.Frame {
	pixels := make([]uint16, w*h)
	for i := range pixels {
		pixels[i] = fill
	}
	levels := make([]float64, period*period)
	for i := range levels {
		levels[i] = 64
	}
	return &dng.Frame{
		Width:        w,
		Height:       h,
		Pixels:       pixels,
		MosaicPeriod: period,
		WhiteLevel:   white,
		BlackLevels:  levels,
		ExposureBias: bias,
		ColorFactors: [3]float64{0.5, 1.0, 0.5},
	}
}

func TestNewBurstRejectsMixedGeometry(t *testing.T) {
	a := makeFrame(8, 8, 2, 1000, 0, 100)
	b := makeFrame(8, 6, 2, 1000, 0, 100)
	if _, err := NewBurst([]*dng.Frame{a, b}); err == nil {
		t.Fatal("expected error for mixed frame dimensions, got nil")
	}

	c := makeFrame(8, 8, 6, 1000, 0, 100)
	c.BlackLevels = make([]float64, 36)
	if _, err := NewBurst([]*dng.Frame{a, c}); err == nil {
		t.Fatal("expected error for mixed mosaic periods, got nil")
	}
}

func TestNewBurstRejectsEmpty(t *testing.T) {
	if _, err := NewBurst(nil); err != ErrEmptyBurst {
		t.Fatalf("expected ErrEmptyBurst, got %v", err)
	}
}

func TestCalibrationAveragesMetadataLevels(t *testing.T) {
	a := makeFrame(8, 8, 2, 1000, 0, 100)
	b := makeFrame(8, 8, 2, 1000, 0, 100)
	for i := range a.BlackLevels {
		a.BlackLevels[i] = 60
		b.BlackLevels[i] = 70
	}
	burst, err := NewBurst([]*dng.Frame{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range burst.Calibration.BlackLevels {
		if math.Abs(v-65) > 1e-9 {
			t.Fatalf("black level %d: expected 65, got %g", i, v)
		}
	}
}

func TestCalibrationPrefersMaskedAreas(t *testing.T) {
	f := makeFrame(12, 12, 2, 1000, 0, 500)
	// The left 4 columns are optically black at 100; metadata says 64.
	for y := 0; y < 12; y++ {
		for x := 0; x < 4; x++ {
			f.Pixels[y*12+x] = 100
		}
	}
	f.MaskedAreas = []dng.Area{{Top: 0, Left: 0, Bottom: 12, Right: 4}}

	burst, err := NewBurst([]*dng.Frame{f})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range burst.Calibration.BlackLevels {
		if math.Abs(v-100) > 1e-6 {
			t.Fatalf("black level %d: expected measured 100, got %g", i, v)
		}
	}
}

func TestCalibrationUsesLowestWhiteLevel(t *testing.T) {
	a := makeFrame(8, 8, 2, 1000, 0, 100)
	b := makeFrame(8, 8, 2, 900, 0, 100)
	burst, err := NewBurst([]*dng.Frame{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if burst.Calibration.WhiteLevel != 900 {
		t.Fatalf("expected white level 900, got %d", burst.Calibration.WhiteLevel)
	}
}

func TestCorrectionStrengthZeroWithoutExposureData(t *testing.T) {
	f := makeFrame(8, 8, 2, 1000, 0, 100)
	burst, err := NewBurst([]*dng.Frame{f})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if burst.Calibration.Strength != 0 {
		t.Fatalf("expected strength 0, got %g", burst.Calibration.Strength)
	}
}
