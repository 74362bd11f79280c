package dng

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testFrame() *Frame {
	w, h := 8, 6
	pixels := make([]uint16, w*h)
	for i := range pixels {
		pixels[i] = uint16(100 + i*7)
	}
	return &Frame{
		Width:        w,
		Height:       h,
		Pixels:       pixels,
		MosaicPeriod: 2,
		WhiteLevel:   16383,
		BlackLevels:  []float64{512, 513.5, 514, 515.25},
		MaskedAreas: []Area{
			{Top: 0, Left: 0, Bottom: 6, Right: 2},
		},
		ExposureBias:    -200,
		ISOExposureTime: 100.0 / 125.0,
		ColorFactors:    [3]float64{0.5, 1.0, 0.625},
		ISOSpeed:        100,
		ExposureTime:    [2]uint32{1, 125},
		ExposureBiasRat: [2]int32{-2, 1},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.dng")

	src := testFrame()
	if err := WriteDNG(path, src, src.Pixels, src.WhiteLevel); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := ReadFrame(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Width != src.Width || got.Height != src.Height {
		t.Fatalf("expected %dx%d, got %dx%d", src.Width, src.Height, got.Width, got.Height)
	}
	if got.MosaicPeriod != 2 {
		t.Fatalf("expected mosaic period 2, got %d", got.MosaicPeriod)
	}
	if got.WhiteLevel != src.WhiteLevel {
		t.Fatalf("expected white level %d, got %d", src.WhiteLevel, got.WhiteLevel)
	}
	for i, want := range src.BlackLevels {
		if math.Abs(got.BlackLevels[i]-want) > 1e-3 {
			t.Fatalf("black level %d: expected %g, got %g", i, want, got.BlackLevels[i])
		}
	}
	if len(got.MaskedAreas) != 1 || got.MaskedAreas[0] != src.MaskedAreas[0] {
		t.Fatalf("expected masked areas %v, got %v", src.MaskedAreas, got.MaskedAreas)
	}
	for c := 0; c < 3; c++ {
		if math.Abs(got.ColorFactors[c]-src.ColorFactors[c]) > 1e-5 {
			t.Fatalf("color factor %d: expected %g, got %g", c, src.ColorFactors[c], got.ColorFactors[c])
		}
	}
	if got.ExposureBias != -200 {
		t.Fatalf("expected exposure bias -200, got %d", got.ExposureBias)
	}
	if got.ISOSpeed != 100 {
		t.Fatalf("expected ISO 100, got %d", got.ISOSpeed)
	}
	if math.Abs(float64(got.ISOExposureTime)-100.0/125.0) > 1e-5 {
		t.Fatalf("expected ISO-exposure product %g, got %g", 100.0/125.0, got.ISOExposureTime)
	}
	for i, want := range src.Pixels {
		if got.Pixels[i] != want {
			t.Fatalf("pixel %d: expected %d, got %d", i, want, got.Pixels[i])
		}
	}
}

func TestReadRejectsMissingCalibration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.dng")

	src := testFrame()
	data, err := encodeDNG(src, src.Pixels, src.WhiteLevel)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	// Corrupt the CFA repeat pattern tag id so the mosaic metadata vanishes.
	count := int(uint16(data[8]) | uint16(data[9])<<8)
	for i := 0; i < count; i++ {
		pos := 10 + 12*i
		tag := uint16(data[pos]) | uint16(data[pos+1])<<8
		if tag == tagCFARepeatPatternDim {
			data[pos] = 0xff
			data[pos+1] = 0xff
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := ReadFrame(path); err == nil {
		t.Fatal("expected malformed-metadata error, got nil")
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.bin")
	if err := os.WriteFile(path, []byte("not a tiff at all"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := ReadFrame(path); err == nil {
		t.Fatal("expected error for non-TIFF input, got nil")
	}
}

func TestXTransPatternWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xtrans.dng")

	src := testFrame()
	src.Width, src.Height = 12, 12
	src.MosaicPeriod = 6
	src.BlackLevels = make([]float64, 36)
	for i := range src.BlackLevels {
		src.BlackLevels[i] = 1020
	}
	src.Pixels = make([]uint16, 144)
	for i := range src.Pixels {
		src.Pixels[i] = uint16(1020 + i)
	}

	if err := WriteDNG(path, src, src.Pixels, src.WhiteLevel); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err := ReadFrame(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.MosaicPeriod != 6 {
		t.Fatalf("expected mosaic period 6, got %d", got.MosaicPeriod)
	}
	if len(got.BlackLevels) != 36 {
		t.Fatalf("expected 36 black levels, got %d", len(got.BlackLevels))
	}
}
