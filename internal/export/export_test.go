package export

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"burstmerge/internal/burst"
	"burstmerge/internal/config"
)

func testResult() *burst.Result {
	pixels := make([]uint16, 16)
	for i := range pixels {
		pixels[i] = uint16(i * 60)
	}
	return &burst.Result{Pixels: pixels, Width: 4, Height: 4, WhiteLevel: 1000}
}

func TestNativeExportWritesRendition(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(&config.Export{
		Preferred: "native",
		Format:    "tiff",
		Preview:   true,
	}, slog.Default())

	raw := filepath.Join(dir, "stack_merged.dng")
	written, err := mgr.Export(testResult(), raw)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected rendition + preview, got %v", written)
	}
	for _, p := range written {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
		if info.Size() == 0 {
			t.Fatalf("expected non-empty file at %s", p)
		}
	}
}

func TestManagerFallsBackWhenPreferredUnknown(t *testing.T) {
	mgr := NewManager(&config.Export{
		Preferred: "no-such-tool",
		Fallbacks: []string{"native"},
		Format:    "png",
	}, slog.Default())
	tool, err := mgr.pick()
	if err != nil {
		t.Fatalf("expected fallback pick, got error: %v", err)
	}
	if tool.Name() != "native" {
		t.Fatalf("expected native fallback, got %s", tool.Name())
	}
}

func TestManagerErrorsWithoutTools(t *testing.T) {
	mgr := NewManager(&config.Export{Preferred: "nope"}, slog.Default())
	if _, err := mgr.pick(); err == nil {
		t.Fatal("expected error when no tool matches, got nil")
	}
}

func TestGrayImageScalesToFullRange(t *testing.T) {
	res := &burst.Result{Pixels: []uint16{0, 500, 1000, 1000}, Width: 2, Height: 2, WhiteLevel: 1000}
	img := grayImage(res)
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := img.Gray16At(0, 1).Y; got != 65535 {
		t.Fatalf("expected full range 65535, got %d", got)
	}
}
