package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListRawFilesSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.dng"))
	touch(t, filepath.Join(dir, "a.DNG"))
	touch(t, filepath.Join(dir, "c.tif"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "dir_merged.dng"))

	files, err := ListRawFiles(dir)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 raw files, got %v", files)
	}
	if filepath.Base(files[0]) != "a.DNG" {
		t.Fatalf("expected sorted order, got %v", files)
	}
	for _, f := range files {
		if IsMergedOutput(f) {
			t.Fatalf("merged output leaked into listing: %s", f)
		}
	}
}

func TestIsRawFile(t *testing.T) {
	if !IsRawFile("frame.dng") || !IsRawFile("FRAME.TIFF") {
		t.Fatal("expected dng and tiff to be raw")
	}
	if IsRawFile("frame.jpg") || IsRawFile("frame") {
		t.Fatal("expected jpg and extensionless files to not be raw")
	}
}

func TestIsMergedOutput(t *testing.T) {
	if !IsMergedOutput("/bursts/night01/night01_merged.dng") {
		t.Fatal("expected merged output to be detected")
	}
	if IsMergedOutput("/bursts/night01/frame_01.dng") {
		t.Fatal("expected plain frame to pass")
	}
}

func TestGroupByDir(t *testing.T) {
	files := []string{
		"/inbox/a/f1.dng",
		"/inbox/a/f2.dng",
		"/inbox/b/f1.dng",
	}
	groups := GroupByDir(files)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups["/inbox/a"]) != 2 || len(groups["/inbox/b"]) != 1 {
		t.Fatalf("unexpected grouping: %v", groups)
	}
}
