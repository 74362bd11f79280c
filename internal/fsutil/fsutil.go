package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var rawExts = map[string]struct{}{
	".dng": {},
	".tif": {},
	".tiff": {},
}

// ListRawFiles returns all raw-container files under root, sorted by path
// so burst frames always load in capture order.
func ListRawFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsRawFile(d.Name()) && !IsMergedOutput(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// IsRawFile checks if a file is a supported raw container format.
func IsRawFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := rawExts[ext]
	return ok
}

// IsMergedOutput reports whether the file is one of our own merge results.
// Outputs land next to their source frames and must never be re-ingested.
func IsMergedOutput(path string) bool {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.HasSuffix(stem, "_merged")
}

// GroupByDir splits raw files into one group per containing directory,
// preserving the sorted order within each group. Dropping a burst as a
// folder of frames is the ingestion convention.
func GroupByDir(files []string) map[string][]string {
	groups := make(map[string][]string)
	for _, f := range files {
		dir := filepath.Dir(f)
		groups[dir] = append(groups[dir], f)
	}
	return groups
}
