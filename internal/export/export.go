// Package export renders merged mosaic results into viewable image files:
// a 16-bit TIFF or PNG rendition plus an optional tone-mapped WebP preview.
package export

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"

	"burstmerge/internal/burst"
	"burstmerge/internal/config"
	"burstmerge/internal/logging"
)

// Tool renders one merged result into a file.
type Tool interface {
	Name() string
	Available() bool
	Export(res *burst.Result, format, path string) error
}

// Manager handles tool selection and fallbacks for rendered exports,
// preferring the configured tool and walking the fallback list when it is
// unavailable.
type Manager struct {
	cfg   *config.Export
	log   *slog.Logger
	tools map[string]Tool
}

// NewManager creates an export manager with the full tool set registered.
func NewManager(cfg *config.Export, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:   cfg,
		log:   logger,
		tools: make(map[string]Tool),
	}
	for _, t := range []Tool{newImagickTool(), newNativeTool()} {
		m.tools[t.Name()] = t
		logging.LogToolStatus(logger, t.Name(), t.Available(), "", "", nil)
	}
	return m
}

// pick returns the first available tool in preference order.
func (m *Manager) pick() (Tool, error) {
	names := append([]string{m.cfg.Preferred}, m.cfg.Fallbacks...)
	for _, name := range names {
		if t, ok := m.tools[name]; ok && t.Available() {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no available export tool among %v", names)
}

// Export writes the configured renditions next to the merged raw file and
// returns the paths written.
func (m *Manager) Export(res *burst.Result, rawPath string) ([]string, error) {
	tool, err := m.pick()
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(m.cfg.Format)
	if format != "png" {
		format = "tiff"
	}
	base := strings.TrimSuffix(rawPath, ".dng")

	var written []string
	rendition := base + "." + format
	if err := tool.Export(res, format, rendition); err != nil {
		return written, fmt.Errorf("%s export: %w", tool.Name(), err)
	}
	written = append(written, rendition)
	m.log.Debug("rendition written", "tool", tool.Name(), "path", rendition)

	if m.cfg.Preview {
		preview := base + ".webp"
		if err := writePreview(res, preview); err != nil {
			return written, fmt.Errorf("preview export: %w", err)
		}
		written = append(written, preview)
	}
	return written, nil
}

// grayImage converts the merged mosaic into a full-range 16-bit grayscale
// image, scaling the white level up to the format maximum.
func grayImage(res *burst.Result) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, res.Width, res.Height))
	scale := 1.0
	if res.WhiteLevel > 0 {
		scale = math.MaxUint16 / float64(res.WhiteLevel)
	}
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			v := float64(res.Pixels[y*res.Width+x]) * scale
			if v > math.MaxUint16 {
				v = math.MaxUint16
			}
			i := img.PixOffset(x, y)
			u := uint16(v)
			img.Pix[i] = uint8(u >> 8)
			img.Pix[i+1] = uint8(u)
		}
	}
	return img
}
