package export

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"burstmerge/internal/burst"
)

var imagickInit sync.Once

// imagickTool renders through the ImageMagick bindings; preferred because
// it handles 16-bit TIFF and PNG with consistent metadata behavior.
type imagickTool struct{}

func newImagickTool() *imagickTool {
	return &imagickTool{}
}

func (t *imagickTool) Name() string { return "imagemagick" }

func (t *imagickTool) Available() bool { return true }

func (t *imagickTool) Export(res *burst.Result, format, path string) error {
	imagickInit.Do(imagick.Initialize)

	// ImageMagick float storage expects samples normalized to [0, 1].
	scale := float32(1)
	if res.WhiteLevel > 0 {
		scale = 1 / float32(res.WhiteLevel)
	}
	pixels := make([]float32, len(res.Pixels))
	for i, v := range res.Pixels {
		p := float32(v) * scale
		if p > 1 {
			p = 1
		}
		pixels[i] = p
	}

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ConstituteImage(uint(res.Width), uint(res.Height), "I", imagick.PIXEL_FLOAT, pixels); err != nil {
		return fmt.Errorf("constitute image: %w", err)
	}
	if err := mw.SetImageDepth(16); err != nil {
		return fmt.Errorf("set depth: %w", err)
	}
	if err := mw.SetImageFormat(strings.ToUpper(format)); err != nil {
		return fmt.Errorf("set format: %w", err)
	}
	if err := mw.WriteImage(path); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}
