package export

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/tiff"

	"burstmerge/internal/burst"
)

// nativeTool renders without external libraries: 16-bit grayscale TIFF or
// PNG straight from the mosaic buffer. The fallback when the ImageMagick
// path is not wanted.
type nativeTool struct{}

func newNativeTool() *nativeTool {
	return &nativeTool{}
}

func (t *nativeTool) Name() string { return "native" }

func (t *nativeTool) Available() bool { return true }

func (t *nativeTool) Export(res *burst.Result, format, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create rendition: %w", err)
	}
	defer f.Close()

	img := grayImage(res)
	switch format {
	case "png":
		err = png.Encode(f, img)
	default:
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}

// previewGamma approximates display encoding for the 8-bit preview.
const previewGamma = 2.2

// writePreview writes a small-footprint tone-mapped WebP preview of the
// merged mosaic.
func writePreview(res *burst.Result, path string) error {
	img := image.NewNRGBA(image.Rect(0, 0, res.Width, res.Height))
	scale := 1.0
	if res.WhiteLevel > 0 {
		scale = 1 / float64(res.WhiteLevel)
	}
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			lin := float64(res.Pixels[y*res.Width+x]) * scale
			if lin > 1 {
				lin = 1
			}
			v := uint8(math.Round(255 * math.Pow(lin, 1/previewGamma)))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	defer f.Close()
	if err := nativewebp.Encode(f, img, nil); err != nil {
		return fmt.Errorf("encode webp: %w", err)
	}
	return nil
}
