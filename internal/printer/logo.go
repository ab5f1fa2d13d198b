package printer

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
)

// dotsPerColumn is the font A cell width on 203 dpi printers.
const dotsPerColumn = 12

// LoadLogo decodes a PNG or JPEG file and scales it to width dots, keeping the
// aspect ratio. Images narrower than width are left alone.
func LoadLogo(path string, width int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open logo: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode logo %s: %w", path, err)
	}

	return fitWidth(img, width), nil
}

func fitWidth(img image.Image, width int) image.Image {
	if width <= 0 || img.Bounds().Dx() <= width {
		return img
	}
	return resize.Resize(uint(width), 0, img, resize.Lanczos3)
}
