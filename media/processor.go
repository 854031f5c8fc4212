package media

import (
	"fmt"
	"image"
	"image/color"
	"log"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/camden-git/facetagger/models"
)

const (
	overlayThickness = 2
	overlayFontScale = 0.5
)

var (
	untaggedColor = color.RGBA{0, 0, 255, 0}
	taggedColor   = color.RGBA{0, 200, 0, 0}
)

// Processor prepares images for detection and renders detection results.
// Both use the same scale so stored boxes line up with the rendered image.
type Processor struct {
	maxWidth int
}

func NewProcessor(maxWidth int) *Processor {
	return &Processor{maxWidth: maxWidth}
}

// LoadForDetection decodes the image at path applying its EXIF orientation and
// downscales it to at most the configured width, keeping the aspect ratio.
func (p *Processor) LoadForDetection(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("invalid image dimensions for %s: %dx%d", path, bounds.Dx(), bounds.Dy())
	}
	if p.maxWidth > 0 && bounds.Dx() > p.maxWidth {
		img = imaging.Resize(img, p.maxWidth, 0, imaging.Lanczos)
	}
	return img, nil
}

// RenderRegions draws regions and their tags onto the detection-scale image
// at path and returns it JPEG encoded.
func (p *Processor) RenderRegions(path string, regions []models.RegionView) ([]byte, error) {
	src, err := p.LoadForDetection(path)
	if err != nil {
		return nil, err
	}

	img, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image %s: %w", path, err)
	}
	defer img.Close()

	for _, region := range regions {
		rect := image.Rect(
			max(0, int(region.Box.Left)), max(0, int(region.Box.Top)),
			int(region.Box.Right), int(region.Box.Bottom),
		)
		label, c := region.Tag, taggedColor
		if label == "" {
			label, c = "Untagged", untaggedColor
		}
		gocv.Rectangle(&img, rect, c, overlayThickness)
		gocv.PutText(&img, label, image.Pt(rect.Min.X, max(10, rect.Min.Y-5)), gocv.FontHersheySimplex, overlayFontScale, c, 1)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image %s after drawing: %w", path, err)
	}
	defer buf.Close()

	log.Printf("processor: rendered %d region(s) for %s", len(regions), path)
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
