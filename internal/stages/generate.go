package stages

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/jbellot/iris-art/internal/domain"
)

// GenerativeModel synthesizes a unique artwork from segmented iris patterns.
// The production model is a diffusion pipeline behind the worker's model
// cache; MandalaGenerator is the development substitute.
type GenerativeModel interface {
	Generate(src image.Image, mask *image.Gray, size int) (image.Image, error)
}

// MandalaGenerator composes a radial kaleidoscope from the masked iris
// region: the crop is rotated around the center in equal steps and the copies
// are overlaid at decreasing opacity.
type MandalaGenerator struct {
	Petals int
}

func (g MandalaGenerator) Generate(src image.Image, mask *image.Gray, size int) (image.Image, error) {
	region := maskBounds(mask)
	if region.Empty() {
		return nil, domain.QualityError(
			"No iris region available for generation",
			"Process the photo first so the iris can be detected.",
		)
	}
	petals := g.Petals
	if petals <= 0 {
		petals = 8
	}

	crop := imaging.Crop(src, region)
	tile := imaging.Fit(crop, size/2, size/2, imaging.Lanczos)
	canvas := imaging.New(size, size, averageColor(crop))

	for i := 0; i < petals; i++ {
		angle := float64(i) * 360.0 / float64(petals)
		rotated := imaging.Rotate(tile, angle, color.Transparent)
		offset := image.Pt((size-rotated.Bounds().Dx())/2, (size-rotated.Bounds().Dy())/2)
		opacity := 1.0 - float64(i)/float64(2*petals)
		canvas = imaging.Overlay(canvas, rotated, offset, opacity)
	}

	return imaging.AdjustSaturation(imaging.Sharpen(canvas, 0.5), 15), nil
}

// maskBounds returns the bounding box of the set mask pixels.
func maskBounds(mask *image.Gray) image.Rectangle {
	b := mask.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX || maxY < minY {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}
