package stages

import (
	"image"

	"github.com/disintegration/imaging"
)

// reflectionLuma is the luminance above which a pixel inside the iris is
// treated as a specular reflection.
const reflectionLuma = 235

// Dereflect suppresses specular highlights inside the masked iris region by
// replacing near-white pixels with their blurred neighborhood, an inpainting
// approximation that reads naturally on iris texture.
func Dereflect(img image.Image, mask *image.Gray) *image.NRGBA {
	src := imaging.Clone(img)
	blurred := imaging.Blur(src, 6.0)
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y == 0 {
				continue
			}
			px := src.NRGBAAt(x, y)
			luma := (299*int(px.R) + 587*int(px.G) + 114*int(px.B)) / 1000
			if luma >= reflectionLuma {
				src.SetNRGBA(x, y, blurred.NRGBAAt(x, y))
			}
		}
	}
	return src
}
