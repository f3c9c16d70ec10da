package stages

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/jbellot/iris-art/internal/domain"
)

// Enhance upscales the image by the given factor with Lanczos resampling and
// a light sharpen pass. This is the Lanczos fallback path of the
// super-resolution stage; a real enhancement model slots in via the worker's
// model cache when its weights are deployed.
func Enhance(img image.Image, scale int) (*image.NRGBA, error) {
	if scale < 1 {
		return nil, domain.ServerError("Something went wrong. Please try again later.", nil)
	}
	b := img.Bounds()
	up := imaging.Resize(img, b.Dx()*scale, b.Dy()*scale, imaging.Lanczos)
	return imaging.Sharpen(up, 0.8), nil
}
