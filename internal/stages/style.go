package stages

import (
	"image"

	"github.com/disintegration/imaging"
)

// StyleModel applies an artistic style to an image at a requested output
// size. Implementations are loaded and cached per style id by the worker's
// model cache.
type StyleModel interface {
	ID() string
	Apply(img image.Image, size int) (image.Image, error)
}

// ToneStyle is the built-in style family: a tone-mapping recipe expressed as
// gamma, contrast and saturation adjustments with an optional painterly blur.
// It stands in for the neural style weights in development and doubles as the
// reference implementation of the StyleModel contract.
type ToneStyle struct {
	Name       string
	Gamma      float64
	Contrast   float64
	Saturation float64
	Softness   float64
}

func (s ToneStyle) ID() string { return s.Name }

func (s ToneStyle) Apply(img image.Image, size int) (image.Image, error) {
	out := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	if s.Softness > 0 {
		out = imaging.Blur(out, s.Softness)
	}
	if s.Gamma != 0 {
		out = imaging.AdjustGamma(out, s.Gamma)
	}
	if s.Contrast != 0 {
		out = imaging.AdjustContrast(out, s.Contrast)
	}
	if s.Saturation != 0 {
		out = imaging.AdjustSaturation(out, s.Saturation)
	}
	return out, nil
}
