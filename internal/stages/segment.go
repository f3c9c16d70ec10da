package stages

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/jbellot/iris-art/internal/domain"
)

// MinMaskCoverage is the quality gate for segmentation: below this fraction of
// frame area the iris was not found clearly enough to continue.
const MinMaskCoverage = 0.05

// SegmentationModel predicts a binary iris mask for an eye photo. The real
// model is a network inference wrapper loaded through the worker's model
// cache; a nil model selects the simulated centered-circle mask used in
// development.
type SegmentationModel interface {
	Predict(img image.Image) (*image.Gray, error)
}

// Segment isolates the iris from an eye image, returning the masked image and
// the binary mask. Insufficient mask coverage is a quality issue and is never
// retried.
func Segment(img image.Image, model SegmentationModel) (image.Image, *image.Gray, error) {
	var mask *image.Gray
	if model != nil {
		m, err := model.Predict(img)
		if err != nil {
			return nil, nil, domain.ServerError("Something went wrong. Please try again later.", err)
		}
		mask = m
	} else {
		mask = simulatedMask(img.Bounds())
	}

	if MaskCoverage(mask) < MinMaskCoverage {
		return nil, nil, domain.QualityError(
			"Iris not detected clearly - mask coverage too small",
			"Try capturing a new photo in better lighting with your eye centered.",
		)
	}

	return ApplyMask(img, mask), mask, nil
}

// MaskCoverage returns the fraction of mask pixels that are set.
func MaskCoverage(mask *image.Gray) float64 {
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	on := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y > 0 {
				on++
			}
		}
	}
	return float64(on) / float64(total)
}

// ApplyMask blacks out everything outside the mask.
func ApplyMask(img image.Image, mask *image.Gray) *image.NRGBA {
	src := imaging.Clone(img)
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y == 0 {
				src.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
	}
	return src
}

// simulatedMask draws a centered circle about a third of the frame across,
// standing in for model inference in development.
func simulatedMask(bounds image.Rectangle) *image.Gray {
	w, h := bounds.Dx(), bounds.Dy()
	mask := image.NewGray(image.Rect(0, 0, w, h))
	cx, cy := w/2, h/2
	r := min(w, h) / 3
	r2 := r * r
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r2 {
				mask.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return mask
}
