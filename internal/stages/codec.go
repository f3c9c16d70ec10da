// Package stages is the pure transformation library consumed by the worker
// runtime. Every function here is callable without any network, queue or
// database dependency; failures surface as classified job errors.
package stages

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/jbellot/iris-art/internal/domain"
)

// JPEG qualities used across pipelines: previews and thumbnails trade quality
// for size, results and HD exports keep detail.
const (
	JPEGQualityThumb  = 70
	JPEGQualityResult = 90
	JPEGQualityExport = 95
)

// Decode parses stored image bytes. An undecodable input is a quality issue:
// retrying cannot make corrupt bytes valid.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.QualityError(
			"Failed to decode image",
			"Re-upload the photo in JPEG or PNG format.",
		)
	}
	return img, nil
}

// EncodeJPEG serializes an image as JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeMaskPNG serializes a binary mask losslessly.
func EncodeMaskPNG(mask *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, mask); err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMask parses a stored mask, converting to grayscale if needed.
func DecodeMask(data []byte) (*image.Gray, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.QualityError(
			"Failed to decode mask",
			"Reprocess the source photo before blending.",
		)
	}
	return toGray(img), nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return out
}
