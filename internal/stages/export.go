package stages

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// HDExportSide is the square output side of an HD export.
const HDExportSide = 2048

// Upscale resizes to the HD export square with Lanczos resampling. As with
// Enhance, a super-resolution model replaces this path when deployed.
func Upscale(img image.Image, side int) *image.NRGBA {
	return imaging.Resize(img, side, side, imaging.Lanczos)
}

// Watermark tiles a diagonal semi-transparent text pattern across the image.
// The tiling covers the full diagonal so cropping cannot remove it. Paid
// exports skip this stage entirely.
func Watermark(img image.Image, text string) *image.NRGBA {
	base := imaging.Clone(img)
	b := base.Bounds()
	w, h := b.Dx(), b.Dy()

	// Draw the tiled text on an oversized overlay, rotate it 45 degrees, then
	// center-crop back to the image size.
	diag := w + h
	overlay := image.NewNRGBA(image.Rect(0, 0, diag, diag))
	face := basicfont.Face7x13
	drawer := font.Drawer{
		Dst:  overlay,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 80}),
		Face: face,
	}
	textWidth := drawer.MeasureString(text).Ceil()
	xStep := textWidth * 2
	yStep := face.Metrics().Height.Ceil() * 6
	if xStep < 1 {
		xStep = 64
	}
	for y := 0; y < diag; y += yStep {
		for x := 0; x < diag; x += xStep {
			drawer.Dot = fixed.P(x, y)
			drawer.DrawString(text)
		}
	}

	rotated := imaging.Rotate(overlay, 45, color.Transparent)
	cropped := imaging.CropCenter(rotated, w, h)

	// Scale the pattern up so the mark stays legible on HD output; the basic
	// face renders small.
	scale := max(w/640, 1)
	if scale > 1 {
		pattern := imaging.Resize(cropped, w*scale, h*scale, imaging.NearestNeighbor)
		cropped = imaging.CropCenter(pattern, w, h)
	}

	return imaging.OverlayCenter(base, cropped, 1.0)
}
