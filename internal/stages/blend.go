package stages

import (
	"errors"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ErrDegenerateMask signals that a mask cannot drive seamless cloning (empty,
// or placing the clone region outside the composite). Callers fall back to
// alpha compositing for that one blend step.
var ErrDegenerateMask = errors.New("stages: degenerate blend mask")

// MaskCentroid computes the center of mass of the set mask pixels. An empty
// mask centers on the image.
func MaskCentroid(mask *image.Gray) image.Point {
	b := mask.Bounds()
	var sumX, sumY, n int64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y > 0 {
				sumX += int64(x)
				sumY += int64(y)
				n++
			}
		}
	}
	if n == 0 {
		return image.Pt(b.Dx()/2, b.Dy()/2)
	}
	return image.Pt(int(sumX/n), int(sumY/n))
}

// FeatherMask softens mask edges so blends read smoothly instead of cutting a
// hard silhouette.
func FeatherMask(mask *image.Gray, sigma float64) *image.Gray {
	return toGray(imaging.Blur(mask, sigma))
}

// AlphaBlend composites overlay onto base weighted by the mask:
// result = base*(1-a) + overlay*a with a = mask/255. Overlay and mask are
// resized to the base dimensions if they disagree.
func AlphaBlend(base, overlay image.Image, mask *image.Gray) *image.NRGBA {
	dst := imaging.Clone(base)
	b := dst.Bounds()
	ov := imaging.Clone(overlay)
	if ov.Bounds().Dx() != b.Dx() || ov.Bounds().Dy() != b.Dy() {
		ov = imaging.Resize(ov, b.Dx(), b.Dy(), imaging.Lanczos)
	}
	m := mask
	if m.Bounds().Dx() != b.Dx() || m.Bounds().Dy() != b.Dy() {
		m = toGray(imaging.Resize(m, b.Dx(), b.Dy(), imaging.Linear))
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			a := int(m.GrayAt(x, y).Y)
			if a == 0 {
				continue
			}
			bp := dst.NRGBAAt(x, y)
			op := ov.NRGBAAt(x, y)
			dst.SetNRGBA(x, y, color.NRGBA{
				R: mix(bp.R, op.R, a),
				G: mix(bp.G, op.G, a),
				B: mix(bp.B, op.B, a),
				A: 255,
			})
		}
	}
	return dst
}

// SeamlessClone clones the masked overlay region onto base centered at the
// given point, correcting the overlay's tone toward the surrounding base
// colors before feather-compositing so the seam disappears. It is the
// gradient-domain blend of the fusion pipeline; a mask it cannot work with
// returns ErrDegenerateMask and the caller decides the fallback per step.
func SeamlessClone(base, overlay image.Image, mask *image.Gray, center image.Point) (*image.NRGBA, error) {
	region := maskBounds(mask)
	if region.Empty() {
		return nil, ErrDegenerateMask
	}

	dst := imaging.Clone(base)
	db := dst.Bounds()
	offset := image.Pt(center.X-region.Dx()/2, center.Y-region.Dy()/2)
	target := image.Rect(offset.X, offset.Y, offset.X+region.Dx(), offset.Y+region.Dy())
	if !target.Overlaps(db) {
		return nil, ErrDegenerateMask
	}

	ov := imaging.Clone(overlay)
	srcMean, n := meanInMask(ov, mask)
	if n == 0 {
		return nil, ErrDegenerateMask
	}
	dstMean := meanInRect(dst, target.Intersect(db))

	// Mixed-gradient approximation: shift the overlay's masked tones toward
	// the destination neighborhood, then feather the seam.
	shiftR := int(dstMean[0]) - int(srcMean[0])
	shiftG := int(dstMean[1]) - int(srcMean[1])
	shiftB := int(dstMean[2]) - int(srcMean[2])
	soft := FeatherMask(mask, 4.0)

	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			a := int(soft.GrayAt(x, y).Y)
			if a == 0 {
				continue
			}
			tx, ty := x-region.Min.X+offset.X, y-region.Min.Y+offset.Y
			if !image.Pt(tx, ty).In(db) {
				continue
			}
			op := ov.NRGBAAt(x, y)
			corrected := color.NRGBA{
				R: clampU8(int(op.R) + shiftR/2),
				G: clampU8(int(op.G) + shiftG/2),
				B: clampU8(int(op.B) + shiftB/2),
				A: 255,
			}
			bp := dst.NRGBAAt(tx, ty)
			dst.SetNRGBA(tx, ty, color.NRGBA{
				R: mix(bp.R, corrected.R, a),
				G: mix(bp.G, corrected.G, a),
				B: mix(bp.B, corrected.B, a),
				A: 255,
			})
		}
	}
	return dst, nil
}

func mix(base, over uint8, alpha int) uint8 {
	return uint8((int(base)*(255-alpha) + int(over)*alpha) / 255)
}

func clampU8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func meanInMask(img *image.NRGBA, mask *image.Gray) ([3]uint8, int) {
	b := img.Bounds()
	var r, g, bl, n int64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y == 0 {
				continue
			}
			px := img.NRGBAAt(x, y)
			r += int64(px.R)
			g += int64(px.G)
			bl += int64(px.B)
			n++
		}
	}
	if n == 0 {
		return [3]uint8{}, 0
	}
	return [3]uint8{uint8(r / n), uint8(g / n), uint8(bl / n)}, int(n)
}

func meanInRect(img *image.NRGBA, rect image.Rectangle) [3]uint8 {
	var r, g, b, n int64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			px := img.NRGBAAt(x, y)
			r += int64(px.R)
			g += int64(px.G)
			b += int64(px.B)
			n++
		}
	}
	if n == 0 {
		return [3]uint8{128, 128, 128}
	}
	return [3]uint8{uint8(r / n), uint8(g / n), uint8(b / n)}
}

func averageColor(img image.Image) color.NRGBA {
	c := imaging.Clone(img)
	mean := meanInRect(c, c.Bounds())
	return color.NRGBA{R: mean[0], G: mean[1], B: mean[2], A: 255}
}
